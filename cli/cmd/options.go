package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/buildlink/archive"
	"github.com/pithecene-io/buildlink/cli/config"
	"github.com/pithecene-io/buildlink/iox"
	"github.com/pithecene-io/buildlink/lode"
	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/metrics"
	"github.com/pithecene-io/buildlink/policy"
	"github.com/pithecene-io/buildlink/provider"
	"github.com/pithecene-io/buildlink/runtime"
	"github.com/pithecene-io/buildlink/types"
)

// defaultTool is the build tool binary looked up on PATH.
const defaultTool = "buildlink-tool"

// options are the resolved inputs of one command invocation.
type options struct {
	cfg      *config.Config
	params   *types.OperationParameters
	verbose  bool
	toolPath string
	toolArgs []string
}

// loadOptions merges buildlink.yaml with the command's flags.
// Flags win; values absent from both keep their documented defaults.
func loadOptions(c *cli.Context) (*options, error) {
	projectDir := c.String("project-dir")
	cfgPath := c.String("config")
	if cfgPath == "" {
		dir := projectDir
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return nil, types.Configuration("cannot determine working directory", err)
			}
			dir = wd
		}
		cfgPath = config.Discover(dir)
	}

	cfg := &config.Config{}
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return nil, types.Configuration("cannot load config", err)
		}
		cfg = loaded
	}

	p := &types.OperationParameters{}
	p.ProjectDir = optString(pick(projectDir, cfg.ProjectDir))
	p.UserHomeDir = optString(pick(c.String("user-home"), cfg.UserHome))
	p.JavaHome = optString(pick(c.String("java-home"), cfg.JavaHome))
	p.DaemonBaseDir = optString(pick(c.String("daemon-base-dir"), cfg.Daemon.BaseDir))

	switch {
	case c.Bool("no-search-upwards"):
		p.SearchUpwards = optBool(false)
	case cfg.SearchUpwards != nil:
		p.SearchUpwards = optBool(*cfg.SearchUpwards)
	}

	switch {
	case c.IsSet("embedded"):
		p.Embedded = optBool(c.Bool("embedded"))
	case cfg.Embedded:
		p.Embedded = optBool(true)
	}

	p.JvmArguments = c.StringSlice("jvm-arg")
	if len(p.JvmArguments) == 0 {
		p.JvmArguments = cfg.JvmArgs
	}

	idle := c.Duration("daemon-idle-timeout")
	if idle == 0 {
		idle = cfg.Daemon.IdleTimeout.Duration
	}
	if idle > 0 {
		value, unit := idle.Milliseconds(), types.Milliseconds
		p.DaemonIdleTimeoutValue, p.DaemonIdleTimeoutUnit = &value, &unit
	}

	if level := pick(c.String("log-level"), string(cfg.LogLevel)); level != "" {
		parsed, err := parseLogLevel(level)
		if err != nil {
			return nil, err
		}
		p.BuildLogLevel = &parsed
	}

	p.Arguments = append(append([]string(nil), cfg.Arguments...), c.StringSlice("arg")...)
	if c.Bool("stdin") {
		// One relay for every watch rerun.
		p.StandardInput = iox.NewRelay(os.Stdin)
	}

	toolArgs := c.StringSlice("tool-arg")
	if len(toolArgs) == 0 {
		toolArgs = cfg.Tool.Args
	}
	return &options{
		cfg:      cfg,
		params:   p,
		verbose:  c.Bool("verbose"),
		toolPath: pick(c.String("tool"), cfg.Tool.Path, defaultTool),
		toolArgs: toolArgs,
	}, nil
}

// request returns a copy of the base parameters carrying per-request values.
// A nil tasks slice means no task list was supplied.
func (o *options) request(tasks []string, listener types.ProgressListener) *types.OperationParameters {
	p := *o.params
	if tasks != nil {
		p.Tasks = &tasks
	}
	p.ProgressListener = listener
	return &p
}

// newConnection builds the connection serving a command. Tests replace it.
var newConnection = func(o *options, collector *metrics.Collector) *provider.Connection {
	conn := provider.NewConnection(provider.Config{
		Embedded: &runtime.ProcessBackend{
			ToolPath:  o.toolPath,
			Args:      o.toolArgs,
			Collector: collector,
		},
		Collector: collector,
	})
	conn.Configure(provider.ConnectionParameters{VerboseLogging: o.verbose})
	return conn
}

// archiveLocation reads the archive flags over the config file.
func archiveLocation(c *cli.Context, cfg *config.Config) lode.Location {
	a := cfg.Archive
	return lode.Location{
		Backend: pick(c.String("archive-backend"), a.Backend, lode.BackendNone),
		Path:    pick(c.String("archive-path"), a.Path),
		S3: lode.S3Config{
			Region:       pick(c.String("archive-region"), a.Region),
			Endpoint:     pick(c.String("archive-endpoint"), a.Endpoint),
			UsePathStyle: c.Bool("archive-s3-path-style") || a.S3PathStyle,
		},
	}
}

func archiveConfig(cfg *config.Config) lode.Config {
	host, _ := os.Hostname()
	return lode.Config{Dataset: cfg.Archive.Dataset, Host: host}
}

// openRecorder returns a recorder for one request, or nil when archiving is off.
func openRecorder(ctx context.Context, c *cli.Context, o *options, collector *metrics.Collector, logger *log.Logger) (*archive.Recorder, error) {
	loc := archiveLocation(c, o.cfg)
	if !loc.Enabled() {
		return nil, nil
	}
	client, err := lode.Open(ctx, archiveConfig(o.cfg), loc)
	if err != nil {
		return nil, types.Configuration("cannot open progress archive", err)
	}

	pc := o.cfg.Policy
	interval := c.Duration("flush-interval")
	if interval == 0 {
		interval = pc.FlushInterval.Duration
	}
	pol, err := policy.New(policy.Config{
		Name:             pick(c.String("policy"), pc.Name),
		MaxBufferEntries: pickInt(c.Int("buffer-entries"), pc.BufferEntries),
		MaxBufferBytes:   pickInt(c.Int64("buffer-bytes"), pc.BufferBytes),
		FlushCount:       pickInt(c.Int("flush-count"), pc.FlushCount),
		FlushInterval:    interval,
		Logger:           logger,
	}, lode.NewInstrumentedSink(lode.NewSink(client), collector))
	if err != nil {
		_ = client.Close()
		return nil, types.Configuration("invalid archive policy", err)
	}
	return archive.NewRecorder(pol, uuid.NewString(), archive.Options{Logger: logger}), nil
}

// signalContext is cancelled on SIGINT or SIGTERM. Cancellation reaches the
// build as a cancellation request.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func parseLogLevel(s string) (types.LogLevel, error) {
	switch l := types.LogLevel(strings.ToLower(s)); l {
	case types.LogLevelDebug, types.LogLevelInfo, types.LogLevelWarn, types.LogLevelError:
		return l, nil
	default:
		return "", types.Configuration(fmt.Sprintf("invalid log level %q (must be debug, info, warn or error)", s), nil)
	}
}

// pick returns the first non-empty value.
func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func pickInt[T int | int64](flag, cfg T) T {
	if flag != 0 {
		return flag
	}
	return cfg
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optBool(b bool) *bool {
	return &b
}
