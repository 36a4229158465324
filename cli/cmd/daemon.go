package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/buildlink/adapter"
	"github.com/pithecene-io/buildlink/adapter/nats"
	"github.com/pithecene-io/buildlink/adapter/redis"
	"github.com/pithecene-io/buildlink/adapter/webhook"
	"github.com/pithecene-io/buildlink/cli/config"
	"github.com/pithecene-io/buildlink/cli/render"
	"github.com/pithecene-io/buildlink/daemon"
	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/metrics"
	"github.com/pithecene-io/buildlink/provider"
	"github.com/pithecene-io/buildlink/runtime"
	"github.com/pithecene-io/buildlink/types"
)

// adminShutdownTimeout bounds the admin server's graceful shutdown.
const adminShutdownTimeout = 5 * time.Second

// DaemonCommand returns the daemon command group.
func DaemonCommand() *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "Manage the build daemon",
		Subcommands: []*cli.Command{
			ServeCommand(),
			daemonStatusCommand(),
			daemonStopCommand(),
		},
	}
}

// ServeCommand returns the command running a daemon in the foreground.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run a build daemon in the foreground",
		Description: `Registers a daemon for the resolved daemon base directory and serves
requests until stopped, idle for the idle timeout, or interrupted.`,
		Flags: concat(
			[]cli.Flag{
				&cli.StringFlag{Name: "socket", Usage: "Unix socket path (default: <daemon-base-dir>/daemon.sock)"},
				&cli.StringFlag{Name: "admin-addr", Usage: "Listen address of the health and metrics endpoints (e.g. 127.0.0.1:9464)"},
				&cli.StringFlag{Name: "adapter", Usage: "Completion notifications: webhook, redis or nats"},
				&cli.StringFlag{Name: "adapter-url", Usage: "Endpoint of the notification adapter"},
				&cli.StringFlag{Name: "adapter-channel", Usage: "Redis channel or NATS subject"},
				&cli.StringSliceFlag{Name: "adapter-header", Usage: "Webhook header as Key=Value (repeatable)"},
				&cli.DurationFlag{Name: "adapter-timeout", Usage: "Per-publish timeout"},
				&cli.IntFlag{Name: "adapter-retries", Usage: "Publish retries", Value: -1},
				&cli.Int64Flag{Name: "adapter-history", Usage: "Recent events kept in a redis list (redis only)"},
			},
			RequestFlags(),
		),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	o, err := loadOptions(c)
	if err != nil {
		return exitErr(err)
	}
	logging := log.Shared()
	level := types.LogLevelInfo
	if o.verbose {
		level = types.LogLevelDebug
	}
	logging.SetLevel(level)
	logging.Start()
	logger := logging.Logger(nil)

	params, err := daemonParameters(o)
	if err != nil {
		return exitErr(err)
	}

	notifier, err := buildAdapter(adapterConfig(c, o.cfg))
	if err != nil {
		return exitErr(types.Configuration("invalid notification adapter", err))
	}
	if notifier != nil {
		defer func() { _ = notifier.Close() }()
	}

	collector := metrics.NewCollector("daemon", "")
	srv, err := daemon.NewServer(daemon.ServerConfig{
		Params: params,
		Backend: &runtime.ProcessBackend{
			ToolPath:  o.toolPath,
			Args:      o.toolArgs,
			Collector: collector,
		},
		Logging:    logging,
		Collector:  collector,
		Notifier:   notifier,
		SocketPath: c.String("socket"),
	})
	if err != nil {
		return exitErr(err)
	}
	if err := srv.Listen(); err != nil {
		return exitErr(types.Configuration("cannot start daemon", err))
	}

	ctx, cancel := signalContext()
	defer cancel()

	if addr := pick(c.String("admin-addr"), o.cfg.Daemon.AdminAddr); addr != "" {
		admin := &http.Server{
			Addr:              addr,
			Handler:           daemon.NewAdminHandler(srv, collector),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server failed", map[string]any{"addr": addr, "error": err.Error()})
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
			defer cancel()
			_ = admin.Shutdown(shutdownCtx)
		}()
		logger.Info("admin endpoints listening", map[string]any{"addr": addr})
	}

	logger.Info("daemon serving", map[string]any{
		"socket":       srv.Socket(),
		"base_dir":     params.BaseDir,
		"idle_timeout": params.IdleTimeout().String(),
	})
	return exitErr(srv.Serve(ctx))
}

// daemonParameters resolves the daemon settings the way a request would.
func daemonParameters(o *options) (*daemon.Parameters, error) {
	cfg, err := (&provider.Resolver{}).Resolve(o.params)
	if err != nil {
		return nil, err
	}
	return cfg.DaemonParameters(), nil
}

// adapterConfig reads the adapter flags over the config file.
func adapterConfig(c *cli.Context, cfg *config.Config) config.AdapterConfig {
	a := cfg.Adapter
	a.Type = pick(c.String("adapter"), a.Type)
	a.URL = pick(c.String("adapter-url"), a.URL)
	a.Channel = pick(c.String("adapter-channel"), a.Channel)
	if d := c.Duration("adapter-timeout"); d > 0 {
		a.Timeout = config.Duration{Duration: d}
	}
	if n := c.Int("adapter-retries"); n >= 0 {
		a.Retries = &n
	}
	if n := c.Int64("adapter-history"); n > 0 {
		a.History = n
	}
	if headers := c.StringSlice("adapter-header"); len(headers) > 0 {
		a.Headers = parseHeaders(headers, a.Headers)
	}
	return a
}

// buildAdapter returns the configured notifier, or nil when none is configured.
func buildAdapter(a config.AdapterConfig) (adapter.Adapter, error) {
	if a.Type == "" {
		return nil, nil
	}
	if a.URL == "" {
		return nil, fmt.Errorf("%s adapter requires a URL", a.Type)
	}
	retries := func(def int) int {
		if a.Retries != nil {
			return *a.Retries
		}
		return def
	}
	switch a.Type {
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     a.URL,
			Headers: a.Headers,
			Timeout: a.Timeout.Duration,
			Retries: retries(webhook.DefaultRetries),
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     a.URL,
			Channel: a.Channel,
			History: a.History,
			Timeout: a.Timeout.Duration,
			Retries: retries(redis.DefaultRetries),
		})
	case "nats":
		return nats.New(nats.Config{
			URL:     a.URL,
			Subject: a.Channel,
			Timeout: a.Timeout.Duration,
			Retries: retries(0),
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q (must be webhook, redis or nats)", a.Type)
	}
}

func parseHeaders(flags []string, base map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(flags))
	for k, v := range base {
		out[k] = v
	}
	for _, h := range flags {
		if k, v, ok := strings.Cut(h, "="); ok {
			out[k] = v
		}
	}
	return out
}

// daemonStatus is what `daemon status` reports.
type daemonStatus struct {
	Running   bool     `json:"running" yaml:"running"`
	Healthy   bool     `json:"healthy" yaml:"healthy"`
	PID       int      `json:"pid,omitempty" yaml:"pid,omitempty"`
	Version   string   `json:"version,omitempty" yaml:"version,omitempty"`
	Socket    string   `json:"socket,omitempty" yaml:"socket,omitempty"`
	BaseDir   string   `json:"base_dir" yaml:"base_dir"`
	Age       string   `json:"age,omitempty" yaml:"age,omitempty"`
	JvmArgs   []string `json:"jvm_args,omitempty" yaml:"jvm_args,omitempty"`
	IdleLimit string   `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`
	Problem   string   `json:"problem,omitempty" yaml:"problem,omitempty"`
}

func daemonStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show the daemon registered for the daemon base directory",
		Flags:  concat(RequestFlags(), OutputFlags()),
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	o, err := loadOptions(c)
	if err != nil {
		return exitErr(err)
	}
	params, err := daemonParameters(o)
	if err != nil {
		return exitErr(err)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return exitErr(types.InvalidRequest(err.Error()))
	}

	status := daemonStatus{BaseDir: params.BaseDir}
	info, err := daemon.NewRegistry(params).Read()
	switch {
	case errors.Is(err, daemon.ErrNoDaemon):
		return exitErr(r.Render(status))
	case err != nil:
		return exitErr(types.Connection("cannot read daemon registry", err))
	}
	status.Running = true
	status.PID = info.PID
	status.Version = info.Version
	status.Socket = info.Socket
	status.JvmArgs = info.JvmArgs
	status.Age = info.Age(time.Now()).Round(time.Second).String()
	status.IdleLimit = (time.Duration(info.IdleTimeoutMs) * time.Millisecond).String()

	conn, err := (&daemon.SocketConnector{}).Connect(c.Context, log.NewNopLogger(), params, nil)
	if err != nil {
		status.Problem = err.Error()
	} else {
		status.Healthy = true
		_ = conn.Close()
	}
	return exitErr(r.Render(status))
}

func daemonStopCommand() *cli.Command {
	return &cli.Command{
		Name:   "stop",
		Usage:  "Ask the registered daemon to shut down",
		Flags:  RequestFlags(),
		Action: stopAction,
	}
}

// stopper is implemented by daemon connections that can request shutdown.
type stopper interface {
	Stop() error
}

func stopAction(c *cli.Context) error {
	o, err := loadOptions(c)
	if err != nil {
		return exitErr(err)
	}
	params, err := daemonParameters(o)
	if err != nil {
		return exitErr(err)
	}
	conn, err := (&daemon.SocketConnector{}).Connect(c.Context, log.NewNopLogger(), params, nil)
	if err != nil {
		return exitErr(err)
	}
	defer func() { _ = conn.Close() }()

	s, ok := conn.(stopper)
	if !ok {
		return exitErr(types.Connection("daemon connection cannot request shutdown", nil))
	}
	if err := s.Stop(); err != nil {
		return exitErr(types.Connection("stop request failed", err))
	}
	fmt.Fprintf(os.Stderr, "stop requested for daemon in %s\n", params.BaseDir)
	return nil
}
