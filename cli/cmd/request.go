package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/buildlink/archive"
	"github.com/pithecene-io/buildlink/cli/render"
	"github.com/pithecene-io/buildlink/cli/tui"
	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/metrics"
	"github.com/pithecene-io/buildlink/progress"
	"github.com/pithecene-io/buildlink/types"
)

// ListenFlags choose where translated progress events go.
func ListenFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "events", Usage: "Write progress events as JSON lines to a file ('-' for stdout)"},
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Do not print progress"},
	}
}

// request describes one mediated call made by a command.
type request struct {
	kind  types.ActionKind
	model string
	tasks []string
	title string
	call  func(ctx context.Context, conn connection, params *types.OperationParameters) (any, error)
}

// connection is the part of provider.Connection the commands use.
type connection interface {
	RunModel(ctx context.Context, modelName string, params *types.OperationParameters) (any, error)
	RunClientAction(ctx context.Context, clientAction []byte, params *types.OperationParameters) (any, error)
}

// execute runs req once: it wires the progress listeners, archives the
// request and renders the returned value.
func execute(ctx context.Context, c *cli.Context, o *options, req request) error {
	logger := log.Shared().Logger(nil)
	collector := metrics.NewCollector(modeName(o), archiveBackendName(c, o))
	conn := newConnection(o, collector)

	r, err := render.NewRenderer(c)
	if err != nil {
		return types.InvalidRequest(err.Error())
	}

	var listeners []types.ProgressListener
	var live *tui.Progress
	if !c.Bool("quiet") {
		if c.Bool("tui") && render.IsTTY(os.Stderr) {
			live = tui.NewProgress(req.title, tea.WithOutput(os.Stderr))
			listeners = append(listeners, live)
		} else {
			listeners = append(listeners, render.NewProgressWriter(os.Stderr, r.NoColor()))
		}
	}

	var events *progress.JSONLines
	if path := c.String("events"); path != "" {
		w, closeFn, err := openEvents(path)
		if err != nil {
			return err
		}
		defer closeFn()
		events = progress.NewJSONLines(w)
		listeners = append(listeners, events)
	}

	recorder, err := openRecorder(ctx, c, o, collector, logger)
	if err != nil {
		return err
	}
	if recorder != nil {
		listeners = append(listeners, recorder)
	}

	var listener types.ProgressListener
	if len(listeners) > 0 {
		listener = progress.NewTee(listeners...)
	}
	params := o.request(req.tasks, listener)
	start := time.Now()
	params.StartTime = &start

	value, runErr := run(ctx, live, func(ctx context.Context) (any, error) {
		return req.call(ctx, conn, params)
	})

	if recorder != nil {
		summary := archive.Summarize(req.kind, req.model, req.tasks, time.Since(start), runErr)
		if err := recorder.Finish(context.WithoutCancel(ctx), summary); err != nil {
			logger.Warn("progress archive incomplete", map[string]any{
				"request_id": recorder.RequestID(),
				"error":      err.Error(),
			})
		}
	}
	if events != nil {
		if err := events.Err(); err != nil {
			logger.Warn("progress event stream failed", map[string]any{"error": err.Error()})
		}
	}
	if runErr != nil {
		return runErr
	}

	if recorder != nil {
		fmt.Fprintf(os.Stderr, "archived request %s\n", recorder.RequestID())
	}
	if value == nil {
		return nil
	}
	return r.Render(value)
}

// run calls fn, driving the live view when there is one. Quitting the view
// cancels the request.
func run(ctx context.Context, live *tui.Progress, fn func(ctx context.Context) (any, error)) (any, error) {
	if live == nil {
		return fn(ctx)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var value any
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		value, err = fn(ctx)
		live.Done(err)
	}()

	uiErr := live.Run()
	if uiErr != nil {
		cancel()
	}
	<-done
	if errors.Is(uiErr, tui.ErrInterrupted) && err == nil {
		err = tui.ErrInterrupted
	}
	return value, err
}

func openEvents(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, types.Configuration(fmt.Sprintf("cannot create events file %s", path), err)
	}
	return f, func() { _ = f.Close() }, nil
}

func modeName(o *options) string {
	if o.params.IsEmbedded() {
		return "embedded"
	}
	return "daemon"
}

func archiveBackendName(c *cli.Context, o *options) string {
	return archiveLocation(c, o.cfg).Backend
}
