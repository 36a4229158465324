package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/buildlink/action"
	"github.com/pithecene-io/buildlink/layout"
	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/types"
	"github.com/pithecene-io/buildlink/watch"
)

// defaultWatchIgnore skips directories a build rewrites on every run.
var defaultWatchIgnore = []string{".git", "build", ".buildlink", ".gradle"}

// RunCommand returns the run command.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run tasks and optionally fetch a model",
		ArgsUsage: "[task...]",
		Description: `Runs the given tasks through a build daemon, or in this process with
--embedded, and prints the requested model. With --watch the request is
repeated whenever a file below the build root changes.

Examples:
  buildlink run test
  buildlink run --model BuildEnvironment
  buildlink run -m project check --events events.jsonl
  buildlink run test --watch`,
		Flags: concat(
			[]cli.Flag{
				&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "Model to fetch after the tasks run"},
				&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "Rerun when files below the build root change"},
				&cli.StringSliceFlag{Name: "watch-ignore", Usage: "Base name pattern to ignore while watching (repeatable)", Value: cli.NewStringSlice(defaultWatchIgnore...)},
			},
			RequestFlags(), ListenFlags(), ArchiveFlags(), OutputFlags(),
		),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	o, err := loadOptions(c)
	if err != nil {
		return exitErr(err)
	}
	req := modelRequest(c.String("model"), c.Args().Slice())

	ctx, cancel := signalContext()
	defer cancel()

	if !c.Bool("watch") {
		return exitErr(execute(ctx, c, o, req))
	}
	return exitErr(watchLoop(ctx, c, o, req))
}

// modelRequest fetches model after tasks. No positional tasks means no task list.
func modelRequest(model string, tasks []string) request {
	model = action.DefaultModels.Canonical(model)
	if len(tasks) == 0 {
		tasks = nil
	}
	title := strings.Join(tasks, " ")
	if model != types.NullModel {
		title = strings.TrimSpace(title + " → " + model)
	}
	return request{
		kind:  types.ActionKindFetchModel,
		model: model,
		tasks: tasks,
		title: title,
		call: func(ctx context.Context, conn connection, params *types.OperationParameters) (any, error) {
			return conn.RunModel(ctx, model, params)
		},
	}
}

// watchLoop runs req, then reruns it after each burst of changes below the
// build root until ctx ends. Failed runs are reported and the loop goes on;
// only a request the mediator rejects stops it.
func watchLoop(ctx context.Context, c *cli.Context, o *options, req request) error {
	logger := log.Shared().Logger(nil)
	svc, err := watch.NewService(watch.DetectCapability(), watch.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = svc.Stop() }()

	l, err := layout.Discover(o.params)
	if err != nil {
		return err
	}

	changed := make(chan struct{}, 1)
	if _, err := svc.Watch(watch.Inputs{
		Directories: []string{l.RootDir},
		Ignore:      c.StringSlice("watch-ignore"),
	}, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}); err != nil {
		return err
	}

	for {
		if err := execute(ctx, c, o, req); err != nil {
			switch types.KindOf(err) {
			case types.KindInvalidRequest, types.KindConfiguration:
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		}
		fmt.Fprintf(os.Stderr, "watching %s for changes (Ctrl+C to stop)\n", l.RootDir)

		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
	}
}
