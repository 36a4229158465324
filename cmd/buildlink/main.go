// Package main provides the buildlink CLI entrypoint.
//
// Usage:
//
//	buildlink <command> [subcommand] [options]
//
// Exit codes:
//   - 0: success
//   - 1: the build failed
//   - 2: internal or daemon connection error
//   - 3: invalid request or configuration
//   - 130: cancelled or interrupted
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/buildlink/cli/cmd"
	"github.com/pithecene-io/buildlink/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "buildlink",
		Usage:          "Mediate build requests to an embedded or daemon backend",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.ActionCommand(),
			cmd.EnvCommand(),
			cmd.DaemonCommand(),
			cmd.LastCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(2)
	}
}

// exitErrHandler preserves exit codes from cli.Exit.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N"; skip those.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(2)
}
