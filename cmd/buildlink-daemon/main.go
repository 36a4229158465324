// Package main provides the buildlink-daemon entrypoint.
//
// It serves build requests over a unix socket until stopped, idle for its
// idle timeout, or interrupted. It takes the flags of `buildlink daemon serve`.
//
// Usage:
//
//	buildlink-daemon [--daemon-base-dir <dir>] [--admin-addr <addr>] [options]
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/buildlink/cli/cmd"
	"github.com/pithecene-io/buildlink/types"
)

func main() {
	serve := cmd.ServeCommand()
	app := &cli.App{
		Name:           "buildlink-daemon",
		Usage:          serve.Usage,
		Version:        types.Version,
		Flags:          serve.Flags,
		Action:         serve.Action,
		ExitErrHandler: exitErrHandler,
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(2)
	}
}

func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(2)
}
