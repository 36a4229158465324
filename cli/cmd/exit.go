package cmd

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/buildlink/cli/tui"
	"github.com/pithecene-io/buildlink/types"
)

// Exit codes.
const (
	exitSuccess      = 0
	exitBuildFailure = 1
	exitInternal     = 2
	exitUsage        = 3
	exitInterrupted  = 130
)

// exitCode maps a request error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	if errors.Is(err, tui.ErrInterrupted) {
		return exitInterrupted
	}
	switch types.KindOf(err) {
	case types.KindExecution:
		return exitBuildFailure
	case types.KindInvalidRequest, types.KindConfiguration:
		return exitUsage
	case types.KindCancelled:
		return exitInterrupted
	default:
		return exitInternal
	}
}

// exitErr wraps err in a cli.ExitCoder carrying its exit code.
func exitErr(err error) error {
	if err == nil {
		return nil
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return err
	}
	return cli.Exit(err.Error(), exitCode(err))
}
