package daemon

import (
	"context"
	"io"
	"slices"

	"github.com/pithecene-io/buildlink/executor"
	"github.com/pithecene-io/buildlink/iox"
	"github.com/pithecene-io/buildlink/types"
)

// ParamsExecutor applies resolved daemon parameters to each call, turning the
// client's operation parameters into concrete BuildActionParameters for the
// wrapped backend.
type ParamsExecutor struct {
	params    *Parameters
	useDaemon bool
	next      executor.BackendExecutor
}

// NewParamsExecutor wraps next. params is copied.
func NewParamsExecutor(params *Parameters, useDaemon bool, next executor.BackendExecutor) *ParamsExecutor {
	return &ParamsExecutor{params: params.Clone(), useDaemon: useDaemon, next: next}
}

// BuildParameters derives the concrete parameters of one call.
func (e *ParamsExecutor) BuildParameters(action types.BuildAction, op *types.OperationParameters) *types.BuildActionParameters {
	var stdin io.Reader
	if op != nil {
		stdin = op.StandardInput
	}
	return &types.BuildActionParameters{
		CurrentDir:    action.Start().ProjectDir,
		LogLevel:      op.EffectiveLogLevel(),
		UseDaemon:     e.useDaemon,
		JavaHome:      e.params.JavaHome,
		JvmArgs:       slices.Clone(e.params.JvmArgs),
		IdleTimeoutMs: e.params.IdleTimeoutMs,
		DaemonBaseDir: e.params.BaseDir,
		Stdin:         iox.OrEmpty(stdin),
	}
}

// Execute implements executor.Executor.
func (e *ParamsExecutor) Execute(ctx context.Context, action types.BuildAction, req *executor.Request, op *types.OperationParameters) (*types.ExecutionResult, error) {
	params := e.BuildParameters(action, op)
	req.Log().Debug("daemon parameters applied", map[string]any{
		"use_daemon":      params.UseDaemon,
		"java_home":       params.JavaHome,
		"jvm_args":        params.JvmArgs,
		"idle_timeout_ms": params.IdleTimeoutMs,
	})
	return e.next.Execute(ctx, action, req, params)
}

var _ executor.Executor = (*ParamsExecutor)(nil)
