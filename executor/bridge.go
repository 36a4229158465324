package executor

import (
	"context"

	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/types"
)

// LoggingBridge starts a logging context before delegating and stops it
// afterwards, so everything the wrapped chain logs (including connection
// setup) goes through that context.
type LoggingBridge struct {
	logging *log.Context
	next    Executor
}

// NewLoggingBridge wraps next with logging context lc.
func NewLoggingBridge(lc *log.Context, next Executor) *LoggingBridge {
	return &LoggingBridge{logging: lc, next: next}
}

// Execute implements Executor.
func (b *LoggingBridge) Execute(ctx context.Context, action types.BuildAction, req *Request, params *types.OperationParameters) (*types.ExecutionResult, error) {
	b.logging.Start()
	defer b.logging.Stop()

	bound := *req
	bound.Logger = b.logging.Logger(&req.Meta)

	bound.Logger.Debug("execution started", map[string]any{
		"action": string(action.Kind()),
	})
	result, err := b.next.Execute(ctx, action, &bound, params)
	if err != nil {
		bound.Logger.Error("execution failed", map[string]any{
			"error": err.Error(),
			"kind":  string(types.KindOf(err)),
		})
		return nil, err
	}
	bound.Logger.Debug("execution finished", map[string]any{
		"failure": result.IsFailure(),
	})
	return result, nil
}

// Context returns the logging context the bridge starts.
func (b *LoggingBridge) Context() *log.Context {
	return b.logging
}
