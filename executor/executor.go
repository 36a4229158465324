// Package executor defines the backend executor contracts and the logging
// bridge that wraps every executor chain.
//
// An executor chain is assembled innermost-first:
//
//	BackendExecutor (embedded process backend or daemon client)
//	  -> daemon.ParamsExecutor (applies resolved daemon parameters)
//	    -> LoggingBridge (starts/stops the logging context around the call)
package executor

import (
	"context"

	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/types"
)

// EventConsumer receives backend progress events.
//
// Dispatch is called synchronously from whatever goroutine the backend emits
// on, possibly concurrently. The event is only valid for the duration of the
// call. A returned error fails that dispatch only; backends log it and keep going.
type EventConsumer interface {
	Dispatch(event any) error
}

// EventConsumerFunc adapts a function to EventConsumer.
type EventConsumerFunc func(event any) error

// Dispatch calls f(event).
func (f EventConsumerFunc) Dispatch(event any) error {
	return f(event)
}

// Request is the per-request context handed down the executor chain.
type Request struct {
	// Meta identifies the request.
	Meta types.RequestMeta
	// Events receives backend progress events. Never nil once the mediator
	// has built the request.
	Events EventConsumer
	// Logger is bound to the request's logging context by the LoggingBridge.
	Logger *log.Logger
}

// Log returns the request logger, or a no-op logger when none is bound.
func (r *Request) Log() *log.Logger {
	if r == nil || r.Logger == nil {
		return log.NewNopLogger()
	}
	return r.Logger
}

// BackendExecutor executes a build action with concrete parameters.
//
// Execute is total with respect to build outcomes: a failed build is encoded
// as a failure payload in the ExecutionResult. The error return is reserved
// for transport failures (the backend could not be reached or started).
// ctx is the cancellation signal; backends stop cooperatively when it is done.
type BackendExecutor interface {
	Execute(ctx context.Context, action types.BuildAction, req *Request, params *types.BuildActionParameters) (*types.ExecutionResult, error)
}

// BackendExecutorFunc adapts a function to BackendExecutor.
type BackendExecutorFunc func(ctx context.Context, action types.BuildAction, req *Request, params *types.BuildActionParameters) (*types.ExecutionResult, error)

// Execute calls f.
func (f BackendExecutorFunc) Execute(ctx context.Context, action types.BuildAction, req *Request, params *types.BuildActionParameters) (*types.ExecutionResult, error) {
	return f(ctx, action, req, params)
}

// Executor executes a build action with the client's operation parameters.
// It is the mediator-facing end of an executor chain.
type Executor interface {
	Execute(ctx context.Context, action types.BuildAction, req *Request, params *types.OperationParameters) (*types.ExecutionResult, error)
}
