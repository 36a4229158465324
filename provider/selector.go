package provider

import (
	"io"

	"github.com/pithecene-io/buildlink/daemon"
	"github.com/pithecene-io/buildlink/executor"
	"github.com/pithecene-io/buildlink/iox"
	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/types"
)

// Selection is the executor chain chosen for one request.
type Selection struct {
	// Executor is the outermost executor (the logging bridge).
	Executor executor.Executor
	// Embedded is true when the request runs in the mediator's process.
	Embedded bool

	lazy *daemon.LazyExecutor
}

// Close releases the daemon connection of a daemon-path selection.
func (s *Selection) Close() error {
	if s.lazy == nil {
		return nil
	}
	return s.lazy.Close()
}

// Selector chooses between embedded and daemon execution.
type Selector struct {
	// Shared is the process-wide logging context used by embedded requests.
	Shared *log.Context
	// Embedded is the in-process backend.
	Embedded executor.BackendExecutor
	// Connector opens daemon connections.
	Connector daemon.Connector
}

// Select assembles the executor chain for one request:
//
//	raw executor -> daemon.ParamsExecutor -> executor.LoggingBridge
//
// The embedded path reuses the shared logging context and never touches the
// connector. The daemon path gets a nested logging context at the client's
// build log level and a lazy daemon executor, which connects inside the
// bridge on first Execute.
func (s *Selector) Select(cfg *ResolvedConfiguration, params *types.OperationParameters) (*Selection, error) {
	dp := cfg.DaemonParameters()

	if params.IsEmbedded() {
		if s.Embedded == nil {
			return nil, types.InvalidRequest("embedded execution is not available in this process")
		}
		chain := daemon.NewParamsExecutor(dp, false, s.Embedded)
		return &Selection{
			Executor: executor.NewLoggingBridge(s.Shared, chain),
			Embedded: true,
		}, nil
	}

	var stdin io.Reader
	if params != nil {
		stdin = params.StandardInput
	}
	lazy := daemon.NewLazyExecutor(s.Connector, dp, iox.OrEmpty(stdin))
	chain := daemon.NewParamsExecutor(dp, true, lazy)
	return &Selection{
		Executor: executor.NewLoggingBridge(s.Shared.Nested(params.EffectiveLogLevel()), chain),
		lazy:     lazy,
	}, nil
}
