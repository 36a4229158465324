package runtime

import (
	"context"
	"io"
	"time"

	"github.com/pithecene-io/buildlink/executor"
	"github.com/pithecene-io/buildlink/metrics"
	"github.com/pithecene-io/buildlink/payload"
	"github.com/pithecene-io/buildlink/types"
)

// Tool abstracts the build tool process lifecycle for testing.
type Tool interface {
	Start(ctx context.Context) error
	Stdout() io.Reader
	Wait() (*ToolResult, error)
	Interrupt() error
	Kill() error
}

// ToolFactory creates a Tool. Used for test injection.
type ToolFactory func(config *ToolConfig) Tool

// DefaultInterruptGrace is how long a tool may take to stop after an interrupt
// before it is killed.
const DefaultInterruptGrace = 10 * time.Second

// ProcessBackend is a BackendExecutor running each action in a fresh build
// tool process. It serves embedded requests in the mediator's process and
// daemon requests inside the daemon.
type ProcessBackend struct {
	// ToolPath is the path to the build tool binary.
	ToolPath string
	// Args are extra tool arguments.
	Args []string
	// Collector records tool outcomes. May be nil.
	Collector *metrics.Collector
	// Serializer encodes synthesized failures. Default: payload.Default().
	Serializer *payload.Serializer
	// ToolFactory overrides tool creation (for testing).
	// If nil, uses NewToolManager.
	ToolFactory ToolFactory
	// InterruptGrace overrides DefaultInterruptGrace.
	InterruptGrace time.Duration
}

// Execute implements executor.BackendExecutor.
//
// Execution flow:
//  1. Start the tool process
//  2. Run frame ingestion (concurrent) while watching for cancellation
//  3. Wait for tool exit
//  4. Determine the outcome
func (b *ProcessBackend) Execute(ctx context.Context, action types.BuildAction, req *executor.Request, params *types.BuildActionParameters) (*types.ExecutionResult, error) {
	logger := req.Log()
	serializer := b.Serializer
	if serializer == nil {
		serializer = payload.Default()
	}

	envelope, err := types.WrapAction(action)
	if err != nil {
		return nil, types.InvalidRequest(err.Error())
	}

	config := &ToolConfig{
		ToolPath: b.ToolPath,
		Args:     b.Args,
		Meta:     req.Meta,
		Action:   envelope,
		Params:   params,
	}
	var tool Tool
	if b.ToolFactory != nil {
		tool = b.ToolFactory(config)
	} else {
		tool = NewToolManager(config)
	}

	started := time.Now()
	logger.Info("starting build tool", map[string]any{
		"tool":   b.ToolPath,
		"action": string(action.Kind()),
		"dir":    params.CurrentDir,
	})
	if err := tool.Start(ctx); err != nil {
		b.Collector.IncToolLaunchFailure()
		logger.Error("failed to start build tool", map[string]any{"error": err.Error()})
		return nil, types.Execution("failed to start build tool", err)
	}
	b.Collector.IncToolLaunchSuccess()

	ingestion := NewIngestionEngine(tool.Stdout(), req.Events, logger, b.Collector)
	ingestionDone := make(chan error, 1)
	go func() {
		ingestionDone <- ingestion.Run()
	}()

	// Ingestion must finish before Wait: Wait closes the stdout pipe.
	cancelled := false
	var ingErr error
	select {
	case ingErr = <-ingestionDone:
	case <-ctx.Done():
		cancelled = true
		logger.Info("interrupting build tool", map[string]any{"reason": ctx.Err().Error()})
		_ = tool.Interrupt()
		grace := b.InterruptGrace
		if grace <= 0 {
			grace = DefaultInterruptGrace
		}
		timer := time.NewTimer(grace)
		select {
		case ingErr = <-ingestionDone:
			timer.Stop()
		case <-timer.C:
			logger.Warn("build tool ignored interrupt, killing", nil)
			_ = tool.Kill()
			ingErr = <-ingestionDone
		}
	}

	if ingErr != nil {
		logger.Warn("killing build tool due to stream error", map[string]any{"error": ingErr.Error()})
		_ = tool.Kill()
	}

	toolResult, waitErr := tool.Wait()
	if waitErr != nil {
		logger.Error("build tool wait failed", map[string]any{"error": waitErr.Error()})
		b.Collector.IncToolCrash()
		return nil, types.Execution("build tool wait failed", waitErr)
	}

	var outcome *Outcome
	if ingErr != nil && !cancelled {
		outcome = crash(serializer, "build tool stream error: "+ingErr.Error(), toolResult.StderrBytes)
	} else {
		outcome = DetermineOutcome(serializer, toolResult.ExitCode, ingestion.Result(), cancelled, toolResult.StderrBytes)
	}
	if outcome.Crashed {
		b.Collector.IncToolCrash()
	}

	logger.Info("build tool finished", map[string]any{
		"exit_code": toolResult.ExitCode,
		"events":    ingestion.EventCount(),
		"cancelled": cancelled,
		"failed":    outcome.Err != nil || outcome.Result.IsFailure(),
		"duration":  time.Since(started).String(),
	})
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	return outcome.Result, nil
}

var _ executor.BackendExecutor = (*ProcessBackend)(nil)
