package runtime

import (
	"errors"
	"fmt"
	"io"

	"github.com/pithecene-io/buildlink/executor"
	"github.com/pithecene-io/buildlink/ipc"
	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/metrics"
)

// IngestionError is a stream error on the tool's stdout. Any ingestion error
// means the tool misbehaved; the request outcome is a crash.
type IngestionError struct {
	Err error
}

func (e *IngestionError) Error() string {
	return e.Err.Error()
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// IsStreamError returns true if the error is a stream/frame error.
func IsStreamError(err error) bool {
	var ingErr *IngestionError
	return errors.As(err, &ingErr)
}

// IngestionEngine reads frames from the tool's stdout.
//   - Event frames are decoded and dispatched in order
//   - The first result frame wins; later ones are ignored
//   - Invalid framing is fatal (no resync)
//   - A failed dispatch is logged and does not stop the build
type IngestionEngine struct {
	decoder    *ipc.FrameDecoder
	events     executor.EventConsumer
	logger     *log.Logger
	collector  *metrics.Collector
	result     *ipc.ResultFrame
	eventCount int64
}

// NewIngestionEngine creates a new ingestion engine.
func NewIngestionEngine(reader io.Reader, events executor.EventConsumer, logger *log.Logger, collector *metrics.Collector) *IngestionEngine {
	return &IngestionEngine{
		decoder:   ipc.NewFrameDecoder(reader),
		events:    events,
		logger:    logger,
		collector: collector,
	}
}

// Run runs the ingestion loop until EOF or a fatal error.
//
// Ingestion does not observe cancellation: after an interrupt the tool still
// writes its cancellation result, which must be read.
func (e *IngestionEngine) Run() error {
	for {
		payload, err := e.decoder.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			// Pipe closure after the result frame is normal tool exit.
			if e.result != nil {
				e.logger.Debug("pipe closed after result frame (expected)", map[string]any{
					"error": err.Error(),
				})
				return nil
			}
			e.logger.Error("frame error", map[string]any{"error": err.Error()})
			return &IngestionError{Err: fmt.Errorf("frame error: %w", err)}
		}

		if err := e.processFrame(payload); err != nil {
			return err
		}
	}
}

// processFrame decodes and processes a single frame.
func (e *IngestionEngine) processFrame(payload []byte) error {
	decoded, err := ipc.DecodeFrame(payload)
	if err != nil {
		e.logger.Error("frame decode error", map[string]any{"error": err.Error()})
		e.collector.IncIPCDecodeErrors()
		return &IngestionError{Err: fmt.Errorf("frame decode error: %w", err)}
	}

	switch frame := decoded.(type) {
	case *ipc.EventFrame:
		e.processEvent(frame)
		return nil
	case *ipc.ResultFrame:
		if e.result != nil {
			e.logger.Warn("ignoring duplicate result frame", nil)
			return nil
		}
		e.result = frame
		return nil
	default:
		return &IngestionError{Err: fmt.Errorf("unexpected frame type: %T", decoded)}
	}
}

// processEvent decodes an event and hands it to the consumer.
func (e *IngestionEngine) processEvent(frame *ipc.EventFrame) {
	event, err := ipc.DecodeEvent(frame)
	if err != nil {
		e.collector.IncIPCDecodeErrors()
		e.logger.Warn("dropping undecodable event", map[string]any{
			"kind":  frame.Kind,
			"error": err.Error(),
		})
		return
	}
	e.eventCount++
	if e.events == nil {
		return
	}
	if err := e.events.Dispatch(event); err != nil {
		e.logger.Warn("event dispatch failed", map[string]any{
			"kind":  frame.Kind,
			"error": err.Error(),
		})
	}
}

// Result returns the result frame, or nil if none was received.
func (e *IngestionEngine) Result() *ipc.ResultFrame {
	return e.result
}

// EventCount returns the number of events decoded.
func (e *IngestionEngine) EventCount() int64 {
	return e.eventCount
}
