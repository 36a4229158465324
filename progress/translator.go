// Package progress translates backend progress notifications into the
// versioned client event shape and ships the client-side listeners.
package progress

import (
	"fmt"

	"github.com/pithecene-io/buildlink/executor"
	"github.com/pithecene-io/buildlink/metrics"
	"github.com/pithecene-io/buildlink/types"
)

// Translator is an executor.EventConsumer forwarding test progress to a listener.
//
// Translator holds no mutable state and is safe for concurrent dispatches;
// concurrency tolerance of the listener is the listener's own contract.
type Translator struct {
	listener  types.ProgressListener
	collector *metrics.Collector
}

// NewTranslator returns a translator forwarding to listener.
// collector may be nil.
func NewTranslator(listener types.ProgressListener, collector *metrics.Collector) *Translator {
	return &Translator{listener: listener, collector: collector}
}

// Dispatch implements executor.EventConsumer.
//
// Events of unrecognized shape are dropped. A recognized event that cannot be
// mapped to the versioned shape fails this dispatch with a protocol mismatch.
func (t *Translator) Dispatch(event any) error {
	internal, ok := event.(*types.InternalTestProgressEvent)
	if !ok || internal == nil {
		t.collector.IncEventIgnored()
		return nil
	}
	v1, err := Translate(internal)
	if err != nil {
		t.collector.IncEventDispatchError()
		return err
	}
	if t.listener != nil {
		t.listener.OnEvent(v1)
	}
	t.collector.IncEventDispatched()
	return nil
}

// Translate converts an internal test progress event into a self-contained
// TestProgressEventV1. Nothing in the result aliases e.
func Translate(e *types.InternalTestProgressEvent) (types.TestProgressEventV1, error) {
	structure, err := translateStructure(e.Structure)
	if err != nil {
		return types.TestProgressEventV1{}, err
	}
	outcome, err := translateOutcome(e.Phase, e.ResultType)
	if err != nil {
		return types.TestProgressEventV1{}, err
	}
	return types.TestProgressEventV1{
		Structure:  structure,
		Outcome:    outcome,
		EventTime:  e.EventTime,
		Descriptor: translateDescriptor(e.Descriptor),
		Result:     translateResult(e.Result),
	}, nil
}

func translateStructure(s types.TestStructure) (types.TestStructure, error) {
	switch s {
	case types.StructureSuite, types.StructureAtomic:
		return s, nil
	default:
		return "", types.ProtocolMismatch(fmt.Sprintf("unknown test structure %q", s))
	}
}

func translateOutcome(phase types.TestPhase, result types.ResultType) (types.Outcome, error) {
	switch phase {
	case types.PhaseStarted:
		return types.OutcomeStarted, nil
	case types.PhaseFinished:
		switch result {
		case types.ResultSuccess:
			return types.OutcomeSucceeded, nil
		case types.ResultSkipped:
			return types.OutcomeSkipped, nil
		case types.ResultFailure:
			return types.OutcomeFailed, nil
		default:
			return "", types.ProtocolMismatch(fmt.Sprintf("unmapped test result type %q", result))
		}
	default:
		return "", types.ProtocolMismatch(fmt.Sprintf("unknown test phase %q", phase))
	}
}

func translateDescriptor(d types.InternalTestDescriptor) types.TestDescriptorV1 {
	return types.TestDescriptorV1{
		ID:        d.ID,
		Name:      d.Name,
		ClassName: copyString(d.ClassName),
		ParentID:  copyString(d.ParentID),
	}
}

func translateResult(r *types.InternalTestResult) *types.TestResultV1 {
	if r == nil {
		return nil
	}
	failures := make([]types.FailureV1, 0, len(r.Failures))
	for _, f := range r.Failures {
		if f == nil {
			continue
		}
		failures = append(failures, *translateFailure(f))
	}
	return &types.TestResultV1{
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		Failures:  failures,
	}
}

// translateFailure copies a failure and its cause chain. The chain is
// assumed finite.
func translateFailure(f *types.InternalFailure) *types.FailureV1 {
	if f == nil {
		return nil
	}
	return &types.FailureV1{
		Message:     f.Message,
		Description: f.Description,
		Cause:       translateFailure(f.Cause),
	}
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// NoopConsumer drops every event.
var NoopConsumer executor.EventConsumer = executor.EventConsumerFunc(func(any) error { return nil })

var _ executor.EventConsumer = (*Translator)(nil)
