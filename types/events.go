package types

// EventKind names a category of progress events a listener can subscribe to.
type EventKind string

// Event kinds. EventKindTestProgress is also the frame kind of internal test events.
const (
	EventKindTestProgress EventKind = "test_progress"
)

// TestStructure is the structural tag of a test progress event.
type TestStructure string

// Test structures.
const (
	StructureSuite  TestStructure = "suite"
	StructureAtomic TestStructure = "atomic"
)

// TestPhase tells whether an internal event opens or closes a test or suite.
type TestPhase string

// Test phases.
const (
	PhaseStarted  TestPhase = "started"
	PhaseFinished TestPhase = "finished"
)

// ResultType is the backend's result enumeration for a finished test.
type ResultType string

// Backend result types.
const (
	ResultSuccess ResultType = "SUCCESS"
	ResultSkipped ResultType = "SKIPPED"
	ResultFailure ResultType = "FAILURE"
)

// InternalTestProgressEvent is the backend's own test progress notification,
// as emitted by the build tool in event frames. Its lifetime belongs to the
// emitter; consumers must copy what they keep.
type InternalTestProgressEvent struct {
	Structure  TestStructure          `msgpack:"structure" json:"structure"`
	Phase      TestPhase              `msgpack:"phase" json:"phase"`
	ResultType ResultType             `msgpack:"result_type,omitempty" json:"result_type,omitempty"`
	EventTime  int64                  `msgpack:"event_time" json:"event_time"`
	Descriptor InternalTestDescriptor `msgpack:"descriptor" json:"descriptor"`
	Result     *InternalTestResult    `msgpack:"result,omitempty" json:"result,omitempty"`
}

// InternalTestDescriptor identifies a test or suite inside the backend.
type InternalTestDescriptor struct {
	ID        string  `msgpack:"id" json:"id"`
	Name      string  `msgpack:"name" json:"name"`
	ClassName *string `msgpack:"class_name,omitempty" json:"class_name,omitempty"`
	ParentID  *string `msgpack:"parent_id,omitempty" json:"parent_id,omitempty"`
}

// InternalTestResult is the backend's result of a finished test or suite.
type InternalTestResult struct {
	StartTime int64              `msgpack:"start_time" json:"start_time"`
	EndTime   int64              `msgpack:"end_time" json:"end_time"`
	Failures  []*InternalFailure `msgpack:"failures,omitempty" json:"failures,omitempty"`
}

// InternalFailure is one backend failure with its cause chain.
type InternalFailure struct {
	Message     string           `msgpack:"message" json:"message"`
	Description string           `msgpack:"description" json:"description"`
	Cause       *InternalFailure `msgpack:"cause,omitempty" json:"cause,omitempty"`
}

// UnknownEvent stands in for an event frame whose kind this version does not know.
type UnknownEvent struct {
	Kind string
}

// Outcome is the client-facing outcome tag of a progress event.
type Outcome string

// Client-facing outcomes.
const (
	OutcomeStarted   Outcome = "started"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// TestProgressEventV1 is the versioned, client-facing test progress event.
// Values are self-contained copies; nothing in them aliases backend state.
type TestProgressEventV1 struct {
	Structure  TestStructure    `json:"structure" yaml:"structure"`
	Outcome    Outcome          `json:"outcome" yaml:"outcome"`
	EventTime  int64            `json:"event_time" yaml:"event_time"`
	Descriptor TestDescriptorV1 `json:"descriptor" yaml:"descriptor"`
	Result     *TestResultV1    `json:"result,omitempty" yaml:"result,omitempty"`
}

// TestDescriptorV1 identifies a test or suite. ParentID is a lookup-only
// back-reference; nil for a root descriptor.
type TestDescriptorV1 struct {
	ID        string  `json:"id" yaml:"id"`
	Name      string  `json:"name" yaml:"name"`
	ClassName *string `json:"class_name,omitempty" yaml:"class_name,omitempty"`
	ParentID  *string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
}

// TestResultV1 is the result of a finished test or suite.
type TestResultV1 struct {
	StartTime int64       `json:"start_time" yaml:"start_time"`
	EndTime   int64       `json:"end_time" yaml:"end_time"`
	Failures  []FailureV1 `json:"failures" yaml:"failures"`
}

// FailureV1 is one failure; Cause forms a finite singly-linked chain.
type FailureV1 struct {
	Message     string     `json:"message" yaml:"message"`
	Description string     `json:"description" yaml:"description"`
	Cause       *FailureV1 `json:"cause,omitempty" yaml:"cause,omitempty"`
}

// ProgressListener is the client's progress sink.
//
// OnEvent may be called concurrently from backend goroutines; implementations
// must tolerate that. SubscribedEvents is consulted once per request.
type ProgressListener interface {
	OnEvent(event TestProgressEventV1)
	SubscribedEvents() []EventKind
}

// Subscribes reports whether l subscribes to kind. A nil listener subscribes to nothing.
func Subscribes(l ProgressListener, kind EventKind) bool {
	if l == nil {
		return false
	}
	for _, k := range l.SubscribedEvents() {
		if k == kind {
			return true
		}
	}
	return false
}
