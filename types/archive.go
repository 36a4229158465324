package types

import "time"

// ArchiveKind discriminates archived records.
type ArchiveKind string

// Archive record kinds.
const (
	// ArchiveKindTestProgress records one translated test progress event.
	ArchiveKindTestProgress ArchiveKind = "test_progress"
	// ArchiveKindRequest records the summary of a finished request.
	ArchiveKindRequest ArchiveKind = "request"
)

// ArchiveEntry is one record of a request's progress archive.
// Exactly one of Progress and Request is set, matching Kind.
type ArchiveEntry struct {
	// RequestID identifies the request the entry belongs to.
	RequestID string `json:"request_id"`
	// Seq orders entries within a request, starting at 1.
	Seq int64 `json:"seq"`
	// Kind is the record discriminator.
	Kind ArchiveKind `json:"kind"`
	// RecordedAt is when the entry was recorded.
	RecordedAt time.Time `json:"recorded_at"`
	// Progress is set for test progress entries.
	Progress *TestProgressEventV1 `json:"progress,omitempty"`
	// Request is set for request summary entries.
	Request *RequestSummary `json:"request,omitempty"`
}

// Droppable reports whether an archive policy may drop e under pressure.
// Only test start notifications may be dropped; finished tests and request
// summaries carry outcomes and are always kept.
func (e *ArchiveEntry) Droppable() bool {
	return e.Kind == ArchiveKindTestProgress && e.Progress != nil && e.Progress.Outcome == OutcomeStarted
}

// Request outcomes recorded in RequestSummary.Outcome.
const (
	RequestSucceeded = "succeeded"
	RequestFailed    = "failed"
	RequestCancelled = "cancelled"
)

// RequestSummary describes a finished request.
type RequestSummary struct {
	// Action is the action kind that ran.
	Action ActionKind `json:"action"`
	// Model is the canonical model name for fetch-model actions.
	Model string `json:"model,omitempty"`
	// Tasks are the tasks that ran.
	Tasks []string `json:"tasks,omitempty"`
	// Outcome is RequestSucceeded, RequestFailed or RequestCancelled.
	Outcome string `json:"outcome"`
	// ErrorKind classifies the failure, when there is one.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	// Message is the failure message, when there is one.
	Message string `json:"message,omitempty"`
	// DurationMs is the request's wall time in milliseconds.
	DurationMs int64 `json:"duration_ms"`
	// Events is the number of progress events archived for the request.
	Events int64 `json:"events"`
}
