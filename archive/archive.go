// Package archive records the progress of mediated requests through an
// ingestion policy.
//
// A Recorder is a types.ProgressListener. Each event becomes a numbered
// ArchiveEntry. Finish appends the request summary and flushes the policy.
// Archiving never fails a build: the first ingestion error is kept and
// reported by Finish.
package archive

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/policy"
	"github.com/pithecene-io/buildlink/types"
)

// Options configure a Recorder.
type Options struct {
	// Logger is optional.
	Logger *log.Logger
	// Now returns the record time. Default: time.Now.
	Now func() time.Time
}

// Recorder archives the progress events of one request.
type Recorder struct {
	policy    policy.Policy
	requestID string
	logger    *log.Logger
	now       func() time.Time

	mu       sync.Mutex
	seq      int64
	events   int64
	err      error
	finished bool
}

// NewRecorder returns a recorder for requestID ingesting through p.
func NewRecorder(p policy.Policy, requestID string, opts Options) *Recorder {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Recorder{
		policy:    p,
		requestID: requestID,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// RequestID returns the archived request identifier.
func (r *Recorder) RequestID() string {
	return r.requestID
}

// OnEvent implements types.ProgressListener.
func (r *Recorder) OnEvent(event types.TestProgressEventV1) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.events++
	ev := event
	r.ingestLocked(context.Background(), &types.ArchiveEntry{
		Kind:     types.ArchiveKindTestProgress,
		Progress: &ev,
	})
}

// SubscribedEvents implements types.ProgressListener.
func (r *Recorder) SubscribedEvents() []types.EventKind {
	return []types.EventKind{types.EventKindTestProgress}
}

// Finish archives summary, flushes and closes the policy. Events arriving
// afterwards are ignored. It returns the first error seen while archiving.
func (r *Recorder) Finish(ctx context.Context, summary types.RequestSummary) error {
	r.mu.Lock()
	if r.finished {
		err := r.err
		r.mu.Unlock()
		return err
	}
	r.finished = true
	summary.Events = r.events
	r.ingestLocked(ctx, &types.ArchiveEntry{
		Kind:    types.ArchiveKindRequest,
		Request: &summary,
	})
	r.mu.Unlock()

	if err := r.policy.Close(); err != nil {
		r.keep(err)
	}
	return r.Err()
}

// Err returns the first archiving error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stats returns the policy's ingestion statistics.
func (r *Recorder) Stats() policy.Stats {
	return r.policy.Stats()
}

// ingestLocked runs under mu so sequence numbers reach the policy in order.
func (r *Recorder) ingestLocked(ctx context.Context, e *types.ArchiveEntry) {
	r.seq++
	e.RequestID = r.requestID
	e.Seq = r.seq
	e.RecordedAt = r.now()
	if err := r.policy.Ingest(ctx, e); err != nil {
		if r.err == nil {
			r.err = err
		}
		if r.logger != nil {
			r.logger.Warn("archive ingest failed", map[string]any{
				"seq":   e.Seq,
				"kind":  string(e.Kind),
				"error": err.Error(),
			})
		}
	}
}

func (r *Recorder) keep(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

var _ types.ProgressListener = (*Recorder)(nil)

// Summarize builds the request summary of a finished request.
func Summarize(a types.ActionKind, model string, tasks []string, elapsed time.Duration, err error) types.RequestSummary {
	s := types.RequestSummary{
		Action:     a,
		Model:      model,
		Tasks:      tasks,
		DurationMs: elapsed.Milliseconds(),
		Outcome:    types.RequestSucceeded,
	}
	if err != nil {
		s.Outcome = types.RequestFailed
		if types.IsKind(err, types.KindCancelled) {
			s.Outcome = types.RequestCancelled
		}
		s.ErrorKind = types.KindOf(err)
		s.Message = err.Error()
	}
	return s
}
