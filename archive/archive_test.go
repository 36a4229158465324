package archive_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/buildlink/archive"
	"github.com/pithecene-io/buildlink/policy"
	"github.com/pithecene-io/buildlink/types"
)

var fixed = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func event(id string, outcome types.Outcome) types.TestProgressEventV1 {
	return types.TestProgressEventV1{
		Structure:  types.StructureAtomic,
		Outcome:    outcome,
		EventTime:  fixed.UnixMilli(),
		Descriptor: types.TestDescriptorV1{ID: id, Name: id},
	}
}

func newRecorder(t *testing.T, name string) (*archive.Recorder, *policy.StubSink) {
	t.Helper()
	sink := policy.NewStubSink()
	p, err := policy.New(policy.Config{Name: name}, sink)
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	return archive.NewRecorder(p, "req-1", archive.Options{Now: func() time.Time { return fixed }}), sink
}

func TestRecorder_NumbersEntriesAndAppendsSummary(t *testing.T) {
	r, sink := newRecorder(t, policy.NameStrict)

	r.OnEvent(event("t1", types.OutcomeStarted))
	r.OnEvent(event("t1", types.OutcomeSucceeded))

	summary := archive.Summarize(types.ActionKindFetchModel, "Project", []string{"test"}, 2*time.Second, nil)
	if err := r.Finish(context.Background(), summary); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	entries := sink.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			t.Errorf("entry %d seq = %d", i, e.Seq)
		}
		if e.RequestID != "req-1" {
			t.Errorf("entry %d request = %q", i, e.RequestID)
		}
		if !e.RecordedAt.Equal(fixed) {
			t.Errorf("entry %d recorded at %v", i, e.RecordedAt)
		}
	}
	last := entries[2]
	if last.Kind != types.ArchiveKindRequest || last.Request == nil {
		t.Fatalf("last entry is not a request summary: %+v", last)
	}
	if last.Request.Events != 2 {
		t.Errorf("summary events = %d, want 2", last.Request.Events)
	}
	if last.Request.Outcome != types.RequestSucceeded {
		t.Errorf("summary outcome = %q", last.Request.Outcome)
	}
	if last.Request.DurationMs != 2000 {
		t.Errorf("duration = %d", last.Request.DurationMs)
	}
	if !sink.Closed {
		t.Error("sink not closed by Finish")
	}
}

func TestRecorder_EventsAfterFinishIgnored(t *testing.T) {
	r, sink := newRecorder(t, policy.NameStrict)
	if err := r.Finish(context.Background(), types.RequestSummary{}); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	r.OnEvent(event("late", types.OutcomeFailed))
	if n := len(sink.Entries()); n != 1 {
		t.Errorf("expected only the summary, got %d entries", n)
	}
	if err := r.Finish(context.Background(), types.RequestSummary{}); err != nil {
		t.Errorf("second Finish: %v", err)
	}
}

func TestRecorder_KeepsFirstError(t *testing.T) {
	r, sink := newRecorder(t, policy.NameStrict)
	first := errors.New("disk gone")
	sink.Fail(first)

	r.OnEvent(event("t1", types.OutcomeStarted))
	sink.Fail(errors.New("second"))
	r.OnEvent(event("t2", types.OutcomeStarted))

	if err := r.Err(); !errors.Is(err, first) {
		t.Fatalf("Err = %v, want first error", err)
	}
	if err := r.Finish(context.Background(), types.RequestSummary{}); !errors.Is(err, first) {
		t.Errorf("Finish = %v, want first error", err)
	}
}

func TestRecorder_BufferedFlushesOnFinish(t *testing.T) {
	r, sink := newRecorder(t, policy.NameBuffered)
	for range 5 {
		r.OnEvent(event("t", types.OutcomeStarted))
	}
	if sink.BatchCount() != 0 {
		t.Fatalf("buffered policy wrote before Finish")
	}
	if err := r.Finish(context.Background(), types.RequestSummary{}); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if n := len(sink.Entries()); n != 6 {
		t.Errorf("expected 6 entries after flush, got %d", n)
	}
	if st := r.Stats(); st.TotalEntries != 6 {
		t.Errorf("TotalEntries = %d", st.TotalEntries)
	}
}

func TestRecorder_ConcurrentEventsKeepOrder(t *testing.T) {
	r, sink := newRecorder(t, policy.NameStrict)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				r.OnEvent(event("t", types.OutcomeSucceeded))
			}
		}()
	}
	wg.Wait()

	entries := sink.Entries()
	if len(entries) != 200 {
		t.Fatalf("expected 200 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			t.Fatalf("entry %d has seq %d", i, e.Seq)
		}
	}
}

func TestRecorder_Subscribes(t *testing.T) {
	r, _ := newRecorder(t, policy.NameStrict)
	if !types.Subscribes(r, types.EventKindTestProgress) {
		t.Error("recorder must subscribe to test progress")
	}
	if r.RequestID() != "req-1" {
		t.Errorf("RequestID = %q", r.RequestID())
	}
}

func TestSummarize(t *testing.T) {
	failed := archive.Summarize(types.ActionKindClientProvided, "", nil, time.Second, types.Execution("boom", nil))
	if failed.Outcome != types.RequestFailed || failed.ErrorKind != types.KindExecution || failed.Message != "boom" {
		t.Errorf("failed summary = %+v", failed)
	}
	cancelled := archive.Summarize(types.ActionKindFetchModel, "Project", nil, 0, types.Cancelled("stop"))
	if cancelled.Outcome != types.RequestCancelled || cancelled.ErrorKind != types.KindCancelled {
		t.Errorf("cancelled summary = %+v", cancelled)
	}
}
