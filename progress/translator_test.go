package progress

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pithecene-io/buildlink/metrics"
	"github.com/pithecene-io/buildlink/types"
)

func strPtr(s string) *string { return &s }

func internalEvent(structure types.TestStructure, phase types.TestPhase, result types.ResultType) *types.InternalTestProgressEvent {
	return &types.InternalTestProgressEvent{
		Structure:  structure,
		Phase:      phase,
		ResultType: result,
		EventTime:  1000,
		Descriptor: types.InternalTestDescriptor{ID: "1", Name: "suite"},
	}
}

func TestTranslate_SuiteStarted(t *testing.T) {
	v1, err := Translate(internalEvent(types.StructureSuite, types.PhaseStarted, ""))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if v1.Structure != types.StructureSuite || v1.Outcome != types.OutcomeStarted {
		t.Errorf("got %s/%s, want suite/started", v1.Structure, v1.Outcome)
	}
	if v1.EventTime != 1000 {
		t.Errorf("EventTime = %d", v1.EventTime)
	}
	if v1.Result != nil {
		t.Error("started event should carry no result")
	}
}

func TestTranslate_OutcomeMapping(t *testing.T) {
	tests := []struct {
		result types.ResultType
		want   types.Outcome
	}{
		{types.ResultSuccess, types.OutcomeSucceeded},
		{types.ResultSkipped, types.OutcomeSkipped},
		{types.ResultFailure, types.OutcomeFailed},
	}
	for _, tt := range tests {
		v1, err := Translate(internalEvent(types.StructureAtomic, types.PhaseFinished, tt.result))
		if err != nil {
			t.Fatalf("Translate(%s): %v", tt.result, err)
		}
		if v1.Outcome != tt.want {
			t.Errorf("Translate(%s) outcome = %s, want %s", tt.result, v1.Outcome, tt.want)
		}
	}
}

func TestTranslate_UnmappedResultTypeIsProtocolMismatch(t *testing.T) {
	_, err := Translate(internalEvent(types.StructureAtomic, types.PhaseFinished, "ABORTED"))
	if !types.IsKind(err, types.KindProtocolMismatch) {
		t.Fatalf("err = %v, want protocol mismatch", err)
	}
}

func TestTranslate_UnknownStructureIsProtocolMismatch(t *testing.T) {
	_, err := Translate(internalEvent("composite", types.PhaseStarted, ""))
	if !types.IsKind(err, types.KindProtocolMismatch) {
		t.Fatalf("err = %v, want protocol mismatch", err)
	}
}

func TestTranslate_FailureChain(t *testing.T) {
	e := internalEvent(types.StructureAtomic, types.PhaseFinished, types.ResultFailure)
	e.Result = &types.InternalTestResult{
		StartTime: 10,
		EndTime:   20,
		Failures: []*types.InternalFailure{{
			Message:     "assertion failed",
			Description: "expected 1 got 2",
			Cause: &types.InternalFailure{
				Message: "root cause",
				Cause:   &types.InternalFailure{Message: "deepest"},
			},
		}},
	}

	v1, err := Translate(e)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if v1.Outcome != types.OutcomeFailed {
		t.Errorf("Outcome = %s", v1.Outcome)
	}
	if v1.Result == nil || len(v1.Result.Failures) != 1 {
		t.Fatalf("Result = %+v, want one failure", v1.Result)
	}
	f := v1.Result.Failures[0]
	if f.Message != "assertion failed" || f.Description != "expected 1 got 2" {
		t.Errorf("failure = %+v", f)
	}
	if f.Cause == nil || f.Cause.Message != "root cause" || f.Cause.Cause == nil || f.Cause.Cause.Message != "deepest" {
		t.Fatalf("cause chain not preserved: %+v", f.Cause)
	}
	if f.Cause.Cause.Cause != nil {
		t.Error("chain must end at nil cause")
	}
	if v1.Result.StartTime != 10 || v1.Result.EndTime != 20 {
		t.Errorf("times = %d..%d", v1.Result.StartTime, v1.Result.EndTime)
	}
}

func TestTranslate_ParentLinkage(t *testing.T) {
	child := internalEvent(types.StructureAtomic, types.PhaseStarted, "")
	child.Descriptor = types.InternalTestDescriptor{
		ID:        "2",
		Name:      "testAdd",
		ClassName: strPtr("CalculatorTest"),
		ParentID:  strPtr("P"),
	}
	v1, err := Translate(child)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if v1.Descriptor.ParentID == nil || *v1.Descriptor.ParentID != "P" {
		t.Errorf("ParentID = %v, want P", v1.Descriptor.ParentID)
	}
	if v1.Descriptor.ClassName == nil || *v1.Descriptor.ClassName != "CalculatorTest" {
		t.Errorf("ClassName = %v", v1.Descriptor.ClassName)
	}

	root, err := Translate(internalEvent(types.StructureSuite, types.PhaseStarted, ""))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if root.Descriptor.ParentID != nil {
		t.Errorf("root ParentID = %v, want absent", *root.Descriptor.ParentID)
	}
}

func TestTranslate_DoesNotAliasInternalEvent(t *testing.T) {
	e := internalEvent(types.StructureAtomic, types.PhaseFinished, types.ResultFailure)
	e.Descriptor.ParentID = strPtr("P")
	e.Result = &types.InternalTestResult{Failures: []*types.InternalFailure{{Message: "m", Cause: &types.InternalFailure{Message: "c"}}}}

	v1, err := Translate(e)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	// The emitter may reuse its event after dispatch returns.
	*e.Descriptor.ParentID = "reused"
	e.Descriptor.ID = "reused"
	e.Result.Failures[0].Message = "reused"
	e.Result.Failures[0].Cause.Message = "reused"
	e.Result.Failures = nil

	if *v1.Descriptor.ParentID != "P" || v1.Descriptor.ID != "1" {
		t.Errorf("descriptor aliases internal event: %+v", v1.Descriptor)
	}
	if v1.Result.Failures[0].Message != "m" || v1.Result.Failures[0].Cause.Message != "c" {
		t.Errorf("failures alias internal event: %+v", v1.Result.Failures)
	}
}

func TestTranslator_DispatchForwardsAndDrops(t *testing.T) {
	rec := &Recorder{}
	c := metrics.NewCollector("embedded", "none")
	tr := NewTranslator(rec, c)

	if err := tr.Dispatch(&types.UnknownEvent{Kind: "task_progress"}); err != nil {
		t.Fatalf("unknown event: %v", err)
	}
	if err := tr.Dispatch("some other shape"); err != nil {
		t.Fatalf("foreign shape: %v", err)
	}
	if err := tr.Dispatch(internalEvent(types.StructureSuite, types.PhaseStarted, "")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := tr.Dispatch(internalEvent(types.StructureAtomic, types.PhaseFinished, "WEIRD")); !types.IsKind(err, types.KindProtocolMismatch) {
		t.Fatalf("err = %v, want protocol mismatch", err)
	}
	// A failed dispatch does not poison later ones.
	if err := tr.Dispatch(internalEvent(types.StructureAtomic, types.PhaseFinished, types.ResultSuccess)); err != nil {
		t.Fatalf("dispatch after failure: %v", err)
	}

	events := rec.Events()
	if len(events) != 2 {
		t.Fatalf("recorded %d events, want 2", len(events))
	}
	s := c.Snapshot()
	if s.EventsIgnored != 2 || s.EventsDispatched != 2 || s.EventDispatchErrors != 1 {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestTranslator_ConcurrentDispatch(t *testing.T) {
	rec := &Recorder{}
	tr := NewTranslator(rec, nil)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.Dispatch(internalEvent(types.StructureAtomic, types.PhaseStarted, ""))
		}()
	}
	wg.Wait()
	if n := len(rec.Events()); n != 50 {
		t.Errorf("recorded %d events, want 50", n)
	}
}

func TestNoopConsumer(t *testing.T) {
	if err := NoopConsumer.Dispatch(internalEvent(types.StructureSuite, types.PhaseStarted, "")); err != nil {
		t.Fatal(err)
	}
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLines(&buf)
	v1, _ := Translate(internalEvent(types.StructureSuite, types.PhaseStarted, ""))
	l.OnEvent(v1)
	l.OnEvent(v1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if decoded["outcome"] != "started" || decoded["structure"] != "suite" {
		t.Errorf("decoded = %v", decoded)
	}
	if l.Err() != nil {
		t.Errorf("Err = %v", l.Err())
	}
}

type kindsOnly struct {
	Recorder
	kinds []types.EventKind
}

func (k *kindsOnly) SubscribedEvents() []types.EventKind { return k.kinds }

func TestTee(t *testing.T) {
	a := &Recorder{}
	b := &kindsOnly{}
	tee := NewTee(a, nil, b)

	if !types.Subscribes(tee, types.EventKindTestProgress) {
		t.Fatal("tee should subscribe when any member does")
	}
	v1, _ := Translate(internalEvent(types.StructureSuite, types.PhaseStarted, ""))
	tee.OnEvent(v1)
	if len(a.Events()) != 1 {
		t.Error("subscribed member missed the event")
	}
	if len(b.Events()) != 0 {
		t.Error("unsubscribed member received the event")
	}
	if types.Subscribes(NewTee(b), types.EventKindTestProgress) {
		t.Error("tee of unsubscribed members should not subscribe")
	}
}

// countingListener counts how often its subscriptions are read.
type countingListener struct {
	Recorder
	calls atomic.Int32
}

func (c *countingListener) SubscribedEvents() []types.EventKind {
	c.calls.Add(1)
	return c.Recorder.SubscribedEvents()
}

func TestTee_ReadsSubscriptionsOnce(t *testing.T) {
	member := &countingListener{}
	tee := NewTee(member)

	v1, _ := Translate(internalEvent(types.StructureAtomic, types.PhaseStarted, ""))
	for range 5 {
		tee.OnEvent(v1)
	}
	_ = tee.SubscribedEvents()

	if got := member.calls.Load(); got != 1 {
		t.Errorf("SubscribedEvents called %d times, want 1", got)
	}
	if len(member.Events()) != 5 {
		t.Errorf("member received %d events, want 5", len(member.Events()))
	}
}
