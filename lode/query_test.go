package lode

import (
	"context"
	"errors"
	"testing"

	"github.com/pithecene-io/buildlink/types"
)

func TestQueryLatestRequest(t *testing.T) {
	client := newMemoryClient(t)
	ctx := context.Background()

	writes := [][]*types.ArchiveEntry{
		{progressEntry("req-a", 1, types.OutcomeStarted), requestEntry("req-a", 2, "succeeded")},
		{requestEntry("req-b", 1, "failed")},
		{progressEntry("req-c", 1, types.OutcomeStarted)},
	}
	for _, batch := range writes {
		if err := client.WriteEntries(ctx, batch); err != nil {
			t.Fatalf("WriteEntries failed: %v", err)
		}
	}

	latest, err := QueryLatestRequest(ctx, client.Dataset(), "")
	if err != nil {
		t.Fatalf("QueryLatestRequest failed: %v", err)
	}
	if latest["request_id"] != "req-b" {
		t.Errorf("latest request_id = %v, want req-b", latest["request_id"])
	}

	a, err := QueryLatestRequest(ctx, client.Dataset(), "req-a")
	if err != nil {
		t.Fatalf("QueryLatestRequest(req-a) failed: %v", err)
	}
	summary, err := SummaryFromRecord(a)
	if err != nil {
		t.Fatalf("SummaryFromRecord failed: %v", err)
	}
	if summary.Outcome != "succeeded" || summary.Model != "Project" {
		t.Errorf("summary = %+v", summary)
	}
	if summary.Action != types.ActionKindFetchModel {
		t.Errorf("action = %s, want fetch_model", summary.Action)
	}
}

func TestQueryLatestRequest_NotFound(t *testing.T) {
	client := newMemoryClient(t)
	ctx := context.Background()

	if _, err := QueryLatestRequest(ctx, client.Dataset(), ""); !errors.Is(err, ErrNoRequestFound) {
		t.Errorf("empty dataset: expected ErrNoRequestFound, got %v", err)
	}

	if err := client.WriteEntries(ctx, []*types.ArchiveEntry{progressEntry("req-x", 1, types.OutcomeStarted)}); err != nil {
		t.Fatalf("WriteEntries failed: %v", err)
	}
	if _, err := QueryLatestRequest(ctx, client.Dataset(), "req-x"); !errors.Is(err, ErrNoRequestFound) {
		t.Errorf("progress only: expected ErrNoRequestFound, got %v", err)
	}
	if _, err := ReadRequest(ctx, client.Dataset(), "req-missing"); !errors.Is(err, ErrNoRequestFound) {
		t.Errorf("ReadRequest: expected ErrNoRequestFound, got %v", err)
	}
}

func TestMatchesPartitionValue(t *testing.T) {
	path := "day=2026-02-03/request_id=req-1/kind=request/data.jsonl"
	if !matchesPartitionValue(path, "request_id", "req-1") {
		t.Error("expected exact segment match")
	}
	if matchesPartitionValue(path, "request_id", "req") {
		t.Error("prefix must not match")
	}
	if matchesPartitionValue(path, "kind", "test_progress") {
		t.Error("different value must not match")
	}
}

func TestReadRequest_Events(t *testing.T) {
	client := newMemoryClient(t)
	ctx := context.Background()

	batch := []*types.ArchiveEntry{
		progressEntry("req-a", 1, types.OutcomeStarted),
		progressEntry("req-a", 2, types.OutcomeSucceeded),
		requestEntry("req-a", 3, "succeeded"),
	}
	if err := client.WriteEntries(ctx, batch); err != nil {
		t.Fatalf("WriteEntries failed: %v", err)
	}
	if err := client.WriteEntries(ctx, []*types.ArchiveEntry{progressEntry("req-b", 1, types.OutcomeStarted)}); err != nil {
		t.Fatalf("WriteEntries failed: %v", err)
	}

	records, err := ReadRequest(ctx, client.Dataset(), "req-a")
	if err != nil {
		t.Fatalf("ReadRequest failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}

	var outcomes []types.Outcome
	for _, r := range records {
		ev, ok, err := EventFromRecord(r)
		if err != nil {
			t.Fatalf("EventFromRecord failed: %v", err)
		}
		if ok {
			outcomes = append(outcomes, ev.Outcome)
		}
	}
	if len(outcomes) != 2 || outcomes[0] != types.OutcomeStarted || outcomes[1] != types.OutcomeSucceeded {
		t.Errorf("outcomes = %v, want [started succeeded]", outcomes)
	}
}
