package lode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/buildlink/metrics"
	"github.com/pithecene-io/buildlink/policy"
	"github.com/pithecene-io/buildlink/types"
)

var recordedAt = time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)

func progressEntry(requestID string, seq int64, outcome types.Outcome) *types.ArchiveEntry {
	return &types.ArchiveEntry{
		RequestID:  requestID,
		Seq:        seq,
		Kind:       types.ArchiveKindTestProgress,
		RecordedAt: recordedAt,
		Progress: &types.TestProgressEventV1{
			Structure:  types.StructureAtomic,
			Outcome:    outcome,
			EventTime:  recordedAt.UnixMilli(),
			Descriptor: types.TestDescriptorV1{ID: "t1", Name: "shouldWork"},
		},
	}
}

func requestEntry(requestID string, seq int64, outcome string) *types.ArchiveEntry {
	return &types.ArchiveEntry{
		RequestID:  requestID,
		Seq:        seq,
		Kind:       types.ArchiveKindRequest,
		RecordedAt: recordedAt,
		Request: &types.RequestSummary{
			Action:     types.ActionKindFetchModel,
			Model:      "Project",
			Tasks:      []string{"test"},
			Outcome:    outcome,
			DurationMs: 1500,
			Events:     seq - 1,
		},
	}
}

func newMemoryClient(t *testing.T) *LodeClient {
	t.Helper()
	client, err := NewLodeClientWithFactory(Config{Host: "ci-1"}, lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewLodeClientWithFactory failed: %v", err)
	}
	return client
}

func TestLodeClient_WriteEntries(t *testing.T) {
	client := newMemoryClient(t)
	ctx := context.Background()

	entries := []*types.ArchiveEntry{
		progressEntry("req-1", 1, types.OutcomeStarted),
		progressEntry("req-1", 2, types.OutcomeSucceeded),
	}
	if err := client.WriteEntries(ctx, entries); err != nil {
		t.Fatalf("WriteEntries failed: %v", err)
	}

	snap, err := client.Dataset().Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	data, err := client.Dataset().Read(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(data) != 2 {
		t.Fatalf("expected 2 records, got %d", len(data))
	}

	first, ok := data[0].(map[string]any)
	if !ok {
		t.Fatalf("record is %T, want map[string]any", data[0])
	}
	if first["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", first["request_id"])
	}
	if first["day"] != "2026-02-03" {
		t.Errorf("day = %v, want 2026-02-03", first["day"])
	}
	if first["record_kind"] != RecordKindProgress {
		t.Errorf("record_kind = %v, want %s", first["record_kind"], RecordKindProgress)
	}
	if first["host"] != "ci-1" {
		t.Errorf("host = %v, want ci-1", first["host"])
	}
	progress, ok := first["progress"].(map[string]any)
	if !ok {
		t.Fatalf("progress is %T, want map", first["progress"])
	}
	if progress["outcome"] != "started" {
		t.Errorf("progress.outcome = %v, want started", progress["outcome"])
	}
}

func TestLodeClient_EmptyBatchWritesNothing(t *testing.T) {
	client := newMemoryClient(t)
	ctx := context.Background()

	if err := client.WriteEntries(ctx, nil); err != nil {
		t.Fatalf("WriteEntries(nil) failed: %v", err)
	}
	snapshots, err := client.Dataset().Snapshots(ctx)
	if err != nil {
		t.Fatalf("Snapshots failed: %v", err)
	}
	if len(snapshots) != 0 {
		t.Errorf("expected no snapshots, got %d", len(snapshots))
	}
}

func TestLodeClient_FSBackend(t *testing.T) {
	client, err := NewLodeClient(Config{}, t.TempDir())
	if err != nil {
		t.Fatalf("NewLodeClient failed: %v", err)
	}
	ctx := context.Background()
	if err := client.WriteEntries(ctx, []*types.ArchiveEntry{requestEntry("req-fs", 1, "succeeded")}); err != nil {
		t.Fatalf("WriteEntries failed: %v", err)
	}
	record, err := QueryLatestRequest(ctx, client.Dataset(), "req-fs")
	if err != nil {
		t.Fatalf("QueryLatestRequest failed: %v", err)
	}
	if record["request_id"] != "req-fs" {
		t.Errorf("request_id = %v, want req-fs", record["request_id"])
	}
}

func TestSink_DelegatesToClient(t *testing.T) {
	stub := NewStubClient()
	sink := NewSink(stub)
	ctx := context.Background()

	if err := sink.WriteEntries(ctx, nil); err != nil {
		t.Fatalf("empty write failed: %v", err)
	}
	if len(stub.Batches) != 0 {
		t.Errorf("empty batch reached client")
	}

	if err := sink.WriteEntries(ctx, []*types.ArchiveEntry{progressEntry("r", 1, types.OutcomeStarted)}); err != nil {
		t.Fatalf("WriteEntries failed: %v", err)
	}
	if len(stub.Batches) != 1 {
		t.Errorf("expected 1 batch, got %d", len(stub.Batches))
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !stub.Closed {
		t.Error("client not closed")
	}
}

func TestSink_WithStrictPolicy(t *testing.T) {
	client := newMemoryClient(t)
	p, err := policy.New(policy.Config{Name: policy.NameStrict}, NewSink(client))
	if err != nil {
		t.Fatalf("policy.New failed: %v", err)
	}
	ctx := context.Background()
	for i, e := range []*types.ArchiveEntry{
		progressEntry("req-p", 1, types.OutcomeStarted),
		progressEntry("req-p", 2, types.OutcomeSucceeded),
		requestEntry("req-p", 3, "succeeded"),
	} {
		if err := p.Ingest(ctx, e); err != nil {
			t.Fatalf("Ingest %d failed: %v", i, err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	records, err := ReadRequest(ctx, client.Dataset(), "req-p")
	if err != nil {
		t.Fatalf("ReadRequest failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, r := range records {
		// JSON numbers decode as float64.
		if seq, _ := r["seq"].(float64); int64(seq) != int64(i+1) {
			t.Errorf("record %d seq = %v, want %d", i, r["seq"], i+1)
		}
	}
}

type failingSink struct{ err error }

func (s *failingSink) WriteEntries(context.Context, []*types.ArchiveEntry) error { return s.err }
func (s *failingSink) Close() error { return nil }

func TestInstrumentedSink_CountsOutcomes(t *testing.T) {
	collector := metrics.NewCollector("client", "fs")
	ctx := context.Background()
	batch := []*types.ArchiveEntry{progressEntry("r", 1, types.OutcomeStarted)}

	ok := NewInstrumentedSink(NewSink(NewStubClient()), collector)
	if err := ok.WriteEntries(ctx, batch); err != nil {
		t.Fatalf("WriteEntries failed: %v", err)
	}

	writeErr := errors.New("boom")
	bad := NewInstrumentedSink(&failingSink{err: writeErr}, collector)
	if err := bad.WriteEntries(ctx, batch); !errors.Is(err, writeErr) {
		t.Fatalf("expected write error, got %v", err)
	}

	snap := collector.Snapshot()
	if snap.ArchiveWriteSuccess != 1 {
		t.Errorf("ArchiveWriteSuccess = %d, want 1", snap.ArchiveWriteSuccess)
	}
	if snap.ArchiveWriteFailure != 1 {
		t.Errorf("ArchiveWriteFailure = %d, want 1", snap.ArchiveWriteFailure)
	}
}

func TestInstrumentedSink_NilCollector(t *testing.T) {
	s := NewInstrumentedSink(NewSink(NewStubClient()), nil)
	if err := s.WriteEntries(context.Background(), []*types.ArchiveEntry{progressEntry("r", 1, types.OutcomeStarted)}); err != nil {
		t.Fatalf("WriteEntries failed: %v", err)
	}
}

func TestDeriveDay(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	got := DeriveDay(time.Date(2026, 2, 4, 5, 0, 0, 0, loc))
	if got != "2026-02-03" {
		t.Errorf("DeriveDay = %s, want 2026-02-03", got)
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/archive", "bucket", "archive"},
		{"bucket/a/b", "bucket", "a/b"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = (%q, %q), want (%q, %q)", tt.in, b, p, tt.bucket, tt.prefix)
		}
	}
}

func TestS3Config_Validate(t *testing.T) {
	cfg := S3Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing bucket")
	}
	cfg.Bucket = "b"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	if (Location{}).Enabled() || (Location{Backend: BackendNone}).Enabled() {
		t.Error("empty and none locations must be disabled")
	}
	if _, err := Open(ctx, Config{}, Location{Backend: BackendFS}); err == nil {
		t.Error("fs without path must fail")
	}
	if _, err := Open(ctx, Config{}, Location{Backend: "tape", Path: "x"}); err == nil {
		t.Error("unknown backend must fail")
	}

	client, err := Open(ctx, Config{Dataset: "builds"}, Location{Backend: BackendFS, Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open fs: %v", err)
	}
	if err := client.WriteEntries(ctx, []*types.ArchiveEntry{requestEntry("req-open", 1, "succeeded")}); err != nil {
		t.Fatalf("WriteEntries: %v", err)
	}
}
