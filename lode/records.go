package lode

import (
	"encoding/json"
	"time"

	"github.com/pithecene-io/buildlink/types"
)

// Record kinds stored in the "record_kind" field.
const (
	RecordKindProgress = "test_progress"
	RecordKindRequest  = "request"
)

// toRecordMap converts an entry to the map form the Hive layout partitions on.
// Nested values go through JSON so the stored record matches the entry's
// JSON field names.
func toRecordMap(e *types.ArchiveEntry, cfg Config) (map[string]any, error) {
	m := map[string]any{
		"record_kind": recordKind(e.Kind),
		"kind":        string(e.Kind),
		"request_id":  e.RequestID,
		"seq":         e.Seq,
		"recorded_at": e.RecordedAt.UTC().Format(time.RFC3339Nano),
		"day":         DeriveDay(e.RecordedAt),
	}
	if cfg.Host != "" {
		m["host"] = cfg.Host
	}
	if e.Progress != nil {
		v, err := asMap(e.Progress)
		if err != nil {
			return nil, err
		}
		m["progress"] = v
	}
	if e.Request != nil {
		v, err := asMap(e.Request)
		if err != nil {
			return nil, err
		}
		m["request"] = v
	}
	return m, nil
}

func recordKind(k types.ArchiveKind) string {
	if k == types.ArchiveKindRequest {
		return RecordKindRequest
	}
	return RecordKindProgress
}

func asMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// SummaryFromRecord decodes the request summary of a stored request record.
func SummaryFromRecord(record map[string]any) (*types.RequestSummary, error) {
	b, err := json.Marshal(record["request"])
	if err != nil {
		return nil, err
	}
	var s types.RequestSummary
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// EventFromRecord decodes the progress event of a stored progress record.
// ok is false for records that carry no event.
func EventFromRecord(record map[string]any) (ev types.TestProgressEventV1, ok bool, err error) {
	raw, present := record["progress"]
	if !present || record["record_kind"] != RecordKindProgress {
		return ev, false, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return ev, false, err
	}
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, false, err
	}
	return ev, true, nil
}
