package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/buildlink/types"
)

// ErrNoRequestFound is returned when the archive holds no matching request record.
var ErrNoRequestFound = errors.New("no archived request found")

// QueryLatestRequest returns the most recent request record, restricted to
// requestID when it is non-empty.
func QueryLatestRequest(ctx context.Context, ds lode.Dataset, requestID string) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "snapshots")
	}

	// Snapshots are ordered by creation; newest last.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotHas(snap, "kind", string(types.ArchiveKindRequest)) {
			continue
		}
		if requestID != "" && !snapshotHas(snap, "request_id", requestID) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("snapshot/%s", snap.ID))
		}
		// Manifest paths are a coarse filter; record fields decide.
		for j := len(data) - 1; j >= 0; j-- {
			record, ok := data[j].(map[string]any)
			if !ok || record["record_kind"] != RecordKindRequest {
				continue
			}
			if requestID != "" && record["request_id"] != requestID {
				continue
			}
			return record, nil
		}
	}
	return nil, ErrNoRequestFound
}

// ReadRequest returns every record of requestID in write order.
func ReadRequest(ctx context.Context, ds lode.Dataset, requestID string) ([]map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "snapshots")
	}
	var out []map[string]any
	for _, snap := range snapshots {
		if !snapshotHas(snap, "request_id", requestID) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("snapshot/%s", snap.ID))
		}
		for _, item := range data {
			if record, ok := item.(map[string]any); ok && record["request_id"] == requestID {
				out = append(out, record)
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrNoRequestFound
	}
	return out, nil
}

func snapshotHas(snap *lode.DatasetSnapshot, key, value string) bool {
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue reports whether path has an exact key=value segment.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
