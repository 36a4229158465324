// Package policy controls how progress archive entries reach storage.
//
// A policy decides buffering, dropping and flush timing. Policies never alter
// entries. Only entries reporting Droppable may be dropped; a policy that
// cannot keep a non-droppable entry returns an error instead.
package policy

import (
	"context"
	"maps"
	"sync"

	"github.com/pithecene-io/buildlink/types"
)

// Policy names accepted by New.
const (
	NameStrict    = "strict"
	NameBuffered  = "buffered"
	NameStreaming = "streaming"
	NameNoop      = "noop"
)

// Policy ingests archive entries.
type Policy interface {
	// Ingest handles one entry. An error means the entry could not be kept.
	Ingest(ctx context.Context, entry *types.ArchiveEntry) error

	// Flush writes any buffered entries.
	Flush(ctx context.Context) error

	// Close flushes best-effort and closes the sink.
	Close() error

	// Stats returns a consistent snapshot of policy counters.
	Stats() Stats
}

// Stats are policy observability counters.
type Stats struct {
	// TotalEntries is the number of entries received.
	TotalEntries int64
	// EntriesPersisted is the number of entries written to the sink.
	EntriesPersisted int64
	// EntriesDropped is the number of entries dropped.
	EntriesDropped int64
	// DroppedByKind maps entry kinds to drop counts.
	DroppedByKind map[types.ArchiveKind]int64
	// BufferSize is the estimated buffered size in bytes.
	BufferSize int64
	// FlushCount is the number of flush operations.
	FlushCount int64
	// Errors is the number of failed writes and rejected entries.
	Errors int64
}

// statsRecorder keeps Stats behind a mutex.
//
// StrictPolicy and NoopPolicy use the locking methods. Buffered and streaming
// policies use the Locked variants while holding their own buffer mutex, so
// buffer state and counters stay consistent.
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{
		stats: Stats{DroppedByKind: make(map[types.ArchiveKind]int64)},
	}
}

func (r *statsRecorder) incTotal() {
	r.mu.Lock()
	r.stats.TotalEntries++
	r.mu.Unlock()
}

func (r *statsRecorder) incPersisted(n int64) {
	r.mu.Lock()
	r.stats.EntriesPersisted += n
	r.mu.Unlock()
}

func (r *statsRecorder) incDropped(kind types.ArchiveKind) {
	r.mu.Lock()
	r.incDroppedLocked(kind)
	r.mu.Unlock()
}

func (r *statsRecorder) incErrors() {
	r.mu.Lock()
	r.stats.Errors++
	r.mu.Unlock()
}

func (r *statsRecorder) incFlush() {
	r.mu.Lock()
	r.stats.FlushCount++
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(r.stats.BufferSize)
}

// --- Locked variants; caller holds the policy's buffer mutex. ---

func (r *statsRecorder) incTotalLocked() { r.stats.TotalEntries++ }
func (r *statsRecorder) incPersistedLocked(n int64) { r.stats.EntriesPersisted += n }
func (r *statsRecorder) incErrorsLocked() { r.stats.Errors++ }
func (r *statsRecorder) incFlushLocked() { r.stats.FlushCount++ }
func (r *statsRecorder) setBufferSizeLocked(n int64) { r.stats.BufferSize = n }
func (r *statsRecorder) incDroppedLocked(k types.ArchiveKind) {
	r.stats.EntriesDropped++
	r.stats.DroppedByKind[k]++
}

func (r *statsRecorder) snapshotLocked(bufferSize int64) Stats {
	s := r.stats
	s.BufferSize = bufferSize
	s.DroppedByKind = maps.Clone(r.stats.DroppedByKind)
	return s
}

// estimateSize is a rough byte estimate of an entry used for buffer limits.
func estimateSize(e *types.ArchiveEntry) int64 {
	size := int64(128 + len(e.RequestID))
	if p := e.Progress; p != nil {
		size += int64(64 + len(p.Descriptor.ID) + len(p.Descriptor.Name))
		if p.Result != nil {
			for f := range failures(p.Result.Failures) {
				size += int64(len(f.Message) + len(f.Description))
			}
		}
	}
	if r := e.Request; r != nil {
		size += int64(64 + len(r.Model) + len(r.Message))
		for _, t := range r.Tasks {
			size += int64(len(t))
		}
	}
	return size
}

// failures yields every failure including causes.
func failures(list []types.FailureV1) func(func(*types.FailureV1) bool) {
	return func(yield func(*types.FailureV1) bool) {
		for i := range list {
			for f := &list[i]; f != nil; f = f.Cause {
				if !yield(f) {
					return
				}
			}
		}
	}
}
