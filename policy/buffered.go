package policy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/types"
)

// BufferedConfig configures a BufferedPolicy.
type BufferedConfig struct {
	// MaxBufferEntries is the maximum number of buffered entries.
	// Zero means no count limit.
	MaxBufferEntries int

	// MaxBufferBytes is the maximum estimated buffer size in bytes.
	// Zero means no size limit. At least one limit must be set.
	MaxBufferBytes int64

	// Logger is optional.
	Logger *log.Logger
}

// DefaultBufferedConfig returns the default buffer limits.
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{
		MaxBufferEntries: 1000,
		MaxBufferBytes:   10 * 1024 * 1024,
	}
}

// ErrBufferFull is returned when the buffer cannot take a non-droppable entry.
var ErrBufferFull = errors.New("buffer full: cannot accept non-droppable entry")

// ErrInvalidConfig is returned when BufferedConfig sets no limit.
var ErrInvalidConfig = errors.New("invalid config: at least one of MaxBufferEntries or MaxBufferBytes must be set")

// BufferedPolicy buffers entries in memory and writes them in one batch per flush.
//
// When the buffer is full a droppable incoming entry is dropped; a
// non-droppable one evicts the oldest droppable entry, or fails with
// ErrBufferFull when none is left. A failed flush keeps the buffer intact,
// so a retry may write entries twice but never loses them.
type BufferedPolicy struct {
	sink   Sink
	config BufferedConfig
	logger *log.Logger

	mu          sync.Mutex
	buffer      []*types.ArchiveEntry
	bufferBytes int64
	stats       *statsRecorder

	// flushMu serializes flushes so a batch is never written twice concurrently.
	flushMu sync.Mutex
}

// NewBufferedPolicy returns a buffered policy writing to sink.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if config.MaxBufferEntries <= 0 && config.MaxBufferBytes <= 0 {
		return nil, ErrInvalidConfig
	}
	return &BufferedPolicy{
		sink:   sink,
		config: config,
		logger: config.Logger,
		buffer: make([]*types.ArchiveEntry, 0, min(max(config.MaxBufferEntries, 16), 1024)),
		stats:  newStatsRecorder(),
	}, nil
}

// Ingest buffers entry, applying the drop rules when the buffer is full.
func (p *BufferedPolicy) Ingest(_ context.Context, entry *types.ArchiveEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.incTotalLocked()
	size := estimateSize(entry)

	if p.hasRoom(size) {
		p.append(entry, size)
		return nil
	}

	if entry.Droppable() {
		p.stats.incDroppedLocked(entry.Kind)
		p.logDrop(entry, "buffer_full")
		return nil
	}

	for p.dropOldestDroppable() {
		if p.hasRoom(size) {
			p.append(entry, size)
			return nil
		}
	}

	p.stats.incErrorsLocked()
	p.logOverflow(entry)
	return fmt.Errorf("%w (%s entry, %d buffered)", ErrBufferFull, entry.Kind, len(p.buffer))
}

func (p *BufferedPolicy) append(entry *types.ArchiveEntry, size int64) {
	p.buffer = append(p.buffer, entry)
	p.bufferBytes += size
	p.stats.setBufferSizeLocked(p.bufferBytes)
}

func (p *BufferedPolicy) hasRoom(size int64) bool {
	if p.config.MaxBufferEntries > 0 && len(p.buffer) >= p.config.MaxBufferEntries {
		return false
	}
	if p.config.MaxBufferBytes > 0 && p.bufferBytes+size > p.config.MaxBufferBytes {
		return false
	}
	return true
}

// dropOldestDroppable evicts the oldest droppable entry. Caller holds mu.
func (p *BufferedPolicy) dropOldestDroppable() bool {
	i := slices.IndexFunc(p.buffer, (*types.ArchiveEntry).Droppable)
	if i < 0 {
		return false
	}
	evicted := p.buffer[i]
	p.buffer = slices.Delete(p.buffer, i, i+1)
	p.bufferBytes -= estimateSize(evicted)
	p.stats.setBufferSizeLocked(p.bufferBytes)
	p.stats.incDroppedLocked(evicted.Kind)
	p.logDrop(evicted, "evicted_for_non_droppable")
	return true
}

// Flush writes the buffer as one batch. On failure the buffer is kept.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	p.stats.incFlushLocked()
	batch := slices.Clone(p.buffer)
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := p.sink.WriteEntries(ctx, batch); err != nil {
		p.mu.Lock()
		p.stats.incErrorsLocked()
		p.mu.Unlock()
		p.logFlushFailure(err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.incPersistedLocked(int64(len(batch)))
	// Entries ingested during the write stay buffered. Evictions only remove
	// entries, so the written batch is a subsequence of the buffer's prefix.
	p.buffer = removeWritten(p.buffer, batch)
	p.recalculate()
	return nil
}

// removeWritten removes the entries of batch from buffer, keeping order.
func removeWritten(buffer, batch []*types.ArchiveEntry) []*types.ArchiveEntry {
	written := make(map[*types.ArchiveEntry]struct{}, len(batch))
	for _, e := range batch {
		written[e] = struct{}{}
	}
	return slices.DeleteFunc(buffer, func(e *types.ArchiveEntry) bool {
		_, ok := written[e]
		return ok
	})
}

func (p *BufferedPolicy) recalculate() {
	var total int64
	for _, e := range p.buffer {
		total += estimateSize(e)
	}
	p.bufferBytes = total
	p.stats.setBufferSizeLocked(total)
}

// Close flushes best-effort and closes the sink.
func (p *BufferedPolicy) Close() error {
	_ = p.Flush(context.Background())
	return p.sink.Close()
}

// Stats implements Policy.
func (p *BufferedPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.snapshotLocked(p.bufferBytes)
}

func (p *BufferedPolicy) logDrop(entry *types.ArchiveEntry, reason string) {
	if p.logger == nil {
		return
	}
	p.logger.Warn("archive entry dropped", map[string]any{
		"kind":       string(entry.Kind),
		"request_id": entry.RequestID,
		"reason":     reason,
		"policy":     NameBuffered,
	})
}

func (p *BufferedPolicy) logOverflow(entry *types.ArchiveEntry) {
	if p.logger == nil {
		return
	}
	p.logger.Error("archive buffer overflow", map[string]any{
		"kind":       string(entry.Kind),
		"request_id": entry.RequestID,
		"policy":     NameBuffered,
	})
}

func (p *BufferedPolicy) logFlushFailure(err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error("archive flush failed", map[string]any{
		"error":  err.Error(),
		"policy": NameBuffered,
	})
}

var _ Policy = (*BufferedPolicy)(nil)
