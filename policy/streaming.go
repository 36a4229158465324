package policy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/types"
)

// StreamingConfig configures a StreamingPolicy.
type StreamingConfig struct {
	// FlushCount flushes once N entries are buffered. Zero disables it.
	FlushCount int

	// FlushInterval flushes on a timer. Zero disables it.
	FlushInterval time.Duration

	// Logger is optional.
	Logger *log.Logger
}

// FlushTrigger identifies what caused a streaming flush.
type FlushTrigger string

// Flush triggers.
const (
	FlushTriggerCount       FlushTrigger = "count"
	FlushTriggerInterval    FlushTrigger = "interval"
	FlushTriggerTermination FlushTrigger = "termination"
)

// ErrStreamingInvalidConfig is returned when StreamingConfig sets no trigger.
var ErrStreamingInvalidConfig = errors.New("invalid streaming config: at least one of FlushCount or FlushInterval must be set")

// StreamingPolicy writes entries in batches while the build runs.
//
// Nothing is dropped. Entries accumulate until a count or interval trigger
// fires; a failed flush puts the batch back in front of newer entries and is
// retried on the next trigger. Long builds become visible in the archive
// before they finish.
type StreamingPolicy struct {
	sink   Sink
	config StreamingConfig
	logger *log.Logger

	mu          sync.Mutex
	buffer      []*types.ArchiveEntry
	bufferBytes int64
	stats       *statsRecorder
	triggers    map[FlushTrigger]int64
	stopped     bool

	flushMu sync.Mutex
	stopCh  chan struct{}
	done    chan struct{}
}

// NewStreamingPolicy returns a streaming policy writing to sink.
func NewStreamingPolicy(sink Sink, config StreamingConfig) (*StreamingPolicy, error) {
	if config.FlushCount <= 0 && config.FlushInterval <= 0 {
		return nil, ErrStreamingInvalidConfig
	}
	p := &StreamingPolicy{
		sink:     sink,
		config:   config,
		logger:   config.Logger,
		buffer:   make([]*types.ArchiveEntry, 0, 128),
		stats:    newStatsRecorder(),
		triggers: make(map[FlushTrigger]int64),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if config.FlushInterval > 0 {
		go p.intervalLoop()
	} else {
		close(p.done)
	}
	return p, nil
}

// Ingest buffers entry and flushes when the count trigger is reached.
func (p *StreamingPolicy) Ingest(ctx context.Context, entry *types.ArchiveEntry) error {
	p.mu.Lock()
	p.stats.incTotalLocked()
	p.buffer = append(p.buffer, entry)
	p.bufferBytes += estimateSize(entry)
	p.stats.setBufferSizeLocked(p.bufferBytes)
	full := p.config.FlushCount > 0 && len(p.buffer) >= p.config.FlushCount
	p.mu.Unlock()

	if full {
		return p.flush(ctx, FlushTriggerCount)
	}
	return nil
}

// Flush writes everything buffered.
func (p *StreamingPolicy) Flush(ctx context.Context) error {
	return p.flush(ctx, FlushTriggerTermination)
}

// flush swaps the buffer out under mu and writes it outside mu, so ingestion
// continues during the write.
func (p *StreamingPolicy) flush(ctx context.Context, trigger FlushTrigger) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	p.triggers[trigger]++
	p.stats.incFlushLocked()
	batch := p.buffer
	if len(batch) == 0 {
		p.mu.Unlock()
		return nil
	}
	p.buffer = make([]*types.ArchiveEntry, 0, 128)
	p.recalculate()
	p.mu.Unlock()

	if err := p.sink.WriteEntries(ctx, batch); err != nil {
		p.mu.Lock()
		p.stats.incErrorsLocked()
		p.buffer = append(batch, p.buffer...)
		p.recalculate()
		p.mu.Unlock()
		p.logFlushFailure(trigger, err)
		return err
	}

	p.mu.Lock()
	p.stats.incPersistedLocked(int64(len(batch)))
	p.mu.Unlock()
	p.logFlush(trigger, len(batch))
	return nil
}

func (p *StreamingPolicy) recalculate() {
	var total int64
	for _, e := range p.buffer {
		total += estimateSize(e)
	}
	p.bufferBytes = total
	p.stats.setBufferSizeLocked(total)
}

func (p *StreamingPolicy) intervalLoop() {
	defer close(p.done)
	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			pending := len(p.buffer) > 0
			p.mu.Unlock()
			if pending {
				// Interval failures are logged; the batch stays for the next trigger.
				_ = p.flush(context.Background(), FlushTriggerInterval)
			}
		case <-p.stopCh:
			return
		}
	}
}

// Close stops the interval timer, flushes best-effort and closes the sink.
func (p *StreamingPolicy) Close() error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
	p.mu.Unlock()
	<-p.done

	_ = p.Flush(context.Background())
	return p.sink.Close()
}

// Stats implements Policy.
func (p *StreamingPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.snapshotLocked(p.bufferBytes)
}

// FlushTriggerStats returns per-trigger flush counts.
func (p *StreamingPolicy) FlushTriggerStats() map[FlushTrigger]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[FlushTrigger]int64{
		FlushTriggerCount:       p.triggers[FlushTriggerCount],
		FlushTriggerInterval:    p.triggers[FlushTriggerInterval],
		FlushTriggerTermination: p.triggers[FlushTriggerTermination],
	}
}

func (p *StreamingPolicy) logFlush(trigger FlushTrigger, entries int) {
	if p.logger == nil {
		return
	}
	p.logger.Debug("archive flush", map[string]any{
		"trigger": string(trigger),
		"entries": entries,
		"policy":  NameStreaming,
	})
}

func (p *StreamingPolicy) logFlushFailure(trigger FlushTrigger, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error("archive flush failed", map[string]any{
		"trigger": string(trigger),
		"error":   err.Error(),
		"policy":  NameStreaming,
	})
}

var _ Policy = (*StreamingPolicy)(nil)
