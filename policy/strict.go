package policy

import (
	"context"

	"github.com/pithecene-io/buildlink/types"
)

// StrictPolicy writes every entry immediately.
//
// Nothing is buffered or dropped. Ingest blocks on sink latency and returns
// the sink's error.
type StrictPolicy struct {
	sink  Sink
	stats *statsRecorder
}

// NewStrictPolicy returns a strict policy writing to sink.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{sink: sink, stats: newStatsRecorder()}
}

// Ingest writes entry as a batch of one.
func (p *StrictPolicy) Ingest(ctx context.Context, entry *types.ArchiveEntry) error {
	p.stats.incTotal()
	if err := p.sink.WriteEntries(ctx, []*types.ArchiveEntry{entry}); err != nil {
		p.stats.incErrors()
		return err
	}
	p.stats.incPersisted(1)
	return nil
}

// Flush only counts; nothing is buffered.
func (p *StrictPolicy) Flush(_ context.Context) error {
	p.stats.incFlush()
	return nil
}

// Close closes the sink.
func (p *StrictPolicy) Close() error {
	return p.sink.Close()
}

// Stats implements Policy.
func (p *StrictPolicy) Stats() Stats {
	return p.stats.snapshot()
}

var _ Policy = (*StrictPolicy)(nil)
