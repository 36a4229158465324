package policy

import (
	"context"

	"github.com/pithecene-io/buildlink/types"
)

// NoopPolicy accepts entries without persisting them.
//
// Stats keep the drop semantics of the other policies: droppable entries
// count as dropped, everything else as persisted.
type NoopPolicy struct {
	stats *statsRecorder
}

// NewNoopPolicy returns a no-op policy.
func NewNoopPolicy() *NoopPolicy {
	return &NoopPolicy{stats: newStatsRecorder()}
}

// Ingest implements Policy.
func (p *NoopPolicy) Ingest(_ context.Context, entry *types.ArchiveEntry) error {
	p.stats.incTotal()
	if entry.Droppable() {
		p.stats.incDropped(entry.Kind)
	} else {
		p.stats.incPersisted(1)
	}
	return nil
}

// Flush implements Policy.
func (p *NoopPolicy) Flush(_ context.Context) error {
	p.stats.incFlush()
	return nil
}

// Close implements Policy.
func (p *NoopPolicy) Close() error {
	return nil
}

// Stats implements Policy.
func (p *NoopPolicy) Stats() Stats {
	return p.stats.snapshot()
}

var _ Policy = (*NoopPolicy)(nil)
