package lode

import (
	"context"

	"github.com/pithecene-io/buildlink/metrics"
	"github.com/pithecene-io/buildlink/policy"
	"github.com/pithecene-io/buildlink/types"
)

// InstrumentedSink counts archive write outcomes on a metrics collector.
type InstrumentedSink struct {
	inner     policy.Sink
	collector *metrics.Collector
}

// NewInstrumentedSink wraps inner.
func NewInstrumentedSink(inner policy.Sink, collector *metrics.Collector) *InstrumentedSink {
	return &InstrumentedSink{inner: inner, collector: collector}
}

// WriteEntries implements policy.Sink.
func (s *InstrumentedSink) WriteEntries(ctx context.Context, entries []*types.ArchiveEntry) error {
	err := s.inner.WriteEntries(ctx, entries)
	if err != nil {
		s.collector.IncArchiveWriteFailure()
	} else {
		s.collector.IncArchiveWriteSuccess()
	}
	return err
}

// Close implements policy.Sink.
func (s *InstrumentedSink) Close() error {
	return s.inner.Close()
}

var _ policy.Sink = (*InstrumentedSink)(nil)
