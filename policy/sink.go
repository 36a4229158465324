package policy

import (
	"context"
	"slices"
	"sync"

	"github.com/pithecene-io/buildlink/types"
)

// Sink persists archive entries.
// Batches are written in order; a failed batch may be retried as a whole.
type Sink interface {
	WriteEntries(ctx context.Context, entries []*types.ArchiveEntry) error
	Close() error
}

// StubSink records writes in memory. Used by tests and by the noop archive.
type StubSink struct {
	mu sync.Mutex

	// Batches holds every successful batch in write order.
	Batches [][]*types.ArchiveEntry
	// Closed is set by Close.
	Closed bool
	// ErrorOnWrite, if non-nil, is returned by WriteEntries.
	ErrorOnWrite error
}

// NewStubSink returns an empty stub sink.
func NewStubSink() *StubSink {
	return &StubSink{}
}

// WriteEntries implements Sink.
func (s *StubSink) WriteEntries(_ context.Context, entries []*types.ArchiveEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}
	s.Batches = append(s.Batches, slices.Clone(entries))
	return nil
}

// Close implements Sink.
func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Fail sets the error returned by subsequent writes.
func (s *StubSink) Fail(err error) {
	s.mu.Lock()
	s.ErrorOnWrite = err
	s.mu.Unlock()
}

// Entries returns every written entry in order.
func (s *StubSink) Entries() []*types.ArchiveEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ArchiveEntry
	for _, b := range s.Batches {
		out = append(out, b...)
	}
	return out
}

// BatchCount returns the number of successful writes.
func (s *StubSink) BatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Batches)
}
