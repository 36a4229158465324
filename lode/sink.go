// Package lode archives progress entries in a Lode dataset.
//
// Records are JSON lines in a Hive layout partitioned by day, request and
// record kind. Storage is the local filesystem or S3.
package lode

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/buildlink/policy"
	"github.com/pithecene-io/buildlink/types"
)

// DefaultDataset is the dataset ID archives are written to.
const DefaultDataset = "buildlink"

// PartitionKeys is the Hive layout of the archive dataset.
var PartitionKeys = []string{"day", "request_id", "kind"}

// DeriveDay computes the partition day (YYYY-MM-DD, UTC) of t.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Config holds archive settings.
type Config struct {
	// Dataset is the Lode dataset ID. Default: DefaultDataset.
	Dataset string
	// Host is recorded on every record to tell archiving machines apart.
	Host string
}

func (c Config) dataset() string {
	if c.Dataset == "" {
		return DefaultDataset
	}
	return c.Dataset
}

// Client writes archive entries to storage.
type Client interface {
	// WriteEntries writes a batch, preserving order within it.
	WriteEntries(ctx context.Context, entries []*types.ArchiveEntry) error
	Close() error
}

// Sink adapts a Client to policy.Sink.
type Sink struct {
	client Client
}

// NewSink returns a policy sink writing through client.
func NewSink(client Client) *Sink {
	return &Sink{client: client}
}

// WriteEntries implements policy.Sink.
func (s *Sink) WriteEntries(ctx context.Context, entries []*types.ArchiveEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.client.WriteEntries(ctx, entries)
}

// Close implements policy.Sink.
func (s *Sink) Close() error {
	return s.client.Close()
}

var _ policy.Sink = (*Sink)(nil)

// StubClient records writes without persisting them.
type StubClient struct {
	mu      sync.Mutex
	Batches [][]*types.ArchiveEntry
	Closed  bool
}

// NewStubClient returns an empty stub client.
func NewStubClient() *StubClient {
	return &StubClient{}
}

// WriteEntries implements Client.
func (c *StubClient) WriteEntries(_ context.Context, entries []*types.ArchiveEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Batches = append(c.Batches, entries)
	return nil
}

// Close implements Client.
func (c *StubClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

var _ Client = (*StubClient)(nil)
