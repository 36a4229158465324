package lode

import (
	"context"
	"fmt"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/buildlink/types"
)

// LodeClient is the Lode-backed Client.
type LodeClient struct {
	dataset lode.Dataset
	config  Config
}

// NewLodeClient returns a client storing under root on the local filesystem.
func NewLodeClient(cfg Config, root string) (*LodeClient, error) {
	return NewLodeClientWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeClientWithFactory returns a client over a custom store factory.
// Tests use lode.NewMemoryFactory().
func NewLodeClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	ds, err := NewDataset(cfg.dataset(), factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.dataset())
	}
	return &LodeClient{dataset: ds, config: cfg}, nil
}

// NewDataset opens the archive dataset with the write path's layout and codec.
func NewDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout(PartitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// WriteEntries writes one snapshot holding the batch.
func (c *LodeClient) WriteEntries(ctx context.Context, entries []*types.ArchiveEntry) error {
	if len(entries) == 0 {
		return nil
	}
	records := make([]any, 0, len(entries))
	for _, e := range entries {
		m, err := toRecordMap(e, c.config)
		if err != nil {
			return fmt.Errorf("encode archive entry %s/%d: %w", e.RequestID, e.Seq, err)
		}
		records = append(records, m)
	}
	if _, err := c.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.config.dataset())
	}
	return nil
}

// Dataset returns the underlying dataset for reads.
func (c *LodeClient) Dataset() lode.Dataset {
	return c.dataset
}

// Close implements Client. Datasets hold no resources.
func (c *LodeClient) Close() error {
	return nil
}

var _ Client = (*LodeClient)(nil)
