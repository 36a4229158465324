package lode

import (
	"context"
	"fmt"

	"github.com/justapithecus/lode/lode"
)

// Backends.
const (
	BackendNone = "none"
	BackendFS   = "fs"
	BackendS3   = "s3"
)

// Location says where an archive lives.
type Location struct {
	// Backend is BackendFS or BackendS3.
	Backend string
	// Path is a directory for fs and bucket/prefix for s3.
	Path string
	// S3 holds S3 connection settings. Bucket and Prefix come from Path.
	S3 S3Config
}

// Enabled reports whether l names a storage backend.
func (l Location) Enabled() bool {
	return l.Backend != "" && l.Backend != BackendNone
}

func (l Location) factory(ctx context.Context) (lode.StoreFactory, error) {
	if l.Path == "" {
		return nil, fmt.Errorf("archive path is required for the %s backend", l.Backend)
	}
	switch l.Backend {
	case BackendFS:
		return lode.NewFSFactory(l.Path), nil
	case BackendS3:
		s3cfg := l.S3
		s3cfg.Bucket, s3cfg.Prefix = ParseS3Path(l.Path)
		return S3Factory(ctx, s3cfg)
	default:
		return nil, fmt.Errorf("unknown archive backend %q (must be fs or s3)", l.Backend)
	}
}

// Open returns a client for the archive at loc.
func Open(ctx context.Context, cfg Config, loc Location) (*LodeClient, error) {
	factory, err := loc.factory(ctx)
	if err != nil {
		return nil, err
	}
	return NewLodeClientWithFactory(cfg, factory)
}
