package policy

import (
	"fmt"
	"time"

	"github.com/pithecene-io/buildlink/log"
)

// Config selects and configures a policy by name.
type Config struct {
	// Name is one of strict, buffered, streaming or noop. Default: strict.
	Name string
	// MaxBufferEntries and MaxBufferBytes bound the buffered policy.
	MaxBufferEntries int
	MaxBufferBytes   int64
	// FlushCount and FlushInterval trigger streaming flushes.
	FlushCount    int
	FlushInterval time.Duration
	// Logger is optional.
	Logger *log.Logger
}

// New builds the policy named in cfg over sink.
// The noop policy ignores sink.
func New(cfg Config, sink Sink) (Policy, error) {
	switch cfg.Name {
	case "", NameStrict:
		return NewStrictPolicy(sink), nil
	case NameBuffered:
		bc := BufferedConfig{
			MaxBufferEntries: cfg.MaxBufferEntries,
			MaxBufferBytes:   cfg.MaxBufferBytes,
			Logger:           cfg.Logger,
		}
		if bc.MaxBufferEntries == 0 && bc.MaxBufferBytes == 0 {
			def := DefaultBufferedConfig()
			bc.MaxBufferEntries, bc.MaxBufferBytes = def.MaxBufferEntries, def.MaxBufferBytes
		}
		return NewBufferedPolicy(sink, bc)
	case NameStreaming:
		return NewStreamingPolicy(sink, StreamingConfig{
			FlushCount:    cfg.FlushCount,
			FlushInterval: cfg.FlushInterval,
			Logger:        cfg.Logger,
		})
	case NameNoop:
		return NewNoopPolicy(), nil
	default:
		return nil, fmt.Errorf("unknown policy %q (want %s, %s, %s or %s)",
			cfg.Name, NameStrict, NameBuffered, NameStreaming, NameNoop)
	}
}
