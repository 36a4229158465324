// Package redis publishes request completion events on a Redis channel.
//
// The channel may name {outcome} or {action} to fan events out, e.g.
// "buildlink:{outcome}". With History set, each event is also pushed onto a
// capped list so late subscribers can catch up on recent requests.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/buildlink/adapter"
)

// DefaultChannel is the channel used when none is configured.
const DefaultChannel = "buildlink:request_completed"

// DefaultTimeout bounds one publish.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the number of retries after a failed publish.
const DefaultRetries = 3

// HistorySuffix is appended to the expanded channel to name the history list.
const HistorySuffix = ":history"

// Config configures the Redis adapter.
type Config struct {
	// URL is redis://[:password@]host:port[/db] (required).
	URL string
	// Channel is the channel template (default DefaultChannel).
	Channel string
	// History keeps the last History events per channel in a list. Zero disables it.
	History int64
	// Timeout bounds one publish (default 5s).
	Timeout time.Duration
	// Retries after the first failed publish.
	Retries int
}

// Adapter publishes completion events through one Redis client.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New parses cfg.URL and returns an adapter. The connection is opened lazily.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if err := adapter.CheckRetries("redis", cfg.Retries); err != nil {
		return nil, err
	}
	if cfg.History < 0 {
		return nil, fmt.Errorf("redis adapter: history must be >= 0, got %d", cfg.History)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Publish implements adapter.Adapter. With history enabled the publish and
// the list update run in one MULTI/EXEC transaction.
func (a *Adapter) Publish(ctx context.Context, event *adapter.RequestCompletedEvent) error {
	body, err := adapter.Encode("redis", event)
	if err != nil {
		return err
	}
	channel := adapter.Topic(a.config.Channel, event)

	return adapter.Retry(ctx, "redis", a.config.Retries, nil, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()

		if a.config.History == 0 {
			return a.client.Publish(ctx, channel, body).Err()
		}
		_, err := a.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Publish(ctx, channel, body)
			p.LPush(ctx, channel+HistorySuffix, body)
			p.LTrim(ctx, channel+HistorySuffix, 0, a.config.History-1)
			return nil
		})
		return err
	})
}

// Close implements adapter.Adapter.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
