// Package nats publishes request completion events on a NATS subject.
//
// The subject may name {outcome} or {action}, e.g.
// "buildlink.request_completed.{outcome}". Messages carry the Buildlink-*
// headers. Each publish is flushed, so success means the server has it.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pithecene-io/buildlink/adapter"
)

// DefaultSubject is the default subject name.
const DefaultSubject = "buildlink.request_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// Config configures the NATS adapter.
type Config struct {
	// URL is the NATS server URL (required), e.g. nats://localhost:4222.
	URL string
	// Subject is the subject to publish on (default: buildlink.request_completed).
	Subject string
	// Timeout bounds the connect and each publish flush (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
}

// Adapter publishes request completion events to a NATS subject.
type Adapter struct {
	config Config
	conn   *nats.Conn
}

// New connects to the NATS server and returns an adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats adapter requires a URL")
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if err := adapter.CheckRetries("nats", cfg.Retries); err != nil {
		return nil, err
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("buildlink-daemon"),
		nats.Timeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("nats adapter: connect: %w", err)
	}

	return &Adapter{config: cfg, conn: conn}, nil
}

// Publish sends the event as JSON on the configured subject.
func (a *Adapter) Publish(ctx context.Context, event *adapter.RequestCompletedEvent) error {
	body, err := adapter.Encode("nats", event)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(adapter.Topic(a.config.Subject, event))
	msg.Data = body
	for k, v := range adapter.Headers(event) {
		msg.Header.Set(k, v)
	}

	return adapter.Retry(ctx, "nats", a.config.Retries, nil, func(ctx context.Context) error {
		if err := a.conn.PublishMsg(msg); err != nil {
			return err
		}
		flushCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.conn.FlushWithContext(flushCtx)
	})
}

// Close drains and closes the connection.
func (a *Adapter) Close() error {
	if err := a.conn.Drain(); err != nil {
		a.conn.Close()
		return err
	}
	return nil
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
