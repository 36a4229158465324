// Package webhook posts request completion events to an HTTP endpoint.
//
// The body is the JSON event. Buildlink-* headers repeat the event type,
// request ID and outcome so receivers can route without parsing the body.
// Server errors and network failures are retried; 4xx responses are not.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pithecene-io/buildlink/adapter"
	"github.com/pithecene-io/buildlink/iox"
	"github.com/pithecene-io/buildlink/types"
)

// DefaultTimeout bounds one POST.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the number of retries after a failed POST.
const DefaultRetries = 3

// maxErrorBody caps how much of a failed response is kept in StatusError.
const maxErrorBody = 512

// Config configures the webhook adapter.
type Config struct {
	// URL receives the POST (required).
	URL string
	// Headers are added to every request and override the Buildlink-* headers.
	Headers map[string]string
	// Timeout bounds one POST (default 10s).
	Timeout time.Duration
	// Retries after the first failed POST.
	Retries int
}

// Adapter posts completion events.
type Adapter struct {
	config    Config
	client    *http.Client
	userAgent string
}

// New validates cfg and returns an adapter. No request is made.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return nil, fmt.Errorf("webhook adapter: URL %q must be http or https", cfg.URL)
	}
	if err := adapter.CheckRetries("webhook", cfg.Retries); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{
		config:    cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: "buildlink/" + types.Version,
	}, nil
}

// Publish implements adapter.Adapter.
func (a *Adapter) Publish(ctx context.Context, event *adapter.RequestCompletedEvent) error {
	body, err := adapter.Encode("webhook", event)
	if err != nil {
		return err
	}
	headers := adapter.Headers(event)
	for k, v := range a.config.Headers {
		headers[k] = v
	}
	return adapter.Retry(ctx, "webhook", a.config.Retries, isClientError, func(ctx context.Context) error {
		return a.post(ctx, body, headers)
	})
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	// Body is the start of the response body.
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// isClientError reports a 4xx response other than 408 and 429.
func isClientError(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return se.Code >= 400 && se.Code < 500
}

func (a *Adapter) post(ctx context.Context, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", a.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection is reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, resp.Body)
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}

// Close implements adapter.Adapter.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
