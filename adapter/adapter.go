// Package adapter defines the completion-notification boundary.
//
// Adapters publish a request-completed event to a downstream system after the
// daemon finishes serving a request. Publishing happens off the request path;
// a failed publish never changes the outcome the client sees.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventTypeRequestCompleted is the event_type of every published event.
const EventTypeRequestCompleted = "request_completed"

// Outcomes reported in RequestCompletedEvent.Outcome.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// RequestCompletedEvent is the payload published when a request finishes.
type RequestCompletedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "request_completed"
	RequestID       string `json:"request_id"`
	Action          string `json:"action"`          // fetch_model, client_provided
	Model           string `json:"model,omitempty"` // fetch_model only
	ProjectDir      string `json:"project_dir"`
	Outcome         string `json:"outcome"`              // succeeded, failed, cancelled, error
	ErrorKind       string `json:"error_kind,omitempty"` // set unless succeeded
	Timestamp       string `json:"timestamp"`            // ISO 8601
	DaemonPID       int    `json:"daemon_pid"`
	EventCount      int64  `json:"event_count"`
	DurationMs      int64  `json:"duration_ms"`
}

// Adapter publishes request completion events to a downstream system.
type Adapter interface {
	// Publish sends a request completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RequestCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Header names carried by adapters whose transport has headers.
const (
	HeaderEventType = "Buildlink-Event"
	HeaderRequestID = "Buildlink-Request-Id"
	HeaderOutcome   = "Buildlink-Outcome"
)

// Headers returns the transport headers describing event.
func Headers(event *RequestCompletedEvent) map[string]string {
	return map[string]string{
		HeaderEventType: event.EventType,
		HeaderRequestID: event.RequestID,
		HeaderOutcome:   event.Outcome,
	}
}

// Topic expands the {outcome} and {action} placeholders of a channel or
// subject template. Templates without placeholders are returned unchanged.
func Topic(template string, event *RequestCompletedEvent) string {
	if !strings.Contains(template, "{") {
		return template
	}
	return strings.NewReplacer(
		"{outcome}", event.Outcome,
		"{action}", event.Action,
	).Replace(template)
}

// Encode returns the JSON body of event.
func Encode(name string, event *RequestCompletedEvent) ([]byte, error) {
	if event == nil {
		return nil, fmt.Errorf("%s: nil event", name)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal event: %w", name, err)
	}
	return body, nil
}

// CheckRetries rejects a negative retry count.
func CheckRetries(name string, retries int) error {
	if retries < 0 {
		return fmt.Errorf("%s adapter: retries must be >= 0, got %d", name, retries)
	}
	return nil
}

// RetryBackoff is the delay before the first retry; it doubles per attempt.
var RetryBackoff = 500 * time.Millisecond

// Retry calls attempt up to 1+retries times with exponential backoff between
// calls. It stops early when attempt succeeds, when permanent reports the
// error as non-retriable, or when ctx is done. name prefixes returned errors.
func Retry(ctx context.Context, name string, retries int, permanent func(error) bool, attempt func(context.Context) error) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		// Backoff before retries, not before the first attempt
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * RetryBackoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
