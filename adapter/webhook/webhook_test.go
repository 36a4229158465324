package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/buildlink/adapter"
	"github.com/pithecene-io/buildlink/iox"
)

func init() {
	adapter.RetryBackoff = time.Millisecond
}

func testEvent() *adapter.RequestCompletedEvent {
	return &adapter.RequestCompletedEvent{
		ContractVersion: "0.3.0",
		EventType:       adapter.EventTypeRequestCompleted,
		RequestID:       "req-001",
		Action:          "fetch_model",
		Model:           "Project",
		ProjectDir:      "/work/app",
		Outcome:         adapter.OutcomeSucceeded,
		Timestamp:       "2026-02-07T12:00:00Z",
		DaemonPID:       4242,
		EventCount:      12,
		DurationMs:      1500,
	}
}

func TestPublish_Success(t *testing.T) {
	var received adapter.RequestCompletedEvent
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		if got := r.Header.Get("X-Token"); got != "secret" {
			t.Errorf("X-Token = %q", got)
		}
		if got := r.Header.Get(adapter.HeaderRequestID); got != "req-001" {
			t.Errorf("%s = %q", adapter.HeaderRequestID, got)
		}
		if got := r.Header.Get(adapter.HeaderOutcome); got != adapter.OutcomeSucceeded {
			t.Errorf("%s = %q", adapter.HeaderOutcome, got)
		}
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "buildlink/") {
			t.Errorf("User-Agent = %q", ua)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a, err := New(Config{URL: ts.URL, Headers: map[string]string{"X-Token": "secret"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(a)

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if received.RequestID != "req-001" || received.Outcome != adapter.OutcomeSucceeded {
		t.Errorf("received = %+v", received)
	}
}

func TestPublish_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	a, err := New(Config{URL: ts.URL, Retries: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(a)

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestPublish_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	a, err := New(Config{URL: ts.URL, Retries: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(a)

	if err := a.Publish(t.Context(), testEvent()); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestPublish_RateLimitRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	a, err := New(Config{URL: ts.URL, Retries: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(a)

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestPublish_StatusErrorKeepsBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "unknown project\n")
	}))
	defer ts.Close()

	a, err := New(Config{URL: ts.URL})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(a)

	err = a.Publish(t.Context(), testEvent())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusBadRequest || se.Body != "unknown project" {
		t.Errorf("status error = %+v", se)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := New(Config{URL: "ftp://x"}); err == nil {
		t.Error("expected error for non-http URL")
	}
	if _, err := New(Config{URL: "http://x", Retries: -1}); err == nil {
		t.Error("expected error for negative retries")
	}
	a, err := New(Config{URL: "http://x"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.config.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want default", a.config.Timeout)
	}
}
