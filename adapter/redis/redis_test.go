package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pithecene-io/buildlink/adapter"
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
		Outcome:         adapter.OutcomeFailed,
		ErrorKind:       "execution",
		Timestamp:       "2026-02-07T12:00:00Z",
		DaemonPID:       4242,
		DurationMs:      900,
	}
}

// asyncReceive starts a goroutine that reads one message from the subscriber
// and sends it to the returned channel. Must be called BEFORE Publish to avoid
// deadlocking miniredis's synchronous pub/sub delivery.
func asyncReceive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func waitMessage(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
		return miniredis.PubsubMessage{} // unreachable
	}
}

func TestPublish_DefaultChannel(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe(DefaultChannel)
	ch := asyncReceive(sub)

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := waitMessage(t, ch)
	var received adapter.RequestCompletedEvent
	if err := json.Unmarshal([]byte(msg.Message), &received); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if received.RequestID != "req-001" {
		t.Errorf("RequestID = %q", received.RequestID)
	}
	if received.ErrorKind != "execution" {
		t.Errorf("ErrorKind = %q", received.ErrorKind)
	}
}

func TestPublish_CustomChannel(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr(), Channel: "builds"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe("builds")
	ch := asyncReceive(sub)

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if msg := waitMessage(t, ch); msg.Channel != "builds" {
		t.Errorf("channel = %q", msg.Channel)
	}
}

func TestPublish_OutcomeChannel(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr(), Channel: "buildlink:{outcome}"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe("buildlink:failed")
	ch := asyncReceive(sub)

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if msg := waitMessage(t, ch); msg.Channel != "buildlink:failed" {
		t.Errorf("channel = %q", msg.Channel)
	}
}

func TestPublish_HistoryIsCapped(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr(), History: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	for _, id := range []string{"req-1", "req-2", "req-3"} {
		ev := testEvent()
		ev.RequestID = id
		if err := a.Publish(t.Context(), ev); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}

	items, err := mr.List(DefaultChannel + HistorySuffix)
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("history has %d items, want 2", len(items))
	}
	var newest adapter.RequestCompletedEvent
	if err := json.Unmarshal([]byte(items[0]), &newest); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if newest.RequestID != "req-3" {
		t.Errorf("newest = %q, want req-3", newest.RequestID)
	}
}

func TestPublish_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	a, err := New(Config{URL: "redis://" + addr, Retries: 1, Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.Publish(t.Context(), testEvent()); err == nil {
		t.Fatal("expected error when server is down")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := New(Config{URL: "not a url"}); err == nil {
		t.Error("expected error for invalid URL")
	}
	if _, err := New(Config{URL: "redis://localhost:6379", Retries: -1}); err == nil {
		t.Error("expected error for negative retries")
	}
	if _, err := New(Config{URL: "redis://localhost:6379", History: -1}); err == nil {
		t.Error("expected error for negative history")
	}
}
