package progress

import (
	"encoding/json"
	"io"
	"slices"
	"sync"

	"github.com/pithecene-io/buildlink/types"
)

// JSONLines writes each event as one JSON line. Safe for concurrent use.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

// NewJSONLines returns a listener writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

// OnEvent implements types.ProgressListener. The first write error is kept
// and later events are dropped.
func (l *JSONLines) OnEvent(event types.TestProgressEventV1) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return
	}
	l.err = l.enc.Encode(event)
}

// SubscribedEvents implements types.ProgressListener.
func (l *JSONLines) SubscribedEvents() []types.EventKind {
	return []types.EventKind{types.EventKindTestProgress}
}

// Err returns the first write error.
func (l *JSONLines) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Tee fans events out to several listeners in order.
//
// Member subscriptions are read once, by NewTee; events only reach members
// that subscribed to test progress.
type Tee struct {
	members []types.ProgressListener
	kinds   []types.EventKind
}

// NewTee returns a tee over listeners. Nil listeners are skipped.
func NewTee(listeners ...types.ProgressListener) *Tee {
	t := &Tee{}
	for _, l := range listeners {
		if l == nil {
			continue
		}
		kinds := l.SubscribedEvents()
		for _, k := range kinds {
			if !slices.Contains(t.kinds, k) {
				t.kinds = append(t.kinds, k)
			}
		}
		if slices.Contains(kinds, types.EventKindTestProgress) {
			t.members = append(t.members, l)
		}
	}
	return t
}

// OnEvent implements types.ProgressListener.
func (t *Tee) OnEvent(event types.TestProgressEventV1) {
	for _, l := range t.members {
		l.OnEvent(event)
	}
}

// SubscribedEvents returns the union of the members' subscriptions.
func (t *Tee) SubscribedEvents() []types.EventKind {
	return slices.Clone(t.kinds)
}

// Recorder keeps every event it receives. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []types.TestProgressEventV1
}

// OnEvent implements types.ProgressListener.
func (r *Recorder) OnEvent(event types.TestProgressEventV1) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// SubscribedEvents implements types.ProgressListener.
func (r *Recorder) SubscribedEvents() []types.EventKind {
	return []types.EventKind{types.EventKindTestProgress}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []types.TestProgressEventV1 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}
