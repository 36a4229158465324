package iox

import (
	"errors"
	"io"
	"sync"
)

// ErrStopped is returned by Relay.Next when the consumer's done channel
// closes before input arrives.
var ErrStopped = errors.New("relay consumer stopped")

// RelayChunkSize is the largest chunk a Relay reads from its source at once.
const RelayChunkSize = 32 * 1024

// Relay shares one input stream between consumers that take turns, such as
// the requests of a watch loop reading the process's standard input.
//
// At most one Read on the source is in flight. A chunk that arrives after its
// consumer stopped waiting is kept for the next consumer, so input is never
// dropped between requests.
type Relay struct {
	src     io.Reader
	results chan relayChunk

	mu      sync.Mutex
	reading bool
	rest    []byte
	restErr error
}

type relayChunk struct {
	data []byte
	err  error
}

// NewRelay returns a relay over src.
func NewRelay(src io.Reader) *Relay {
	return &Relay{src: src, results: make(chan relayChunk, 1)}
}

// Next returns the next chunk of input. It returns ErrStopped once done is
// closed; a nil done never stops. Data and a read error may be returned
// together.
func (r *Relay) Next(done <-chan struct{}) ([]byte, error) {
	r.mu.Lock()
	if len(r.rest) > 0 || r.restErr != nil {
		data, err := r.rest, r.restErr
		r.rest, r.restErr = nil, nil
		r.mu.Unlock()
		return data, err
	}
	if !r.reading {
		r.reading = true
		go r.fill()
	}
	r.mu.Unlock()

	select {
	case c := <-r.results:
		r.mu.Lock()
		r.reading = false
		select {
		case <-done:
			r.rest, r.restErr = c.data, c.err
			r.mu.Unlock()
			return nil, ErrStopped
		default:
		}
		r.mu.Unlock()
		return c.data, c.err
	case <-done:
		return nil, ErrStopped
	}
}

func (r *Relay) fill() {
	buf := make([]byte, RelayChunkSize)
	n, err := r.src.Read(buf)
	r.results <- relayChunk{data: buf[:n], err: err}
}

// Read implements io.Reader for consumers that never stop early.
func (r *Relay) Read(p []byte) (int, error) {
	data, err := r.Next(nil)
	n := copy(p, data)
	if n < len(data) {
		r.mu.Lock()
		r.rest, r.restErr = data[n:], err
		r.mu.Unlock()
		return n, nil
	}
	return n, err
}

// Forward copies input from src to write chunk by chunk until EOF, a write
// error or done. It reports whether the input ended, by EOF or a read error.
// When src is not a Relay it is wrapped in one for this call only.
func Forward(src io.Reader, done <-chan struct{}, write func([]byte) error) (ended bool) {
	relay, ok := src.(*Relay)
	if !ok {
		relay = NewRelay(src)
	}
	for {
		data, err := relay.Next(done)
		if errors.Is(err, ErrStopped) {
			return false
		}
		if len(data) > 0 {
			if werr := write(data); werr != nil {
				return false
			}
		}
		if err != nil {
			return true
		}
	}
}
