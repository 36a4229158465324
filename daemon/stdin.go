package daemon

import (
	"bytes"
	"io"
	"sync"
)

// stdinBuffer is the build's view of client standard input received as
// stdin frames. Writes never block the connection read loop; reads block
// until data arrives or the stream is closed.
type stdinBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newStdinBuffer() *stdinBuffer {
	b := &stdinBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Write appends p. Writes after close are dropped.
func (b *stdinBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return len(p), nil
	}
	n, err := b.buf.Write(p)
	b.cond.Broadcast()
	return n, err
}

// CloseWrite marks the end of input. Buffered data stays readable.
func (b *stdinBuffer) CloseWrite() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Read implements io.Reader.
func (b *stdinBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.buf.Len() == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.buf.Len() == 0 {
		return 0, io.EOF
	}
	return b.buf.Read(p)
}
