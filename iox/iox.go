// Package iox holds small I/O helpers shared by the transports.
package iox

import "io"

// DiscardClose closes c and discards the error. For defers where a close
// error cannot change the outcome:
//
//	defer iox.DiscardClose(resp.Body)
func DiscardClose(c io.Closer) { _ = c.Close() }

// OrEmpty returns r, or a reader that is immediately at EOF when r is nil.
// Builds without forwarded standard input read from it.
func OrEmpty(r io.Reader) io.Reader {
	if r == nil {
		return eofReader{}
	}
	return r
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
