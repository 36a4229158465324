package iox

import (
	"errors"
	"io"
	"strings"
	"testing"
)

type spyCloser struct{ closed bool }

func (s *spyCloser) Close() error { s.closed = true; return errors.New("ignored") }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestOrEmpty(t *testing.T) {
	data, err := io.ReadAll(OrEmpty(nil))
	if err != nil || len(data) != 0 {
		t.Fatalf("OrEmpty(nil) read %q, %v", data, err)
	}
	r := strings.NewReader("in")
	if OrEmpty(r) != io.Reader(r) {
		t.Fatal("OrEmpty should return a non-nil reader unchanged")
	}
}
