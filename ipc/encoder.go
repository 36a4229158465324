package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// FrameEncoder writes length-prefixed msgpack frames to a stream.
// Safe for concurrent use; each frame is written with a single Write call.
type FrameEncoder struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewFrameEncoder creates a new frame encoder.
func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{writer: w}
}

// WriteFrame encodes v and writes it as one frame.
func (e *FrameEncoder) WriteFrame(v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to encode frame",
			Err:  err,
		}
	}
	return e.WritePayload(payload)
}

// WritePayload writes an already-encoded payload as one frame.
func (e *FrameEncoder) WritePayload(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}

	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.writer.Write(buf)
	return err
}
