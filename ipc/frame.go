// Package ipc implements the length-prefixed msgpack framing spoken between
// the daemon client and the daemon, and between a backend and the build tool.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/buildlink/types"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// MaxStdinChunkSize is the largest slice of standard input carried by one stdin frame.
	MaxStdinChunkSize = 64 * 1024
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
	// FrameErrorUnknownType indicates a well-formed frame with an unknown type.
	FrameErrorUnknownType
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if this error is fatal (the stream cannot be resynced).
// Partial and oversized frames are fatal.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// FrameDecoder decodes length-prefixed msgpack frames from a stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame reads a single frame from the stream.
// Returns the raw payload bytes (msgpack-encoded).
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	// Read 4-byte big-endian length prefix
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		// Partial read of length prefix
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])

	// Validate frame size
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	// Read payload
	payload := make([]byte, payloadSize)
	_, err = io.ReadFull(d.reader, payload)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return payload, nil
}

// frameTypeProbe is used to peek at the type field without full decode.
type frameTypeProbe struct {
	Type string `msgpack:"type"`
}

// DecodeFrame decodes a payload into the frame struct named by its type field.
// The result is one of the *...Frame types in this package.
func DecodeFrame(payload []byte) (any, error) {
	var probe frameTypeProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode frame type",
			Err:  err,
		}
	}

	var frame any
	switch probe.Type {
	case TypePing:
		frame = &PingFrame{}
	case TypePong:
		frame = &PongFrame{}
	case TypeStop:
		frame = &StopFrame{}
	case TypeRequest:
		frame = &RequestFrame{}
	case TypeCancel:
		frame = &CancelFrame{}
	case TypeStdin:
		frame = &StdinFrame{}
	case TypeStdinEOF:
		frame = &StdinEOFFrame{}
	case TypeEvent:
		frame = &EventFrame{}
	case TypeResult:
		frame = &ResultFrame{}
	default:
		return nil, &FrameError{
			Kind: FrameErrorUnknownType,
			Msg:  fmt.Sprintf("unknown frame type %q", probe.Type),
		}
	}

	if err := msgpack.Unmarshal(payload, frame); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("failed to decode %s frame", probe.Type),
			Err:  err,
		}
	}
	return frame, nil
}

// DecodeEvent decodes the body of an event frame.
// Kinds this version does not know yield *types.UnknownEvent rather than an error.
func DecodeEvent(frame *EventFrame) (any, error) {
	switch types.EventKind(frame.Kind) {
	case types.EventKindTestProgress:
		var event types.InternalTestProgressEvent
		if err := msgpack.Unmarshal(frame.Body, &event); err != nil {
			return nil, &FrameError{
				Kind: FrameErrorDecode,
				Msg:  "failed to decode test progress event",
				Err:  err,
			}
		}
		return &event, nil
	default:
		return &types.UnknownEvent{Kind: frame.Kind}, nil
	}
}
