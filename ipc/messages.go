package ipc

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/buildlink/payload"
	"github.com/pithecene-io/buildlink/types"
)

// Frame type discriminants.
const (
	TypePing     = "ping"
	TypePong     = "pong"
	TypeStop     = "stop"
	TypeRequest  = "request"
	TypeCancel   = "cancel"
	TypeStdin    = "stdin"
	TypeStdinEOF = "stdin_eof"
	TypeEvent    = "event"
	TypeResult   = "result"
)

// PingFrame is a client health probe.
type PingFrame struct {
	Type    string `msgpack:"type"`
	Version string `msgpack:"version"`
}

// PongFrame answers a ping with the daemon's identity.
type PongFrame struct {
	Type     string `msgpack:"type"`
	Version  string `msgpack:"version"`
	Protocol string `msgpack:"protocol"`
	PID      int    `msgpack:"pid"`
}

// StopFrame asks the daemon to shut down once idle.
type StopFrame struct {
	Type string `msgpack:"type"`
}

// RequestFrame carries one build request to the daemon.
type RequestFrame struct {
	Type   string                      `msgpack:"type"`
	Meta   types.RequestMeta           `msgpack:"meta"`
	Action types.ActionEnvelope        `msgpack:"action"`
	Params types.BuildActionParameters `msgpack:"params"`
}

// CancelFrame relays cancellation of the in-flight request.
type CancelFrame struct {
	Type string `msgpack:"type"`
}

// StdinFrame carries a chunk of the client's standard input.
type StdinFrame struct {
	Type string `msgpack:"type"`
	Data []byte `msgpack:"data"`
}

// StdinEOFFrame marks the end of the client's standard input.
type StdinEOFFrame struct {
	Type string `msgpack:"type"`
}

// EventFrame carries one progress event. Body stays raw so that event kinds
// unknown to the receiver pass through without a decode error.
type EventFrame struct {
	Type string             `msgpack:"type"`
	Kind string             `msgpack:"kind"`
	Body msgpack.RawMessage `msgpack:"body"`
}

// ResultFrame terminates a request.
//
// Result is set when the backend produced an execution result (success or
// business failure). Error is set when the request could not be executed at
// all; it is a transport-level failure, not a build failure.
type ResultFrame struct {
	Type   string                 `msgpack:"type"`
	Result *types.ExecutionResult `msgpack:"result,omitempty"`
	Error  *payload.RemoteError   `msgpack:"error,omitempty"`
}

// NewEventFrame encodes event as the body of an event frame of the given kind.
func NewEventFrame(kind types.EventKind, event any) (*EventFrame, error) {
	body, err := msgpack.Marshal(event)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to encode event body",
			Err:  err,
		}
	}
	return &EventFrame{Type: TypeEvent, Kind: string(kind), Body: body}, nil
}
