package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pithecene-io/buildlink/executor"
	"github.com/pithecene-io/buildlink/iox"
	"github.com/pithecene-io/buildlink/ipc"
	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/types"
)

// Client speaks the frame protocol to one daemon over one connection.
// It serves one request at a time.
type Client struct {
	conn   net.Conn
	enc    *ipc.FrameEncoder
	dec    *ipc.FrameDecoder
	stdin  io.Reader
	logger *log.Logger

	mu sync.Mutex
}

// NewClient wraps an established connection. stdin is forwarded to the build
// of the first request executed; nil means an empty stream. A stdin shared
// with later requests should be an *iox.Relay.
func NewClient(conn net.Conn, stdin io.Reader, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Client{
		conn:   conn,
		enc:    ipc.NewFrameEncoder(conn),
		dec:    ipc.NewFrameDecoder(conn),
		stdin:  iox.OrEmpty(stdin),
		logger: logger,
	}
}

// readFrame reads and decodes the next frame.
func (c *Client) readFrame() (any, error) {
	payload, err := c.dec.ReadFrame()
	if err != nil {
		return nil, err
	}
	return ipc.DecodeFrame(payload)
}

// Ping performs a health check and returns the daemon's identity.
func (c *Client) Ping(ctx context.Context) (*ipc.PongFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
		defer func() { _ = c.conn.SetDeadline(time.Time{}) }()
	}

	if err := c.enc.WriteFrame(&ipc.PingFrame{Type: ipc.TypePing, Version: types.Version}); err != nil {
		return nil, fmt.Errorf("send ping: %w", err)
	}
	frame, err := c.readFrame()
	if err != nil {
		return nil, fmt.Errorf("read pong: %w", err)
	}
	pong, ok := frame.(*ipc.PongFrame)
	if !ok {
		return nil, fmt.Errorf("expected pong, got %T", frame)
	}
	return pong, nil
}

// Stop asks the daemon to shut down.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.WriteFrame(&ipc.StopFrame{Type: ipc.TypeStop})
}

// Execute implements executor.BackendExecutor over the daemon connection.
//
// Standard input is streamed as stdin frames while the request runs. When
// ctx is done a cancel frame is sent and the call keeps waiting for the
// daemon's result, which then carries the cancellation failure.
func (c *Client) Execute(ctx context.Context, action types.BuildAction, req *executor.Request, params *types.BuildActionParameters) (*types.ExecutionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	envelope, err := types.WrapAction(action)
	if err != nil {
		return nil, types.InvalidRequest(err.Error())
	}
	if err := c.enc.WriteFrame(&ipc.RequestFrame{
		Type:   ipc.TypeRequest,
		Meta:   req.Meta,
		Action: envelope,
		Params: *params,
	}); err != nil {
		return nil, types.Connection("send request to daemon", err)
	}

	done := make(chan struct{})
	defer close(done)
	// Stdin is consumed once per client; later requests see an empty stream.
	stdin := c.stdin
	c.stdin = iox.OrEmpty(nil)
	go c.pumpStdin(stdin, done)
	go func() {
		select {
		case <-ctx.Done():
			req.Log().Info("cancellation requested", nil)
			_ = c.enc.WriteFrame(&ipc.CancelFrame{Type: ipc.TypeCancel})
		case <-done:
		}
	}()

	for {
		raw, err := c.dec.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, types.Connection("daemon disconnected before completing the request", nil)
			}
			return nil, types.Connection("daemon stream failed", err)
		}
		frame, err := ipc.DecodeFrame(raw)
		if err != nil {
			req.Log().Warn("skipping undecodable frame", map[string]any{"error": err.Error()})
			continue
		}

		switch f := frame.(type) {
		case *ipc.EventFrame:
			c.dispatch(req, f)
		case *ipc.ResultFrame:
			if f.Error != nil {
				return nil, f.Error
			}
			if err := f.Result.Validate(); err != nil {
				return nil, err
			}
			return f.Result, nil
		default:
			req.Log().Debug("ignoring frame", map[string]any{"frame": fmt.Sprintf("%T", f)})
		}
	}
}

// dispatch decodes an event frame and hands it to the request's consumer.
// A failed dispatch is logged; the request continues.
func (c *Client) dispatch(req *executor.Request, f *ipc.EventFrame) {
	event, err := ipc.DecodeEvent(f)
	if err != nil {
		req.Log().Warn("undecodable event", map[string]any{"kind": f.Kind, "error": err.Error()})
		return
	}
	if req.Events == nil {
		return
	}
	if err := req.Events.Dispatch(event); err != nil {
		req.Log().Warn("event dispatch failed", map[string]any{"kind": f.Kind, "error": err.Error()})
	}
}

// pumpStdin forwards standard input until EOF or until done is closed.
// Input arriving after done stays with stdin when it is an *iox.Relay.
func (c *Client) pumpStdin(stdin io.Reader, done <-chan struct{}) {
	ended := iox.Forward(stdin, done, func(data []byte) error {
		return c.enc.WriteFrame(&ipc.StdinFrame{Type: ipc.TypeStdin, Data: data})
	})
	if !ended {
		return
	}
	select {
	case <-done:
	default:
		_ = c.enc.WriteFrame(&ipc.StdinEOFFrame{Type: ipc.TypeStdinEOF})
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

var _ Conn = (*Client)(nil)
