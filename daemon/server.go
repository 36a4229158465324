package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/buildlink/adapter"
	"github.com/pithecene-io/buildlink/executor"
	"github.com/pithecene-io/buildlink/ipc"
	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/metrics"
	"github.com/pithecene-io/buildlink/payload"
	"github.com/pithecene-io/buildlink/types"
)

// notifyTimeout bounds one completion notification.
const notifyTimeout = 10 * time.Second

// ServerConfig configures a daemon server.
type ServerConfig struct {
	// Params are the daemon parameters the server was started with.
	Params *Parameters
	// Backend executes requests.
	Backend executor.BackendExecutor
	// Logging is the daemon's logging context. Default: log.Shared().
	Logging *log.Context
	// Collector records request outcomes. May be nil.
	Collector *metrics.Collector
	// Notifier publishes request completion events. May be nil.
	Notifier adapter.Adapter
	// SocketPath overrides the socket location (default <BaseDir>/daemon.sock).
	SocketPath string
}

// Server is a build daemon serving requests over a unix socket.
//
// At most one request executes at a time; a request arriving while another
// runs is rejected with a connection error so the client can fall back.
type Server struct {
	cfg      ServerConfig
	registry *Registry
	logger   *log.Logger

	listener net.Listener
	socket   string

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	busy     atomic.Bool
	inflight sync.WaitGroup
	activity chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// NewServer validates cfg and returns an unstarted server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Params == nil {
		return nil, errors.New("daemon server: params are required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("daemon server: backend is required")
	}
	if cfg.Logging == nil {
		cfg.Logging = log.Shared()
	}
	socket := cfg.SocketPath
	if socket == "" {
		socket = cfg.Params.SocketPath()
	}
	return &Server{
		cfg:      cfg,
		registry: NewRegistry(cfg.Params),
		logger:   log.NewLogger(nil),
		socket:   socket,
		conns:    make(map[net.Conn]struct{}),
		activity: make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}, nil
}

// Socket returns the socket path the server listens on.
func (s *Server) Socket() string {
	return s.socket
}

// Listen binds the socket and registers the daemon in the discovery file.
func (s *Server) Listen() error {
	if err := os.MkdirAll(s.cfg.Params.BaseDir, 0o700); err != nil {
		return fmt.Errorf("create daemon base dir: %w", err)
	}
	if err := os.Remove(s.socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.socket)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socket, err)
	}
	if err := s.registry.Write(NewInfo(s.cfg.Params, s.socket)); err != nil {
		_ = ln.Close()
		return fmt.Errorf("register daemon: %w", err)
	}
	s.listener = ln
	s.logger.Info("daemon listening", map[string]any{
		"socket":       s.socket,
		"pid":          os.Getpid(),
		"idle_timeout": s.cfg.Params.IdleTimeout().String(),
	})
	return nil
}

// Busy reports whether a request is executing.
func (s *Server) Busy() bool {
	return s.busy.Load()
}

// Stop asks the server to shut down after the in-flight request finishes.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Serve accepts connections until ctx is done, Stop is called, a stop frame
// arrives, or no request has been served for the idle timeout. It then
// waits for the in-flight request and removes the registration.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("daemon server: Serve called before Listen")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	acceptErr := make(chan error, 1)
	go func() {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				acceptErr <- err
				return
			}
			go s.handleConn(ctx, conn)
		}
	}()

	idle := time.NewTimer(s.cfg.Params.IdleTimeout())
	defer idle.Stop()

	var reason string
	var serveErr error
loop:
	for {
		select {
		case <-ctx.Done():
			reason = "context done"
			break loop
		case <-s.stop:
			reason = "stop requested"
			break loop
		case <-s.activity:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.cfg.Params.IdleTimeout())
		case <-idle.C:
			if s.busy.Load() {
				idle.Reset(s.cfg.Params.IdleTimeout())
				continue
			}
			reason = "idle timeout"
			break loop
		case err := <-acceptErr:
			reason = "listener closed"
			serveErr = err
			break loop
		}
	}

	s.logger.Info("daemon stopping", map[string]any{"reason": reason})
	_ = s.listener.Close()
	s.inflight.Wait()
	s.closeConns()
	if err := s.registry.Remove(os.Getpid()); err != nil {
		s.logger.Warn("failed to remove daemon registration", map[string]any{"error": err.Error()})
	}
	_ = os.Remove(s.socket)
	if serveErr != nil && !errors.Is(serveErr, net.ErrClosed) {
		return serveErr
	}
	return nil
}

// track registers conn for shutdown; it reports false once shut down.
func (s *Server) track(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.conns, conn)
}

// closeConns closes every open connection and refuses new ones.
func (s *Server) closeConns() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

// touch records activity for the idle timer.
func (s *Server) touch() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

// session is the state of one client connection.
type session struct {
	enc *ipc.FrameEncoder

	mu     sync.Mutex
	cancel context.CancelFunc
	stdin  *stdinBuffer
}

func (ss *session) current() (context.CancelFunc, *stdinBuffer) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.cancel, ss.stdin
}

func (ss *session) set(cancel context.CancelFunc, stdin *stdinBuffer) {
	ss.mu.Lock()
	ss.cancel, ss.stdin = cancel, stdin
	ss.mu.Unlock()
}

// handleConn runs the frame loop of one connection. The loop keeps reading
// while a request executes so that stdin and cancel frames are honoured.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	if !s.track(conn) {
		return
	}
	defer s.untrack(conn)

	dec := ipc.NewFrameDecoder(conn)
	ss := &session{enc: ipc.NewFrameEncoder(conn)}
	defer func() {
		if cancel, stdin := ss.current(); cancel != nil {
			cancel()
			stdin.CloseWrite()
		}
	}()

	for {
		raw, err := dec.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.cfg.Collector.IncIPCDecodeErrors()
				s.logger.Debug("connection closed", map[string]any{"error": err.Error()})
			}
			return
		}
		frame, err := ipc.DecodeFrame(raw)
		if err != nil {
			s.cfg.Collector.IncIPCDecodeErrors()
			s.logger.Warn("skipping undecodable frame", map[string]any{"error": err.Error()})
			continue
		}

		switch f := frame.(type) {
		case *ipc.PingFrame:
			_ = ss.enc.WriteFrame(&ipc.PongFrame{
				Type:     ipc.TypePong,
				Version:  types.Version,
				Protocol: types.ProtocolVersion,
				PID:      os.Getpid(),
			})
		case *ipc.StopFrame:
			s.Stop()
		case *ipc.RequestFrame:
			s.startRequest(ctx, ss, f)
		case *ipc.StdinFrame:
			if _, stdin := ss.current(); stdin != nil {
				_, _ = stdin.Write(f.Data)
			}
		case *ipc.StdinEOFFrame:
			if _, stdin := ss.current(); stdin != nil {
				stdin.CloseWrite()
			}
		case *ipc.CancelFrame:
			if cancel, _ := ss.current(); cancel != nil {
				s.logger.Info("cancel received", nil)
				cancel()
			}
		default:
			s.logger.Debug("ignoring frame", map[string]any{"frame": fmt.Sprintf("%T", f)})
		}
	}
}

// startRequest runs f in its own goroutine, or rejects it when busy.
func (s *Server) startRequest(ctx context.Context, ss *session, f *ipc.RequestFrame) {
	if !s.busy.CompareAndSwap(false, true) {
		s.cfg.Collector.IncRequestRejected()
		_ = ss.enc.WriteFrame(&ipc.ResultFrame{
			Type:  ipc.TypeResult,
			Error: payload.FromError(types.Connection("daemon busy", nil)),
		})
		return
	}
	s.touch()

	reqCtx, cancel := context.WithCancel(ctx)
	stdin := newStdinBuffer()
	ss.set(cancel, stdin)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			ss.set(nil, nil)
			cancel()
			stdin.CloseWrite()
			s.busy.Store(false)
			s.touch()
		}()
		s.serveRequest(reqCtx, ss.enc, f, stdin)
	}()
}

// serveRequest executes one request and writes its result frame.
func (s *Server) serveRequest(ctx context.Context, enc *ipc.FrameEncoder, f *ipc.RequestFrame, stdin *stdinBuffer) {
	started := time.Now()
	s.cfg.Collector.IncRequestStarted()

	lc := s.cfg.Logging
	lc.Start()
	defer lc.Stop()
	logger := lc.Logger(&f.Meta)

	action, err := f.Action.Action()
	if err != nil {
		s.finish(enc, f, nil, nil, err, started, 0)
		return
	}

	var events atomic.Int64
	req := &executor.Request{
		Meta:   f.Meta,
		Logger: logger,
		Events: executor.EventConsumerFunc(func(event any) error {
			frame, err := eventFrame(event)
			if err != nil {
				return err
			}
			if frame == nil {
				s.cfg.Collector.IncEventIgnored()
				return nil
			}
			events.Add(1)
			return enc.WriteFrame(frame)
		}),
	}
	params := f.Params
	params.Stdin = stdin

	logger.Info("request started", map[string]any{"action": string(action.Kind())})
	result, err := s.cfg.Backend.Execute(ctx, action, req, &params)
	s.finish(enc, f, action, result, err, started, events.Load())
}

// eventFrame encodes a backend event for the wire. A nil frame means the
// event has no wire form and is dropped.
func eventFrame(event any) (*ipc.EventFrame, error) {
	switch e := event.(type) {
	case *types.InternalTestProgressEvent:
		return ipc.NewEventFrame(types.EventKindTestProgress, e)
	case *types.UnknownEvent:
		return ipc.NewEventFrame(types.EventKind(e.Kind), nil)
	default:
		return nil, nil
	}
}

// finish writes the result frame, records metrics and publishes the
// completion event.
func (s *Server) finish(enc *ipc.FrameEncoder, f *ipc.RequestFrame, action types.BuildAction, result *types.ExecutionResult, execErr error, started time.Time, eventCount int64) {
	frame := &ipc.ResultFrame{Type: ipc.TypeResult}
	if execErr != nil {
		frame.Error = payload.FromError(execErr)
	} else {
		frame.Result = result
	}
	if err := enc.WriteFrame(frame); err != nil {
		s.logger.Warn("failed to write result", map[string]any{
			"request_id": f.Meta.RequestID,
			"error":      err.Error(),
		})
	}

	outcome, kind := classify(result, execErr)
	switch outcome {
	case adapter.OutcomeSucceeded:
		s.cfg.Collector.IncRequestSucceeded()
	case adapter.OutcomeCancelled:
		s.cfg.Collector.IncRequestCancelled()
	default:
		s.cfg.Collector.IncRequestFailed()
	}

	if s.cfg.Notifier == nil {
		return
	}
	event := &adapter.RequestCompletedEvent{
		ContractVersion: types.ProtocolVersion,
		EventType:       adapter.EventTypeRequestCompleted,
		RequestID:       f.Meta.RequestID,
		Action:          string(f.Action.Kind),
		ProjectDir:      f.Params.CurrentDir,
		Outcome:         outcome,
		ErrorKind:       string(kind),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		DaemonPID:       os.Getpid(),
		EventCount:      eventCount,
		DurationMs:      time.Since(started).Milliseconds(),
	}
	if fm, ok := action.(*types.FetchModelAction); ok {
		event.Model = fm.ModelName
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.cfg.Notifier.Publish(ctx, event); err != nil {
			s.logger.Warn("completion notification failed", map[string]any{
				"request_id": event.RequestID,
				"error":      err.Error(),
			})
		}
	}()
}

// classify maps an execution outcome to a notification outcome and error kind.
func classify(result *types.ExecutionResult, execErr error) (string, types.ErrorKind) {
	if execErr != nil {
		return adapter.OutcomeError, types.KindOf(execErr)
	}
	if !result.IsFailure() {
		return adapter.OutcomeSucceeded, types.KindUnknown
	}
	kind := types.KindOf(payload.Default().DeserializeFailure(result.Failure))
	if kind == types.KindCancelled {
		return adapter.OutcomeCancelled, kind
	}
	return adapter.OutcomeFailed, kind
}
