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
	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/metrics"
	"github.com/pithecene-io/buildlink/types"
)

// Conn is a connected daemon client.
type Conn interface {
	executor.BackendExecutor
	io.Closer
}

// Connector establishes daemon connections.
// Connect fails with a ConnectionError when no usable daemon can be reached.
type Connector interface {
	Connect(ctx context.Context, logger *log.Logger, params *Parameters, stdin io.Reader) (Conn, error)
}

// DefaultDialTimeout bounds socket dial and the ping health check.
const DefaultDialTimeout = 5 * time.Second

// SocketConnector connects to the daemon registered in the parameters' base
// directory. It never spawns a daemon.
type SocketConnector struct {
	// DialTimeout bounds dial and health check (default 5s).
	DialTimeout time.Duration
	// Collector records connection outcomes. May be nil.
	Collector *metrics.Collector
}

// Connect implements Connector.
//
// Flow:
//  1. Read <BaseDir>/daemon.json under the registry lock
//  2. Check the daemon is compatible with params
//  3. Dial the daemon socket
//  4. Ping/pong health check
func (c *SocketConnector) Connect(ctx context.Context, logger *log.Logger, params *Parameters, stdin io.Reader) (Conn, error) {
	conn, err := c.connect(ctx, logger, params, stdin)
	if err != nil {
		c.Collector.IncDaemonConnectFailure()
		return nil, err
	}
	c.Collector.IncDaemonConnectSuccess()
	return conn, nil
}

func (c *SocketConnector) connect(ctx context.Context, logger *log.Logger, params *Parameters, stdin io.Reader) (Conn, error) {
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	info, err := NewRegistry(params).Read()
	if errors.Is(err, ErrNoDaemon) {
		return nil, types.Connection(fmt.Sprintf("no daemon running in %s", params.BaseDir), nil)
	}
	if err != nil {
		return nil, types.Connection("cannot read daemon registry", err)
	}
	if err := info.Compatible(params); err != nil {
		return nil, types.Connection("running daemon is incompatible", err)
	}

	dialer := net.Dialer{Timeout: timeout}
	nc, err := dialer.DialContext(ctx, "unix", info.Socket)
	if err != nil {
		return nil, types.Connection(fmt.Sprintf("cannot reach daemon pid %d", info.PID), err)
	}

	client := NewClient(nc, stdin, logger)
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	pong, err := client.Ping(pingCtx)
	if err != nil {
		_ = client.Close()
		return nil, types.Connection(fmt.Sprintf("daemon pid %d failed health check", info.PID), err)
	}

	logger.Debug("connected to daemon", map[string]any{
		"pid":     pong.PID,
		"version": pong.Version,
		"socket":  info.Socket,
	})
	return client, nil
}

// LazyExecutor is a BackendExecutor that opens its daemon connection on the
// first Execute, so that connection setup runs inside the executor chain.
type LazyExecutor struct {
	connector Connector
	params    *Parameters
	stdin     io.Reader

	mu   sync.Mutex
	conn Conn
}

// NewLazyExecutor returns an executor connecting through connector on first use.
func NewLazyExecutor(connector Connector, params *Parameters, stdin io.Reader) *LazyExecutor {
	return &LazyExecutor{connector: connector, params: params.Clone(), stdin: stdin}
}

// Execute implements executor.BackendExecutor.
func (e *LazyExecutor) Execute(ctx context.Context, action types.BuildAction, req *executor.Request, params *types.BuildActionParameters) (*types.ExecutionResult, error) {
	conn, err := e.connection(ctx, req.Log())
	if err != nil {
		return nil, err
	}
	return conn.Execute(ctx, action, req, params)
}

func (e *LazyExecutor) connection(ctx context.Context, logger *log.Logger) (Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return e.conn, nil
	}
	conn, err := e.connector.Connect(ctx, logger, e.params, e.stdin)
	if err != nil {
		if types.KindOf(err) != types.KindConnection {
			err = types.Connection("cannot connect to daemon", err)
		}
		return nil, err
	}
	e.conn = conn
	return conn, nil
}

// Close closes the connection if one was opened.
func (e *LazyExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}
