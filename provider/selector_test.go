package provider

import (
	"context"
	"io"
	"testing"

	"github.com/pithecene-io/buildlink/daemon"
	"github.com/pithecene-io/buildlink/executor"
	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/types"
)

// failingConnector fails the test if it is ever used.
type failingConnector struct{ t *testing.T }

func (c failingConnector) Connect(context.Context, *log.Logger, *daemon.Parameters, io.Reader) (daemon.Conn, error) {
	c.t.Fatal("daemon connector must not be invoked")
	return nil, nil
}

// stubConnector hands out a connection backed by backend.
type stubConnector struct {
	calls   int
	err     error
	backend executor.BackendExecutorFunc
	stdin   io.Reader
	params  *daemon.Parameters
	closed  int
}

func (c *stubConnector) Connect(_ context.Context, _ *log.Logger, p *daemon.Parameters, stdin io.Reader) (daemon.Conn, error) {
	c.calls++
	c.stdin = stdin
	c.params = p
	if c.err != nil {
		return nil, c.err
	}
	return &stubConn{BackendExecutorFunc: c.backend, owner: c}, nil
}

type stubConn struct {
	executor.BackendExecutorFunc
	owner *stubConnector
}

func (s *stubConn) Close() error {
	s.owner.closed++
	return nil
}

func success(context.Context, types.BuildAction, *executor.Request, *types.BuildActionParameters) (*types.ExecutionResult, error) {
	return types.SuccessResult(mustSerialize("ok")), nil
}

func resolved(t *testing.T) *ResolvedConfiguration {
	t.Helper()
	project, _ := isolate(t)
	cfg, err := (&Resolver{}).Resolve(&types.OperationParameters{ProjectDir: &project})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return cfg
}

func TestSelect_EmbeddedNeverConnects(t *testing.T) {
	shared := log.NewContext(io.Discard, types.LogLevelInfo)
	var sawStarted bool
	s := &Selector{
		Shared:    shared,
		Connector: failingConnector{t},
		Embedded: executor.BackendExecutorFunc(func(_ context.Context, _ types.BuildAction, _ *executor.Request, p *types.BuildActionParameters) (*types.ExecutionResult, error) {
			sawStarted = shared.Started()
			if p.UseDaemon {
				t.Error("embedded parameters claim daemon use")
			}
			return types.SuccessResult([]byte{1}), nil
		}),
	}

	sel, err := s.Select(resolved(t), &types.OperationParameters{Embedded: ptr(true)})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !sel.Embedded {
		t.Fatal("selection should be embedded")
	}
	if sel.Executor.(*executor.LoggingBridge).Context() != shared {
		t.Error("embedded selection must reuse the shared logging context")
	}
	if _, err := sel.Executor.Execute(context.Background(), &types.ClientProvidedAction{}, &executor.Request{}, &types.OperationParameters{Embedded: ptr(true)}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !sawStarted {
		t.Error("shared logging context not started during execution")
	}
	if err := sel.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestSelect_EmbeddedWithoutBackend(t *testing.T) {
	s := &Selector{Shared: log.NewContext(io.Discard, types.LogLevelInfo), Connector: failingConnector{t}}
	if _, err := s.Select(resolved(t), &types.OperationParameters{Embedded: ptr(true)}); !types.IsKind(err, types.KindInvalidRequest) {
		t.Fatalf("err = %v, want invalid request", err)
	}
}

func TestSelect_DaemonPathConnects(t *testing.T) {
	for _, embedded := range []*bool{nil, ptr(false)} {
		shared := log.NewContext(io.Discard, types.LogLevelInfo)
		connector := &stubConnector{backend: success}
		s := &Selector{Shared: shared, Connector: connector}
		params := &types.OperationParameters{Embedded: embedded, BuildLogLevel: ptr(types.LogLevelDebug)}

		sel, err := s.Select(resolved(t), params)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if sel.Embedded {
			t.Fatal("selection should use the daemon")
		}
		nested := sel.Executor.(*executor.LoggingBridge).Context()
		if nested == shared {
			t.Fatal("daemon selection must use a fresh logging context")
		}
		if nested.Level() != types.LogLevelDebug {
			t.Errorf("nested level = %s, want debug", nested.Level())
		}
		if connector.calls != 0 {
			t.Fatal("connection opened before execution")
		}

		if _, err := sel.Executor.Execute(context.Background(), &types.ClientProvidedAction{}, &executor.Request{}, params); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if connector.calls != 1 {
			t.Errorf("connector calls = %d, want 1", connector.calls)
		}
		n, rerr := connector.stdin.Read(make([]byte, 1))
		if n != 0 || rerr != io.EOF {
			t.Error("absent standard input should be an empty stream")
		}
		if err := sel.Close(); err != nil || connector.closed != 1 {
			t.Errorf("Close: err=%v closed=%d", err, connector.closed)
		}
	}
}

func TestSelect_ConnectionErrorPropagatesUnwrapped(t *testing.T) {
	connErr := types.Connection("no daemon running", nil)
	connector := &stubConnector{err: connErr}
	s := &Selector{Shared: log.NewContext(io.Discard, types.LogLevelInfo), Connector: connector}

	sel, err := s.Select(resolved(t), &types.OperationParameters{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	res, err := sel.Executor.Execute(context.Background(), &types.ClientProvidedAction{}, &executor.Request{}, &types.OperationParameters{})
	if res != nil {
		t.Error("connection failure must not become an execution result")
	}
	if err != connErr {
		t.Fatalf("err = %#v, want the connector's error unchanged", err)
	}
}
