package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/buildlink/executor"
	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/metrics"
	"github.com/pithecene-io/buildlink/payload"
	"github.com/pithecene-io/buildlink/progress"
	"github.com/pithecene-io/buildlink/types"
)

func mustSerialize(v any) []byte {
	b, err := payload.Default().Serialize(v)
	if err != nil {
		panic(err)
	}
	return b
}

// recordingBackend records every Execute call.
type recordingBackend struct {
	mu      sync.Mutex
	calls   []types.BuildAction
	reqs    []*executor.Request
	params  []*types.BuildActionParameters
	respond func(ctx context.Context, req *executor.Request) (*types.ExecutionResult, error)
}

func (b *recordingBackend) Execute(ctx context.Context, a types.BuildAction, req *executor.Request, p *types.BuildActionParameters) (*types.ExecutionResult, error) {
	b.mu.Lock()
	b.calls = append(b.calls, a)
	b.reqs = append(b.reqs, req)
	b.params = append(b.params, p)
	b.mu.Unlock()
	if b.respond != nil {
		return b.respond(ctx, req)
	}
	return types.SuccessResult(mustSerialize(&types.Model{Name: "Project"})), nil
}

func newTestConnection(t *testing.T, backend *recordingBackend) (*Connection, *metrics.Collector) {
	t.Helper()
	c := metrics.NewCollector("embedded", "none")
	return NewConnection(Config{
		Embedded:  backend,
		Connector: failingConnector{t},
		Logging:   log.NewContext(io.Discard, types.LogLevelInfo),
		Collector: c,
		Now:       func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	}), c
}

func embeddedParams(t *testing.T) *types.OperationParameters {
	t.Helper()
	project, _ := isolate(t)
	return &types.OperationParameters{ProjectDir: &project, Embedded: ptr(true)}
}

func TestRunModel_BuildEnvironmentShortcut(t *testing.T) {
	backend := &recordingBackend{}
	conn, _ := newTestConnection(t, backend)
	params := embeddedParams(t)
	jdk := t.TempDir()
	params.JavaHome = &jdk
	params.JvmArguments = []string{"-Xmx1g"}

	v, err := conn.RunModel(context.Background(), types.BuildEnvironmentModel, params)
	if err != nil {
		t.Fatalf("RunModel: %v", err)
	}
	env, ok := v.(*types.BuildEnvironment)
	if !ok {
		t.Fatalf("result = %T, want *types.BuildEnvironment", v)
	}
	if env.Version != types.Version || env.JavaHome != jdk || len(env.JvmArgs) != 1 || env.UserHome == "" {
		t.Errorf("env = %+v", env)
	}
	if len(backend.calls) != 0 {
		t.Errorf("backend called %d times, want 0", len(backend.calls))
	}
}

func TestRunModel_InvalidRequests(t *testing.T) {
	backend := &recordingBackend{}
	conn, c := newTestConnection(t, backend)

	params := embeddedParams(t)
	params.Tasks = &[]string{"build"}
	if _, err := conn.RunModel(context.Background(), types.BuildEnvironmentModel, params); !types.IsKind(err, types.KindInvalidRequest) {
		t.Errorf("environment with tasks: err = %v", err)
	}
	if _, err := conn.RunModel(context.Background(), types.NullModel, embeddedParams(t)); !types.IsKind(err, types.KindInvalidRequest) {
		t.Errorf("no model no tasks: err = %v", err)
	}
	if len(backend.calls) != 0 {
		t.Errorf("backend called %d times", len(backend.calls))
	}
	if c.Snapshot().RequestsRejected != 2 {
		t.Errorf("RequestsRejected = %d", c.Snapshot().RequestsRejected)
	}
}

func TestRunModel_ReturnsModel(t *testing.T) {
	backend := &recordingBackend{}
	conn, c := newTestConnection(t, backend)
	params := embeddedParams(t)
	params.Tasks = &[]string{"assemble"}

	v, err := conn.RunModel(context.Background(), "project", params)
	if err != nil {
		t.Fatalf("RunModel: %v", err)
	}
	if m, ok := v.(*types.Model); !ok || m.Name != "Project" {
		t.Fatalf("result = %#v", v)
	}

	a := backend.calls[0].(*types.FetchModelAction)
	if a.ModelName != "Project" || !a.RunTasks || a.ListenToTestProgress {
		t.Errorf("action = %+v", a)
	}
	req := backend.reqs[0]
	if req.Meta.RequestID == "" || req.Meta.StartTime != 1_700_000_000_000 {
		t.Errorf("meta = %+v", req.Meta)
	}
	if backend.params[0].CurrentDir != *params.ProjectDir {
		t.Errorf("CurrentDir = %q", backend.params[0].CurrentDir)
	}
	if c.Snapshot().RequestsSucceeded != 1 {
		t.Errorf("RequestsSucceeded = %d", c.Snapshot().RequestsSucceeded)
	}
}

func TestRunModel_ExplicitStartTime(t *testing.T) {
	backend := &recordingBackend{}
	conn, _ := newTestConnection(t, backend)
	params := embeddedParams(t)
	params.Tasks = &[]string{}
	start := time.UnixMilli(42)
	params.StartTime = &start

	if _, err := conn.RunModel(context.Background(), types.NullModel, params); err != nil {
		t.Fatalf("RunModel: %v", err)
	}
	if got := backend.reqs[0].Meta.StartTime; got != 42 {
		t.Errorf("StartTime = %d, want 42", got)
	}
}

func TestRunModel_ProgressRoutedToListener(t *testing.T) {
	backend := &recordingBackend{
		respond: func(_ context.Context, req *executor.Request) (*types.ExecutionResult, error) {
			_ = req.Events.Dispatch(&types.InternalTestProgressEvent{
				Structure:  types.StructureSuite,
				Phase:      types.PhaseStarted,
				Descriptor: types.InternalTestDescriptor{ID: "s", Name: "suite"},
			})
			_ = req.Events.Dispatch(&types.UnknownEvent{Kind: "task_progress"})
			return types.SuccessResult(mustSerialize(&types.Model{Name: "Project"})), nil
		},
	}
	conn, _ := newTestConnection(t, backend)
	listener := &progress.Recorder{}
	params := embeddedParams(t)
	params.ProgressListener = listener

	if _, err := conn.RunModel(context.Background(), "Project", params); err != nil {
		t.Fatalf("RunModel: %v", err)
	}
	if !backend.calls[0].(*types.FetchModelAction).ListenToTestProgress {
		t.Error("ListenToTestProgress should be set")
	}
	events := listener.Events()
	if len(events) != 1 || events[0].Outcome != types.OutcomeStarted || events[0].Structure != types.StructureSuite {
		t.Errorf("events = %+v", events)
	}
}

func TestRunClientAction_ForwardsBytesVerbatim(t *testing.T) {
	backend := &recordingBackend{
		respond: func(_ context.Context, req *executor.Request) (*types.ExecutionResult, error) {
			if err := req.Events.Dispatch(&types.InternalTestProgressEvent{Structure: types.StructureSuite, Phase: types.PhaseStarted}); err != nil {
				t.Errorf("noop consumer returned %v", err)
			}
			return types.SuccessResult(mustSerialize(&types.ActionOutput{Payload: []byte("out")})), nil
		},
	}
	conn, _ := newTestConnection(t, backend)

	serialized := mustSerialize("client action A")
	listener := &progress.Recorder{}
	params := embeddedParams(t)
	params.ProgressListener = listener

	v, err := conn.RunClientAction(context.Background(), serialized, params)
	if err != nil {
		t.Fatalf("RunClientAction: %v", err)
	}
	if out, ok := v.(*types.ActionOutput); !ok || string(out.Payload) != "out" {
		t.Fatalf("result = %#v", v)
	}
	if len(backend.calls) != 1 {
		t.Fatalf("backend calls = %d, want exactly 1", len(backend.calls))
	}
	a, ok := backend.calls[0].(*types.ClientProvidedAction)
	if !ok || !bytes.Equal(a.Payload, serialized) {
		t.Fatalf("action = %#v", backend.calls[0])
	}
	decoded, err := payload.Default().Deserialize(a.Payload)
	if err != nil || decoded != "client action A" {
		t.Errorf("payload decodes to %v (%v)", decoded, err)
	}
	if n := len(listener.Events()); n != 0 {
		t.Errorf("listener received %d events through the no-op consumer", n)
	}
}

func TestRun_FailureIsRaisedUnwrapped(t *testing.T) {
	backend := &recordingBackend{
		respond: func(context.Context, *executor.Request) (*types.ExecutionResult, error) {
			return types.FailureResult(mustSerialize(types.Execution("compilation failed", errors.New("Main.java:3: error")))), nil
		},
	}
	conn, c := newTestConnection(t, backend)
	params := embeddedParams(t)
	params.Tasks = &[]string{"build"}

	_, err := conn.RunModel(context.Background(), types.NullModel, params)
	var remote *payload.RemoteError
	if !errors.As(err, &remote) || err != error(remote) {
		t.Fatalf("err = %#v, want the deserialized failure itself", err)
	}
	if !strings.HasPrefix(err.Error(), "compilation failed") {
		t.Errorf("message = %q", err.Error())
	}
	if !types.IsKind(err, types.KindExecution) {
		t.Errorf("kind = %q", types.KindOf(err))
	}
	if c.Snapshot().RequestsFailed != 1 {
		t.Errorf("RequestsFailed = %d", c.Snapshot().RequestsFailed)
	}
}

type ctxKey struct{}

func TestRun_CancellationTokenPassedThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "token"))
	backend := &recordingBackend{
		respond: func(got context.Context, _ *executor.Request) (*types.ExecutionResult, error) {
			if got.Value(ctxKey{}) != "token" {
				t.Error("backend did not receive the caller's context")
			}
			cancel()
			<-got.Done()
			return types.FailureResult(mustSerialize(types.Cancelled("build cancelled"))), nil
		},
	}
	conn, c := newTestConnection(t, backend)
	params := embeddedParams(t)
	params.Tasks = &[]string{"test"}

	_, err := conn.RunModel(ctx, types.NullModel, params)
	if !types.IsKind(err, types.KindCancelled) {
		t.Fatalf("err = %v, want cancelled failure", err)
	}
	if c.Snapshot().RequestsCancelled != 1 {
		t.Errorf("RequestsCancelled = %d", c.Snapshot().RequestsCancelled)
	}
}

func TestRun_DaemonConnectionError(t *testing.T) {
	connector := &stubConnector{err: types.Connection("no daemon running", nil)}
	conn := NewConnection(Config{
		Connector: connector,
		Logging:   log.NewContext(io.Discard, types.LogLevelInfo),
	})
	project, _ := isolate(t)
	params := &types.OperationParameters{ProjectDir: &project, Tasks: &[]string{"build"}}

	_, err := conn.RunModel(context.Background(), types.NullModel, params)
	if !types.IsKind(err, types.KindConnection) {
		t.Fatalf("err = %v, want connection", err)
	}
	if connector.calls != 1 {
		t.Errorf("connector calls = %d", connector.calls)
	}
}

func TestRun_DaemonPathUsesResolvedParameters(t *testing.T) {
	connector := &stubConnector{backend: success}
	conn := NewConnection(Config{
		Connector: connector,
		Logging:   log.NewContext(io.Discard, types.LogLevelInfo),
	})
	project, _ := isolate(t)
	params := &types.OperationParameters{
		ProjectDir:    &project,
		Tasks:         &[]string{"build"},
		JvmArguments:  []string{"-Xmx8g"},
		StandardInput: strings.NewReader("stdin"),
	}

	v, err := conn.RunModel(context.Background(), types.NullModel, params)
	if err != nil {
		t.Fatalf("RunModel: %v", err)
	}
	if v != "ok" {
		t.Errorf("result = %v", v)
	}
	if connector.params.JvmArgs[0] != "-Xmx8g" {
		t.Errorf("connector params = %+v", connector.params)
	}
	data, _ := io.ReadAll(connector.stdin)
	if string(data) != "stdin" {
		t.Errorf("stdin = %q", data)
	}
	if connector.closed != 1 {
		t.Error("daemon connection not closed after the request")
	}
}

func TestRun_MalformedResultIsProtocolMismatch(t *testing.T) {
	backend := &recordingBackend{
		respond: func(context.Context, *executor.Request) (*types.ExecutionResult, error) {
			return types.SuccessResult([]byte{0xc1}), nil
		},
	}
	conn, _ := newTestConnection(t, backend)
	params := embeddedParams(t)
	params.Tasks = &[]string{}
	if _, err := conn.RunModel(context.Background(), types.NullModel, params); !types.IsKind(err, types.KindProtocolMismatch) {
		t.Fatalf("err = %v, want protocol mismatch", err)
	}
}

func TestConfigure_SetsSharedLevel(t *testing.T) {
	shared := log.NewContext(io.Discard, types.LogLevelWarn)
	conn := NewConnection(Config{Logging: shared})

	conn.Configure(ConnectionParameters{VerboseLogging: true})
	if shared.Level() != types.LogLevelDebug || !shared.Started() {
		t.Errorf("level = %s started = %v", shared.Level(), shared.Started())
	}
	conn.Configure(ConnectionParameters{})
	if shared.Level() != types.LogLevelInfo {
		t.Errorf("level = %s, want info", shared.Level())
	}
}

func TestRun_EmbeddedExecutionsAreSerialized(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0
	backend := &recordingBackend{
		respond: func(context.Context, *executor.Request) (*types.ExecutionResult, error) {
			mu.Lock()
			active++
			maxActive = max(maxActive, active)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return types.SuccessResult(mustSerialize("ok")), nil
		},
	}
	conn, _ := newTestConnection(t, backend)
	params := embeddedParams(t)
	params.Tasks = &[]string{}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = conn.RunModel(context.Background(), types.NullModel, params)
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Errorf("max concurrent embedded executions = %d, want 1", maxActive)
	}
}
