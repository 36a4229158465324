package provider

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/buildlink/action"
	"github.com/pithecene-io/buildlink/daemon"
	"github.com/pithecene-io/buildlink/executor"
	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/metrics"
	"github.com/pithecene-io/buildlink/payload"
	"github.com/pithecene-io/buildlink/progress"
	"github.com/pithecene-io/buildlink/types"
)

// ConnectionParameters configure the connection itself.
type ConnectionParameters struct {
	// VerboseLogging sets the shared logging context to debug.
	VerboseLogging bool
}

// Config configures a Connection.
type Config struct {
	// Embedded is the in-process backend. Required for embedded requests.
	Embedded executor.BackendExecutor
	// Connector opens daemon connections. Default: &daemon.SocketConnector{}.
	Connector daemon.Connector
	// Logging is the shared logging context. Default: log.Shared().
	Logging *log.Context
	// Resolver resolves client parameters. Default: &Resolver{}.
	Resolver *Resolver
	// Serializer decodes result payloads. Default: payload.Default().
	Serializer *payload.Serializer
	// Collector records request outcomes. May be nil.
	Collector *metrics.Collector
	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// Connection mediates client requests to a build backend.
//
// Requests are synchronous: RunModel and RunClientAction block for the whole
// execution. Embedded executions and Configure share the process-wide
// logging context and are serialized by the connection.
type Connection struct {
	mu         sync.Mutex
	selector   *Selector
	resolver   *Resolver
	serializer *payload.Serializer
	collector  *metrics.Collector
	now        func() time.Time
}

// NewConnection creates a connection from cfg.
func NewConnection(cfg Config) *Connection {
	if cfg.Logging == nil {
		cfg.Logging = log.Shared()
	}
	if cfg.Connector == nil {
		cfg.Connector = &daemon.SocketConnector{Collector: cfg.Collector}
	}
	if cfg.Resolver == nil {
		cfg.Resolver = &Resolver{}
	}
	if cfg.Serializer == nil {
		cfg.Serializer = payload.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Connection{
		selector: &Selector{
			Shared:    cfg.Logging,
			Embedded:  cfg.Embedded,
			Connector: cfg.Connector,
		},
		resolver:   cfg.Resolver,
		serializer: cfg.Serializer,
		collector:  cfg.Collector,
		now:        cfg.Now,
	}
}

// Configure sets the shared logging level and starts the shared context.
func (c *Connection) Configure(p ConnectionParameters) {
	c.mu.Lock()
	defer c.mu.Unlock()

	level := types.LogLevelInfo
	if p.VerboseLogging {
		level = types.LogLevelDebug
	}
	c.selector.Shared.SetLevel(level)
	c.selector.Shared.Start()
}

// RunModel fetches modelName, running the supplied tasks first.
//
// The build environment model is answered locally without contacting a
// backend. Test progress is routed to the client's listener when it
// subscribes to it.
func (c *Connection) RunModel(ctx context.Context, modelName string, params *types.OperationParameters) (any, error) {
	if err := action.Validate(modelName, params); err != nil {
		c.collector.IncRequestRejected()
		return nil, err
	}
	cfg, err := c.resolver.Resolve(params)
	if err != nil {
		c.collector.IncRequestRejected()
		return nil, err
	}

	if action.DefaultModels.IsBuildEnvironment(modelName) {
		return cfg.BuildEnvironment(), nil
	}

	a, err := action.BuildModel(modelName, cfg.Layout(), params, cfg.Properties())
	if err != nil {
		c.collector.IncRequestRejected()
		return nil, err
	}

	consumer := progress.NoopConsumer
	if a.ListenToTestProgress {
		consumer = progress.NewTranslator(params.ProgressListener, c.collector)
	}
	return c.run(ctx, a, consumer, cfg, params)
}

// RunClientAction runs a client-serialized action and returns its result.
func (c *Connection) RunClientAction(ctx context.Context, clientAction []byte, params *types.OperationParameters) (any, error) {
	cfg, err := c.resolver.Resolve(params)
	if err != nil {
		c.collector.IncRequestRejected()
		return nil, err
	}
	a, err := action.BuildClientAction(clientAction, cfg.Layout(), params, cfg.Properties())
	if err != nil {
		c.collector.IncRequestRejected()
		return nil, err
	}
	return c.run(ctx, a, progress.NoopConsumer, cfg, params)
}

// run executes a on the selected executor chain and unwraps the result.
//
// A failure payload is returned as the call's error without wrapping. ctx is
// passed through unchanged; cancellation is the backend's responsibility.
func (c *Connection) run(ctx context.Context, a types.BuildAction, consumer executor.EventConsumer, cfg *ResolvedConfiguration, params *types.OperationParameters) (any, error) {
	selection, err := c.selector.Select(cfg, params)
	if err != nil {
		c.collector.IncRequestRejected()
		return nil, err
	}
	defer func() { _ = selection.Close() }()

	if selection.Embedded {
		c.mu.Lock()
		defer c.mu.Unlock()
	}

	req := &executor.Request{
		Meta: types.RequestMeta{
			RequestID: uuid.NewString(),
			StartTime: params.EffectiveStartTime(c.now()).UnixMilli(),
		},
		Events: consumer,
	}

	c.collector.IncRequestStarted()
	result, err := selection.Executor.Execute(ctx, a, req, params)
	if err != nil {
		c.collector.IncRequestFailed()
		return nil, err
	}
	if err := result.Validate(); err != nil {
		c.collector.IncRequestFailed()
		return nil, err
	}

	if result.IsFailure() {
		failure := c.serializer.DeserializeFailure(result.Failure)
		if types.IsKind(failure, types.KindCancelled) {
			c.collector.IncRequestCancelled()
		} else {
			c.collector.IncRequestFailed()
		}
		return nil, failure
	}

	value, err := c.serializer.Deserialize(result.Result)
	if err != nil {
		c.collector.IncRequestFailed()
		return nil, err
	}
	c.collector.IncRequestSucceeded()
	return value, nil
}
