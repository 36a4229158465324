package log

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/buildlink/types"
)

// Context is a logging context: an output, a mutable level, and a
// started/stopped state. Loggers obtained from a Context emit only while the
// context is started.
//
// The shared Context is process-wide and reused by every embedded execution;
// a level change made through it is visible to all later callers. Daemon-path
// requests each get their own nested Context.
type Context struct {
	level  zap.AtomicLevel
	sink   zapcore.WriteSyncer
	active atomic.Int32
}

// NewContext creates a stopped logging context writing to w at level.
func NewContext(w io.Writer, level types.LogLevel) *Context {
	return &Context{
		level: zap.NewAtomicLevelAt(zapLevel(level)),
		sink:  zapcore.Lock(zapcore.AddSync(w)),
	}
}

var (
	sharedOnce sync.Once
	shared     *Context
)

// Shared returns the process-wide logging context, writing to os.Stderr.
// It starts at info level and stopped.
func Shared() *Context {
	sharedOnce.Do(func() { shared = NewContext(os.Stderr, types.LogLevelInfo) })
	return shared
}

// Nested creates a fresh context isolated from c, with the same output.
func (c *Context) Nested(level types.LogLevel) *Context {
	return &Context{
		level: zap.NewAtomicLevelAt(zapLevel(level)),
		sink:  c.sink,
	}
}

// SetLevel changes the output level. Safe for concurrent use.
func (c *Context) SetLevel(level types.LogLevel) {
	c.level.SetLevel(zapLevel(level))
}

// Level returns the current output level.
func (c *Context) Level() types.LogLevel {
	switch c.level.Level() {
	case zapcore.DebugLevel:
		return types.LogLevelDebug
	case zapcore.WarnLevel:
		return types.LogLevelWarn
	case zapcore.ErrorLevel:
		return types.LogLevelError
	default:
		return types.LogLevelInfo
	}
}

// Start begins output. Starts nest: the context stays started until every
// Start has been matched by a Stop.
func (c *Context) Start() {
	c.active.Add(1)
}

// Stop ends one Start and flushes the output.
func (c *Context) Stop() {
	if c.active.Add(-1) < 0 {
		c.active.Store(0)
	}
	_ = c.sink.Sync()
}

// Started reports whether the context currently emits output.
func (c *Context) Started() bool {
	return c.active.Load() > 0
}

// Enabled implements zapcore.LevelEnabler.
func (c *Context) Enabled(l zapcore.Level) bool {
	return c.Started() && c.level.Enabled(l)
}

// Logger returns a logger bound to c, tagged with meta when non-nil.
func (c *Context) Logger(meta *types.RequestMeta) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), c.sink, c)
	return newLoggerWithCore(core, meta)
}

func zapLevel(level types.LogLevel) zapcore.Level {
	switch level {
	case types.LogLevelDebug:
		return zapcore.DebugLevel
	case types.LogLevelWarn:
		return zapcore.WarnLevel
	case types.LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
