// Package types defines core domain types for buildlink.
// Wire types carry msgpack tags to match the daemon and build tool frame contract.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"io"
	"math"
	"time"
)

// TimeUnit is the unit of a client-supplied duration value.
type TimeUnit string

// Supported time units.
const (
	Milliseconds TimeUnit = "ms"
	Seconds      TimeUnit = "s"
	Minutes      TimeUnit = "m"
	Hours        TimeUnit = "h"
)

// ToMillis converts value expressed in u to milliseconds.
// A result that does not fit in an int64 is a configuration error.
func (u TimeUnit) ToMillis(value int64) (int64, error) {
	var factor int64
	switch u {
	case Milliseconds:
		return value, nil
	case Seconds:
		factor = int64(time.Second / time.Millisecond)
	case Minutes:
		factor = int64(time.Minute / time.Millisecond)
	case Hours:
		factor = int64(time.Hour / time.Millisecond)
	default:
		return 0, Configuration(fmt.Sprintf("unknown time unit %q", string(u)), nil)
	}
	if value > math.MaxInt64/factor || value < math.MinInt64/factor {
		return 0, Configuration(fmt.Sprintf("duration %d%s overflows milliseconds", value, u), nil)
	}
	return value * factor, nil
}

// LogLevel is the build log level requested by a client.
type LogLevel string

// Log levels, most verbose first.
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// OperationParameters are the client-supplied parameters of one request.
//
// Every field is optional. A nil pointer (or nil interface) means the client
// did not supply the value; the documented default applies during resolution.
// OperationParameters are never mutated by the mediator.
type OperationParameters struct {
	// ProjectDir is the project directory. Default: current working directory.
	ProjectDir *string
	// UserHomeDir is the buildlink user home. Default: $BUILDLINK_USER_HOME or ~/.buildlink.
	UserHomeDir *string
	// SearchUpwards enables root discovery above ProjectDir. Default: true.
	SearchUpwards *bool
	// DaemonBaseDir overrides the daemon registry directory.
	DaemonBaseDir *string
	// JavaHome overrides the runtime home used by the build.
	JavaHome *string
	// JvmArguments replaces the derived runtime arguments when non-empty.
	JvmArguments []string
	// DaemonIdleTimeoutValue and DaemonIdleTimeoutUnit override the daemon idle
	// timeout only when both are present.
	DaemonIdleTimeoutValue *int64
	DaemonIdleTimeoutUnit  *TimeUnit
	// StandardInput is forwarded to the build. Default: empty stream.
	StandardInput io.Reader
	// Embedded runs the build in the mediator's own process. Default: false.
	Embedded *bool
	// ProgressListener receives translated progress events.
	ProgressListener ProgressListener
	// StartTime is the client's request start. Default: time of the call.
	StartTime *time.Time
	// Tasks is the task list. Nil means no task list was supplied; a non-nil
	// empty slice is a supplied (empty) task list.
	Tasks *[]string
	// Arguments are extra build arguments passed through verbatim.
	Arguments []string
	// BuildLogLevel is the log level of the daemon-path logging context. Default: info.
	BuildLogLevel *LogLevel
}

// IsEmbedded reports whether the client explicitly requested embedded execution.
func (p *OperationParameters) IsEmbedded() bool {
	return p != nil && p.Embedded != nil && *p.Embedded
}

// HasTasks reports whether a task list was supplied.
func (p *OperationParameters) HasTasks() bool {
	return p != nil && p.Tasks != nil
}

// TaskList returns a copy of the supplied task list, or nil.
func (p *OperationParameters) TaskList() []string {
	if !p.HasTasks() {
		return nil
	}
	out := make([]string, len(*p.Tasks))
	copy(out, *p.Tasks)
	return out
}

// EffectiveStartTime returns StartTime, or now when absent.
func (p *OperationParameters) EffectiveStartTime(now time.Time) time.Time {
	if p != nil && p.StartTime != nil {
		return *p.StartTime
	}
	return now
}

// EffectiveLogLevel returns BuildLogLevel, or info when absent.
func (p *OperationParameters) EffectiveLogLevel() LogLevel {
	if p != nil && p.BuildLogLevel != nil {
		return *p.BuildLogLevel
	}
	return LogLevelInfo
}

// BuildActionParameters are the concrete per-call parameters handed to a
// backend executor after daemon settings have been applied.
type BuildActionParameters struct {
	// CurrentDir is the working directory of the build.
	CurrentDir string `msgpack:"current_dir" json:"current_dir"`
	// LogLevel is the build log level.
	LogLevel LogLevel `msgpack:"log_level" json:"log_level"`
	// UseDaemon is true when the build runs inside a daemon.
	UseDaemon bool `msgpack:"use_daemon" json:"use_daemon"`
	// JavaHome is the effective runtime home.
	JavaHome string `msgpack:"java_home,omitempty" json:"java_home,omitempty"`
	// JvmArgs are the effective runtime arguments.
	JvmArgs []string `msgpack:"jvm_args,omitempty" json:"jvm_args,omitempty"`
	// IdleTimeoutMs is the daemon idle timeout in milliseconds.
	IdleTimeoutMs int64 `msgpack:"idle_timeout_ms" json:"idle_timeout_ms"`
	// DaemonBaseDir is the daemon registry directory.
	DaemonBaseDir string `msgpack:"daemon_base_dir" json:"daemon_base_dir"`
	// Env is extra environment for the build.
	Env map[string]string `msgpack:"env,omitempty" json:"env,omitempty"`
	// Stdin is the build's standard input. Never serialized; the daemon
	// transport forwards it as stdin frames.
	Stdin io.Reader `msgpack:"-" json:"-"`
}

// RequestMeta is the metadata bound to one request.
type RequestMeta struct {
	// RequestID uniquely identifies the request.
	RequestID string `msgpack:"request_id" json:"request_id"`
	// StartTime is the client's start time in Unix milliseconds.
	StartTime int64 `msgpack:"start_time" json:"start_time"`
}
