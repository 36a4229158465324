// Package runtime runs build actions in a build tool child process.
//
// The tool reads one JSON input line from stdin followed by the build's own
// standard input, and writes length-prefixed msgpack frames to stdout:
// event frames while the build runs, then one result frame.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/pithecene-io/buildlink/iox"
	"github.com/pithecene-io/buildlink/types"
)

// Environment variables passed to the build tool.
const (
	EnvJavaHome = "JAVA_HOME"
	EnvJvmArgs  = "BUILDLINK_JVMARGS"
	EnvLogLevel = "BUILDLINK_LOG_LEVEL"
)

// ToolConfig configures one build tool invocation.
type ToolConfig struct {
	// ToolPath is the path to the build tool binary.
	ToolPath string
	// Args are extra arguments placed before the tool input.
	Args []string
	// Meta identifies the request.
	Meta types.RequestMeta
	// Action is the wire form of the action to run.
	Action types.ActionEnvelope
	// Params are the concrete build parameters.
	Params *types.BuildActionParameters
}

// ToolResult represents the result of a build tool process.
type ToolResult struct {
	// ExitCode is the process exit code.
	ExitCode int
	// StderrBytes is the captured stderr output.
	StderrBytes []byte
}

// toolInput is the JSON line written to the tool's stdin.
type toolInput struct {
	RequestID string                      `json:"request_id"`
	StartTime int64                       `json:"start_time"`
	Action    types.ActionEnvelope        `json:"action"`
	Params    types.BuildActionParameters `json:"params"`
}

// ToolManager manages the build tool process lifecycle.
type ToolManager struct {
	config *ToolConfig
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer

	// exited stops standard input forwarding once the tool is gone.
	exited   chan struct{}
	exitOnce sync.Once
}

// NewToolManager creates a new tool manager.
func NewToolManager(config *ToolConfig) *ToolManager {
	return &ToolManager{config: config, exited: make(chan struct{})}
}

// Start starts the tool process and begins forwarding standard input.
//
// The process is not bound to ctx: cancellation is delivered by Interrupt so
// the tool can report it through its result frame.
func (m *ToolManager) Start(_ context.Context) error {
	params := m.config.Params
	m.cmd = exec.Command(m.config.ToolPath, m.config.Args...)
	if params.CurrentDir != "" {
		m.cmd.Dir = params.CurrentDir
	}
	m.cmd.Env = toolEnv(params)
	m.stderr = newTailBuffer(maxStderrTail)
	m.cmd.Stderr = m.stderr

	stdin, err := m.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := m.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	m.stdout = stdout

	if err := m.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start build tool: %w", err)
	}

	input := toolInput{
		RequestID: m.config.Meta.RequestID,
		StartTime: m.config.Meta.StartTime,
		Action:    m.config.Action,
		Params:    *params,
	}
	if err := json.NewEncoder(stdin).Encode(input); err != nil {
		_ = m.Kill()
		return fmt.Errorf("failed to write input: %w", err)
	}

	// The build's stdin follows the input line; EOF closes the pipe.
	go func() {
		defer func() { _ = stdin.Close() }()
		if params.Stdin == nil {
			return
		}
		iox.Forward(params.Stdin, m.exited, func(data []byte) error {
			_, err := stdin.Write(data)
			return err
		})
	}()
	return nil
}

// Stdout returns the stdout reader for frame reading.
func (m *ToolManager) Stdout() io.Reader {
	return m.stdout
}

// Wait waits for the tool to exit and returns the result.
// Must be called after Start and after stdout has been drained.
func (m *ToolManager) Wait() (*ToolResult, error) {
	if m.cmd == nil {
		return nil, errors.New("build tool not started")
	}

	err := m.cmd.Wait()
	m.exitOnce.Do(func() { close(m.exited) })
	result := &ToolResult{StderrBytes: m.stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("build tool wait failed: %w", err)
		}
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			result.ExitCode = status.ExitStatus()
		} else {
			result.ExitCode = -1
		}
	}
	return result, nil
}

// Interrupt asks the tool to stop cooperatively.
func (m *ToolManager) Interrupt() error {
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Signal(os.Interrupt)
	}
	return nil
}

// Kill terminates the tool process.
func (m *ToolManager) Kill() error {
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Kill()
	}
	return nil
}

// toolEnv builds the tool environment from the inherited one.
func toolEnv(params *types.BuildActionParameters) []string {
	env := os.Environ()
	for k, v := range params.Env {
		env = append(env, k+"="+v)
	}
	if params.JavaHome != "" {
		env = append(env, EnvJavaHome+"="+params.JavaHome)
	}
	if len(params.JvmArgs) > 0 {
		env = append(env, EnvJvmArgs+"="+strings.Join(params.JvmArgs, " "))
	}
	env = append(env, EnvLogLevel+"="+string(params.LogLevel))
	return deduplicateEnv(env)
}

// deduplicateEnv keeps the last occurrence of each env var key.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}

// maxStderrTail bounds the stderr kept for diagnostics.
const maxStderrTail = 64 << 10

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{max: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

// Bytes returns a copy of the retained output.
func (b *tailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}
