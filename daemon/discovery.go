package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"syscall"
	"time"

	"github.com/pithecene-io/buildlink/types"
)

const (
	discoveryFile = "daemon.json"
	lockFile      = "daemon.lock"
	socketFile    = "daemon.sock"
)

// ErrNoDaemon is returned when no discovery file exists.
var ErrNoDaemon = errors.New("no daemon registered")

// Info is the on-disk schema of a running daemon, written to
// <BaseDir>/daemon.json while the daemon is alive.
type Info struct {
	Socket        string   `json:"socket"`
	PID           int      `json:"pid"`
	Version       string   `json:"version"`
	StartedAt     string   `json:"started_at"`
	JavaHome      string   `json:"java_home"`
	JvmArgs       []string `json:"jvm_args"`
	IdleTimeoutMs int64    `json:"idle_timeout_ms"`
}

// NewInfo describes a daemon started with p, listening on socket.
func NewInfo(p *Parameters, socket string) *Info {
	return &Info{
		Socket:        socket,
		PID:           os.Getpid(),
		Version:       types.Version,
		StartedAt:     time.Now().UTC().Format(time.RFC3339),
		JavaHome:      p.JavaHome,
		JvmArgs:       slices.Clone(p.JvmArgs),
		IdleTimeoutMs: p.IdleTimeoutMs,
	}
}

// Age returns how long the daemon has been running, or 0 if unknown.
func (i *Info) Age(now time.Time) time.Duration {
	t, err := time.Parse(time.RFC3339, i.StartedAt)
	if err != nil {
		return 0
	}
	return now.Sub(t)
}

// Compatible reports why a daemon described by i cannot serve a request
// with parameters p, or nil when it can.
func (i *Info) Compatible(p *Parameters) error {
	if i.Version != types.Version {
		return fmt.Errorf("daemon version %s does not match client version %s", i.Version, types.Version)
	}
	if i.JavaHome != p.JavaHome {
		return fmt.Errorf("daemon java home %q does not match requested %q", i.JavaHome, p.JavaHome)
	}
	if !slices.Equal(i.JvmArgs, p.JvmArgs) {
		return fmt.Errorf("daemon jvm args %v do not match requested %v", i.JvmArgs, p.JvmArgs)
	}
	return nil
}

// Registry guards the discovery file of one daemon base directory.
// Every operation holds an exclusive flock on <BaseDir>/daemon.lock.
type Registry struct {
	dir           string
	lockPath      string
	discoveryPath string
}

// NewRegistry returns the registry for the base directory of p.
func NewRegistry(p *Parameters) *Registry {
	return &Registry{dir: p.BaseDir, lockPath: p.LockPath(), discoveryPath: p.DiscoveryPath()}
}

// withLock runs fn while holding the registry lock.
func (r *Registry) withLock(fn func() error) error {
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return fmt.Errorf("daemon registry: create %s: %w", r.dir, err)
	}
	lock, err := os.OpenFile(r.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("daemon registry: open lock: %w", err)
	}
	defer func() {
		_ = syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
		_ = lock.Close()
	}()
	if err := syscall.Flock(int(lock.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("daemon registry: flock: %w", err)
	}
	return fn()
}

// Read returns the registered daemon, or ErrNoDaemon.
func (r *Registry) Read() (*Info, error) {
	var info *Info
	err := r.withLock(func() error {
		var readErr error
		info, readErr = readInfo(r.discoveryPath)
		return readErr
	})
	return info, err
}

// Write registers info, replacing any previous registration.
func (r *Registry) Write(info *Info) error {
	return r.withLock(func() error {
		return writeInfo(r.discoveryPath, info)
	})
}

// Remove deletes the registration if it still belongs to pid.
func (r *Registry) Remove(pid int) error {
	return r.withLock(func() error {
		info, err := readInfo(r.discoveryPath)
		if errors.Is(err, ErrNoDaemon) {
			return nil
		}
		if err == nil && info.PID != pid {
			return nil
		}
		if err := os.Remove(r.discoveryPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
}

// readInfo reads and parses a discovery file.
func readInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoDaemon
		}
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse discovery: %w", err)
	}
	if info.Socket == "" {
		return nil, errors.New("discovery file missing socket")
	}
	return &info, nil
}

// writeInfo atomically writes a discovery file.
func writeInfo(path string, info *Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
