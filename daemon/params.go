// Package daemon implements the daemon side of buildlink: daemon parameters
// derived from persisted properties, the discovery file, the client connector
// and executor, and the daemon server.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/buildlink/layout"
	"github.com/pithecene-io/buildlink/types"
)

// Property keys read from buildlink.properties.
const (
	PropJvmArgs     = "buildlink.jvmargs"
	PropJavaHome    = "buildlink.java.home"
	PropIdleTimeout = "buildlink.daemon.idletimeout"
	PropBaseDir     = "buildlink.daemon.basedir"
)

// EnvBindings maps each daemon property to its environment override.
var EnvBindings = map[string]string{
	PropJvmArgs:     "BUILDLINK_JVMARGS",
	PropJavaHome:    "BUILDLINK_JAVA_HOME",
	PropIdleTimeout: "BUILDLINK_DAEMON_IDLETIMEOUT",
	PropBaseDir:     "BUILDLINK_DAEMON_BASEDIR",
}

// Defaults.
var (
	// DefaultJvmArgs are the runtime arguments used when none are configured.
	DefaultJvmArgs = []string{"-Xmx512m", "-XX:MaxMetaspaceSize=384m"}
	// DefaultIdleTimeout is how long an idle daemon stays alive.
	DefaultIdleTimeout = 3 * time.Hour
)

// Parameters are the resolved daemon settings of one request.
type Parameters struct {
	// BaseDir holds the daemon's discovery, lock, and socket files.
	BaseDir string
	// JavaHome is the runtime home; empty means the build tool's own default.
	JavaHome string
	// JvmArgs are the runtime arguments.
	JvmArgs []string
	// IdleTimeoutMs is the idle timeout in milliseconds.
	IdleTimeoutMs int64
}

// DefaultParameters returns the parameters used when no property is set.
// JavaHome falls back to $JAVA_HOME.
func DefaultParameters(userHome string) *Parameters {
	return &Parameters{
		BaseDir:       filepath.Join(userHome, "daemon", types.Version),
		JavaHome:      os.Getenv("JAVA_HOME"),
		JvmArgs:       slices.Clone(DefaultJvmArgs),
		IdleTimeoutMs: DefaultIdleTimeout.Milliseconds(),
	}
}

// FromProperties derives parameters from persisted properties on top of the defaults.
func FromProperties(userHome string, props layout.Properties) (*Parameters, error) {
	p := DefaultParameters(userHome)

	if v, ok := props.Get(PropBaseDir); ok && v != "" {
		p.BaseDir = v
	}
	if v, ok := props.Get(PropJavaHome); ok && v != "" {
		p.JavaHome = v
	}
	if v, ok := props.Get(PropJvmArgs); ok {
		if args := strings.Fields(v); len(args) > 0 {
			p.JvmArgs = args
		}
	}
	if v, ok := props.Get(PropIdleTimeout); ok && v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms < 0 {
			return nil, types.Configuration(fmt.Sprintf("invalid %s value %q", PropIdleTimeout, v), err)
		}
		p.IdleTimeoutMs = ms
	}
	return p, nil
}

// Clone returns a deep copy of p.
func (p *Parameters) Clone() *Parameters {
	if p == nil {
		return nil
	}
	c := *p
	c.JvmArgs = slices.Clone(p.JvmArgs)
	return &c
}

// IdleTimeout returns the idle timeout as a duration.
func (p *Parameters) IdleTimeout() time.Duration {
	return time.Duration(p.IdleTimeoutMs) * time.Millisecond
}

// DiscoveryPath returns the path of the daemon discovery file.
func (p *Parameters) DiscoveryPath() string {
	return filepath.Join(p.BaseDir, discoveryFile)
}

// LockPath returns the path of the discovery lock file.
func (p *Parameters) LockPath() string {
	return filepath.Join(p.BaseDir, lockFile)
}

// SocketPath returns the default unix socket path for a daemon in p.BaseDir.
func (p *Parameters) SocketPath() string {
	return filepath.Join(p.BaseDir, socketFile)
}
