package config

import (
	"fmt"
	"time"

	"github.com/pithecene-io/buildlink/types"
)

// FileName is the config file looked up in the project directory.
const FileName = "buildlink.yaml"

// Config is the content of buildlink.yaml.
// Every value is optional and acts as a default for CLI flags; flags win.
type Config struct {
	ProjectDir    string         `yaml:"project_dir"`
	UserHome      string         `yaml:"user_home"`
	SearchUpwards *bool          `yaml:"search_upwards"`
	Embedded      bool           `yaml:"embedded"`
	JavaHome      string         `yaml:"java_home"`
	JvmArgs       []string       `yaml:"jvm_args"`
	LogLevel      types.LogLevel `yaml:"log_level"`
	Arguments     []string       `yaml:"arguments"`
	Tool          ToolConfig     `yaml:"tool"`
	Daemon        DaemonConfig   `yaml:"daemon"`
	Archive       ArchiveConfig  `yaml:"archive"`
	Policy        PolicyConfig   `yaml:"policy"`
	Adapter       AdapterConfig  `yaml:"adapter"`
}

// ToolConfig locates the build tool binary.
type ToolConfig struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
}

// DaemonConfig holds daemon defaults.
type DaemonConfig struct {
	BaseDir     string   `yaml:"base_dir"`
	IdleTimeout Duration `yaml:"idle_timeout"`
	// AdminAddr is the daemon's health and metrics listen address.
	AdminAddr string `yaml:"admin_addr"`
}

// ArchiveConfig selects where progress events are archived.
type ArchiveConfig struct {
	// Backend is none, fs or s3.
	Backend string `yaml:"backend"`
	// Path is a directory for fs and bucket/prefix for s3.
	Path        string `yaml:"path"`
	Dataset     string `yaml:"dataset"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// PolicyConfig holds archive ingestion policy defaults.
type PolicyConfig struct {
	Name          string   `yaml:"name"`
	BufferEntries int      `yaml:"buffer_entries"`
	BufferBytes   int64    `yaml:"buffer_bytes"`
	FlushCount    int      `yaml:"flush_count"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// AdapterConfig configures the daemon's completion notifications.
type AdapterConfig struct {
	// Type is webhook, redis or nats.
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`

	// History is the length of the redis history list.
	History int64 `yaml:"history,omitempty"`
}

// Duration parses YAML strings such as "10s" or "3h".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
