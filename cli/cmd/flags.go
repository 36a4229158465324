// Package cmd implements the buildlink commands.
package cmd

import "github.com/urfave/cli/v2"

// Output flags shared by every command that prints.
var (
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Interactive view (run, last)",
	}
)

// OutputFlags returns the output flags.
func OutputFlags() []cli.Flag {
	return []cli.Flag{FormatFlag, NoColorFlag, TUIFlag}
}

// RequestFlags configure how a request resolves its layout and executor.
// Each overrides the matching buildlink.yaml value.
func RequestFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "Path to buildlink.yaml (default: <project-dir>/buildlink.yaml when present)"},
		&cli.StringFlag{Name: "project-dir", Aliases: []string{"p"}, Usage: "Project directory (default: working directory)"},
		&cli.StringFlag{Name: "user-home", Usage: "buildlink user home (default: $BUILDLINK_USER_HOME or ~/.buildlink)"},
		&cli.BoolFlag{Name: "no-search-upwards", Usage: "Do not look for the build root above the project directory"},
		&cli.BoolFlag{Name: "embedded", Usage: "Run the build in this process instead of a daemon"},
		&cli.StringFlag{Name: "java-home", Usage: "Runtime home used by the build"},
		&cli.StringSliceFlag{Name: "jvm-arg", Usage: "Runtime argument (repeatable; replaces configured arguments)"},
		&cli.StringFlag{Name: "daemon-base-dir", Usage: "Daemon registry directory"},
		&cli.DurationFlag{Name: "daemon-idle-timeout", Usage: "Idle timeout of a daemon started for this request"},
		&cli.StringFlag{Name: "log-level", Usage: "Build log level: debug, info, warn, error"},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Debug logging for buildlink itself"},
		&cli.StringSliceFlag{Name: "arg", Usage: "Extra build argument (repeatable)"},
		&cli.BoolFlag{Name: "stdin", Usage: "Forward standard input to the build"},
		&cli.StringFlag{Name: "tool", Usage: "Build tool binary for embedded execution", EnvVars: []string{"BUILDLINK_TOOL"}},
		&cli.StringSliceFlag{Name: "tool-arg", Usage: "Extra build tool argument (repeatable)"},
	}
}

// ArchiveFlags select the progress archive and its ingestion policy.
func ArchiveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "archive-backend", Usage: "Progress archive: none, fs or s3"},
		&cli.StringFlag{Name: "archive-path", Usage: "Archive location (fs: directory, s3: bucket/prefix)"},
		&cli.StringFlag{Name: "archive-region", Usage: "AWS region of the s3 archive (default: AWS chain)"},
		&cli.StringFlag{Name: "archive-endpoint", Usage: "Custom S3 endpoint"},
		&cli.BoolFlag{Name: "archive-s3-path-style", Usage: "Path-style S3 addressing"},
		&cli.StringFlag{Name: "policy", Usage: "Archive ingestion policy: strict, buffered, streaming, noop"},
		&cli.IntFlag{Name: "buffer-entries", Usage: "Max buffered entries (buffered policy)"},
		&cli.Int64Flag{Name: "buffer-bytes", Usage: "Max buffered bytes (buffered policy)"},
		&cli.IntFlag{Name: "flush-count", Usage: "Entries per flush (streaming policy)"},
		&cli.DurationFlag{Name: "flush-interval", Usage: "Time between flushes (streaming policy)"},
	}
}

func concat(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
