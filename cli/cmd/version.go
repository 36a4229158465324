package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/buildlink/cli/render"
	"github.com/pithecene-io/buildlink/types"
)

// VersionResponse is the response of the version command.
type VersionResponse struct {
	Version string `json:"version" yaml:"version"`
	Commit  string `json:"commit" yaml:"commit"`
}

// VersionCommand returns the version command. It never contacts a daemon.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  OutputFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for version command", exitUsage)
		}
		r, err := render.NewRenderer(c)
		if err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
		return r.Render(VersionResponse{Version: types.Version, Commit: commit})
	}
}
