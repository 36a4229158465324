package cmd

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/buildlink/types"
)

// EnvCommand returns the env command.
func EnvCommand() *cli.Command {
	return &cli.Command{
		Name:  "env",
		Usage: "Show the environment a build would run in",
		Description: `Resolves the configuration for the project and prints the build
environment. No daemon is contacted and no build tool is started.`,
		Flags:  concat(RequestFlags(), OutputFlags()),
		Action: envAction,
	}
}

func envAction(c *cli.Context) error {
	o, err := loadOptions(c)
	if err != nil {
		return exitErr(err)
	}
	return exitErr(execute(c.Context, c, o, request{
		kind:  types.ActionKindFetchModel,
		model: types.BuildEnvironmentModel,
		title: types.BuildEnvironmentModel,
		call: func(ctx context.Context, conn connection, params *types.OperationParameters) (any, error) {
			return conn.RunModel(ctx, types.BuildEnvironmentModel, params)
		},
	}))
}
