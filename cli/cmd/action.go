package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/buildlink/types"
)

// ActionCommand returns the action command.
func ActionCommand() *cli.Command {
	return &cli.Command{
		Name:  "action",
		Usage: "Run a client-serialized build action",
		Description: `Sends the payload verbatim as a client-provided action and prints what
the action returned. The payload is never interpreted.

Examples:
  buildlink action --payload-file action.bin
  produce-action | buildlink action --payload-file -`,
		Flags: concat(
			[]cli.Flag{
				&cli.StringFlag{Name: "payload-file", Usage: "File holding the serialized action ('-' for stdin)", Required: true},
			},
			RequestFlags(), ListenFlags(), ArchiveFlags(), OutputFlags(),
		),
		Action: actionAction,
	}
}

func actionAction(c *cli.Context) error {
	path := c.String("payload-file")
	if path == "-" && c.Bool("stdin") {
		return exitErr(types.InvalidRequest("--payload-file - reads standard input and cannot be combined with --stdin"))
	}
	payload, err := readPayload(path)
	if err != nil {
		return exitErr(err)
	}

	o, err := loadOptions(c)
	if err != nil {
		return exitErr(err)
	}
	ctx, cancel := signalContext()
	defer cancel()
	return exitErr(execute(ctx, c, o, clientActionRequest(payload)))
}

func clientActionRequest(payload []byte) request {
	return request{
		kind:  types.ActionKindClientProvided,
		title: "client action",
		call: func(ctx context.Context, conn connection, params *types.OperationParameters) (any, error) {
			return conn.RunClientAction(ctx, payload, params)
		},
	}
}

func readPayload(path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, types.Configuration(fmt.Sprintf("cannot read action payload %s", path), err)
	}
	return data, nil
}
