package cmd

import (
	"errors"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/buildlink/cli/render"
	"github.com/pithecene-io/buildlink/cli/tui"
	"github.com/pithecene-io/buildlink/lode"
	"github.com/pithecene-io/buildlink/types"
)

// archivedRequest is what `last` prints.
type archivedRequest struct {
	RequestID  string           `json:"request_id" yaml:"request_id"`
	RecordedAt string           `json:"recorded_at" yaml:"recorded_at"`
	Host       string           `json:"host,omitempty" yaml:"host,omitempty"`
	Action     types.ActionKind `json:"action" yaml:"action"`
	Model      string           `json:"model,omitempty" yaml:"model,omitempty"`
	Tasks      []string         `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Outcome    string           `json:"outcome" yaml:"outcome"`
	ErrorKind  types.ErrorKind  `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Message    string           `json:"message,omitempty" yaml:"message,omitempty"`
	DurationMs int64            `json:"duration_ms" yaml:"duration_ms"`
	Events     int64            `json:"events" yaml:"events"`
}

// LastCommand returns the last command.
func LastCommand() *cli.Command {
	return &cli.Command{
		Name:  "last",
		Usage: "Show an archived request",
		Description: `Reads the progress archive and shows the most recent request, or the
one named by --request-id. With --events its progress is replayed.

Examples:
  buildlink last --archive-backend fs --archive-path ./.buildlink/archive
  buildlink last --request-id 5f0c... --events`,
		Flags: concat(
			[]cli.Flag{
				&cli.StringFlag{Name: "request-id", Usage: "Archived request to show (default: most recent)"},
				&cli.BoolFlag{Name: "events", Usage: "Replay the request's progress events"},
				&cli.StringFlag{Name: "config", Usage: "Path to buildlink.yaml"},
				&cli.StringFlag{Name: "project-dir", Aliases: []string{"p"}, Usage: "Project directory holding buildlink.yaml"},
			},
			ArchiveFlags(), OutputFlags(),
		),
		Action: lastAction,
	}
}

func lastAction(c *cli.Context) error {
	o, err := loadOptions(c)
	if err != nil {
		return exitErr(err)
	}
	loc := archiveLocation(c, o.cfg)
	if !loc.Enabled() {
		return exitErr(types.InvalidRequest("no progress archive configured (set --archive-backend and --archive-path)"))
	}
	client, err := lode.Open(c.Context, archiveConfig(o.cfg), loc)
	if err != nil {
		return exitErr(types.Configuration("cannot open progress archive", err))
	}
	defer func() { _ = client.Close() }()

	record, err := lode.QueryLatestRequest(c.Context, client.Dataset(), c.String("request-id"))
	if errors.Is(err, lode.ErrNoRequestFound) {
		return exitErr(types.InvalidRequest(err.Error()))
	}
	if err != nil {
		return exitErr(err)
	}
	summary, err := lode.SummaryFromRecord(record)
	if err != nil {
		return exitErr(types.ProtocolMismatch("malformed request record: " + err.Error()))
	}
	requestID, _ := record["request_id"].(string)

	if c.Bool("events") {
		records, err := lode.ReadRequest(c.Context, client.Dataset(), requestID)
		if err != nil {
			return exitErr(err)
		}
		pw := render.NewProgressWriter(os.Stderr, c.Bool("no-color"))
		for _, rec := range records {
			ev, ok, err := lode.EventFromRecord(rec)
			if err != nil {
				return exitErr(types.ProtocolMismatch("malformed progress record: " + err.Error()))
			}
			if ok {
				pw.OnEvent(ev)
			}
		}
	}

	if c.Bool("tui") && render.IsTTY(os.Stdout) {
		return exitErr(tui.RunSummary(requestID, summary))
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return exitErr(types.InvalidRequest(err.Error()))
	}
	recordedAt, _ := record["recorded_at"].(string)
	host, _ := record["host"].(string)
	return exitErr(r.Render(archivedRequest{
		RequestID:  requestID,
		RecordedAt: recordedAt,
		Host:       host,
		Action:     summary.Action,
		Model:      summary.Model,
		Tasks:      summary.Tasks,
		Outcome:    summary.Outcome,
		ErrorKind:  summary.ErrorKind,
		Message:    summary.Message,
		DurationMs: summary.DurationMs,
		Events:     summary.Events,
	}))
}
