package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/log"
	"github.com/roach88/elara/internal/store"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Database string
	Log      string
	Kind     string // "command" | "event"
	From     int64
	Limit    int
}

// DumpRecord is one decoded log record.
type DumpRecord struct {
	Position int64  `json:"position"`
	Source   int32  `json:"source"`
	Sequence int64  `json:"seq"`
	Index    *int16 `json:"index,omitempty"`
	Type     string `json:"type"`
	Time     int64  `json:"time"`
	Commit   bool   `json:"commit,omitempty"`
	Payload  string `json:"payload"`
	Valid    bool   `json:"valid"`

	text string
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the records of a log",
		Long: `Decode and print the records of a command or event log, one per line.

Examples:
  elara dump --db ./elara.db
  elara dump --db ./elara.db --log commands --kind command
  elara dump --db ./elara.db --from 100 --limit 20 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Log, "log", "events", "name of the log to dump")
	cmd.Flags().StringVar(&opts.Kind, "kind", "event", "record kind (command|event)")
	cmd.Flags().Int64Var(&opts.From, "from", 1, "first position to print")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum records to print (0 for all)")

	return cmd
}

func runDump(opts *DumpOptions, cmd *cobra.Command) error {
	if opts.Kind != "command" && opts.Kind != "event" {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid kind %q: must be command or event", opts.Kind))
	}
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	records := dumpLog(st.Log(opts.Log), opts.Kind == "event", opts.From, opts.Limit)

	return formatter.Success(records, func(w io.Writer) {
		for _, r := range records {
			fmt.Fprintf(w, "%6d  %s\n", r.Position, r.text)
		}
	})
}

// dumpLog decodes up to limit records starting at position from.
func dumpLog(l log.Log, events bool, from int64, limit int) []DumpRecord {
	poller := l.Poller()
	if from > 1 {
		poller.MoveToPosition(from - 1)
	}

	records := []DumpRecord{}
	handler := func(position int64, buf []byte) log.PollResult {
		if events {
			records = append(records, eventRecord(position, frame.WrapEvent(buf)))
		} else {
			records = append(records, commandRecord(position, frame.WrapCommand(buf)))
		}
		return log.PollNext
	}
	for limit <= 0 || len(records) < limit {
		if poller.Poll(handler) == 0 {
			break
		}
	}
	return records
}

func commandRecord(position int64, c frame.Command) DumpRecord {
	if !c.Valid() {
		return DumpRecord{Position: position, text: "<invalid command>"}
	}
	return DumpRecord{
		Position: position,
		Source:   c.SourceID(),
		Sequence: c.SourceSequence(),
		Type:     frame.TypeName(c.Type()),
		Time:     c.Time(),
		Payload:  string(c.Payload()),
		Valid:    true,
		text:     c.String(),
	}
}

func eventRecord(position int64, e frame.Event) DumpRecord {
	if !e.Valid() {
		return DumpRecord{Position: position, text: "<invalid event>"}
	}
	index := e.Index()
	return DumpRecord{
		Position: position,
		Source:   e.SourceID(),
		Sequence: e.SourceSequence(),
		Index:    &index,
		Type:     frame.TypeName(e.Type()),
		Time:     e.Time(),
		Commit:   e.Flags().Commit(),
		Payload:  string(e.Payload()),
		Valid:    true,
		text:     e.String(),
	}
}
