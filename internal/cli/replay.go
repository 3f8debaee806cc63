package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/elara/internal/engine"
	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/log"
	"github.com/roach88/elara/internal/state"
	"github.com/roach88/elara/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Commands string
	Events   string
}

// ReplayResult is the outcome of replaying and checking a store.
type ReplayResult struct {
	LogID        string         `json:"log_id"`
	Commands     int64          `json:"commands"`
	Events       int64          `json:"events"`
	Committed    int            `json:"committed"`
	RolledBack   int            `json:"rolled_back"`
	Abandoned    int            `json:"abandoned"`
	Unterminated bool           `json:"unterminated"`
	Applied      int            `json:"applied"`
	Sources      []SourceResult `json:"sources"`
	Violations   []Violation    `json:"violations"`
}

// SourceResult is the rebuilt high-water mark of one source.
type SourceResult struct {
	Source       int32 `json:"source"`
	LastSequence int64 `json:"last_sequence"`
}

// Violation is a broken log invariant.
type Violation struct {
	Log      string `json:"log"`
	Position int64  `json:"position"`
	Message  string `json:"message"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild state from the event log and check its invariants",
		Long: `Replay the event log into a fresh base state, as an instance does on start,
and check the structure of both logs:

  - every transaction ends with a COMMIT or ROLLBACK marker
  - event indexes within a transaction are contiguous from 0
  - a committed transaction has exactly one commit-flagged record
  - no transaction is committed twice
  - command sequences increase per source
  - every transaction belongs to a command in the command log

A transaction left open by a crash and processed again is counted as
abandoned, not as a violation.

Exit codes:
  0 - All checks passed
  1 - At least one violation
  2 - Command error (database not found, etc.)

Examples:
  elara replay --db ./elara.db
  elara replay --db ./elara.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Commands, "commands", "commands", "name of the command log")
	cmd.Flags().StringVar(&opts.Events, "events", "events", "name of the event log")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	st, err := store.Open(opts.Database, store.WithLogger(logger))
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	result := checkLogs(opts.Commands, st.Log(opts.Commands), opts.Events, st.Log(opts.Events))
	result.LogID = st.ID()

	base := state.NewDefaultBaseState()
	step := engine.NewEventStep(engine.EventStepConfig{
		Events: st.Log(opts.Events),
		State:  base,
		Applier: engine.EventApplierFunc(func(frame.Event) error {
			result.Applied++
			return nil
		}),
	},
		engine.WithLogger(logger),
		engine.WithExceptionHandler(engine.ExceptionHandlerFunc(func(err error) {
			result.Violations = append(result.Violations, Violation{Log: opts.Events, Message: err.Error()})
		})),
	)
	for step.DoWork() {
	}
	for _, src := range base.Sources() {
		result.Sources = append(result.Sources, SourceResult{Source: src, LastSequence: base.LastAppliedCommandSequence(src)})
	}

	if len(result.Violations) > 0 {
		if formatter.JSON() {
			_ = formatter.Error(ErrCodeCheck, "log check failed", result)
		} else {
			printReplay(cmd.OutOrStdout(), result)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d violation(s)", len(result.Violations)))
	}
	return formatter.Success(result, func(w io.Writer) { printReplay(w, result) })
}

func printReplay(w io.Writer, r ReplayResult) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "Log %s: %d commands, %d events\n", r.LogID, r.Commands, r.Events)
	p.Fprintf(w, "Transactions: %d committed, %d rolled back, %d abandoned\n", r.Committed, r.RolledBack, r.Abandoned)
	if r.Unterminated {
		p.Fprintln(w, "The last transaction is open and will be processed again on start.")
	}
	p.Fprintf(w, "Applied %d events\n", r.Applied)
	for _, s := range r.Sources {
		p.Fprintf(w, "  source %d: last sequence %d\n", s.Source, s.LastSequence)
	}
	if len(r.Violations) == 0 {
		p.Fprintln(w, "✓ All checks passed")
		return
	}
	for _, v := range r.Violations {
		p.Fprintf(w, "✗ %s@%d: %s\n", v.Log, v.Position, v.Message)
	}
}

type txKey struct {
	source   int32
	sequence int64
}

// logChecker walks both logs once and collects violations.
type logChecker struct {
	result *ReplayResult

	commandLog string
	eventLog   string
	commands   map[txKey]bool
	lastSeq    map[int32]int64
	committed  map[txKey]bool

	open        bool
	tx          txKey
	next        int16
	commitFlags int
}

func checkLogs(commandLog string, commands log.Log, eventLog string, events log.Log) ReplayResult {
	result := ReplayResult{Sources: []SourceResult{}, Violations: []Violation{}}
	c := &logChecker{
		result:     &result,
		commandLog: commandLog,
		eventLog:   eventLog,
		commands:   make(map[txKey]bool),
		lastSeq:    make(map[int32]int64),
		committed:  make(map[txKey]bool),
	}
	drainLog(commands, c.onCommand)
	drainLog(events, c.onEvent)
	if c.open {
		result.Unterminated = true
	}
	sort.SliceStable(result.Violations, func(i, j int) bool {
		return result.Violations[i].Log < result.Violations[j].Log
	})
	return result
}

func drainLog(l log.Log, h log.Handler) {
	poller := l.Poller()
	for poller.Poll(h) > 0 {
	}
}

func (c *logChecker) violation(logName string, position int64, format string, args ...any) {
	c.result.Violations = append(c.result.Violations, Violation{
		Log:      logName,
		Position: position,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (c *logChecker) onCommand(position int64, buf []byte) log.PollResult {
	c.result.Commands++
	cmd := frame.WrapCommand(buf)
	if !cmd.Valid() {
		c.violation(c.commandLog, position, "invalid command frame")
		return log.PollNext
	}
	src, seq := cmd.SourceID(), cmd.SourceSequence()
	if last, ok := c.lastSeq[src]; ok && seq <= last {
		c.violation(c.commandLog, position, "source %d sequence %d after %d", src, seq, last)
	}
	c.lastSeq[src] = seq
	c.commands[txKey{src, seq}] = true
	return log.PollNext
}

func (c *logChecker) onEvent(position int64, buf []byte) log.PollResult {
	c.result.Events++
	ev := frame.WrapEvent(buf)
	if !ev.Valid() {
		c.violation(c.eventLog, position, "invalid event frame")
		return log.PollNext
	}
	key := txKey{ev.SourceID(), ev.SourceSequence()}

	if c.open && (key != c.tx || ev.Index() != c.next) {
		if ev.Index() == 0 {
			c.result.Abandoned++
		} else {
			c.violation(c.eventLog, position, "index %d of %d/%d, expected %d", ev.Index(), key.source, key.sequence, c.next)
		}
		c.open = false
	}
	if !c.open {
		if ev.Index() != 0 {
			c.violation(c.eventLog, position, "transaction %d/%d starts at index %d", key.source, key.sequence, ev.Index())
		}
		if len(c.commands) > 0 && !c.commands[key] {
			c.violation(c.eventLog, position, "no command for transaction %d/%d", key.source, key.sequence)
		}
		c.open, c.tx, c.commitFlags = true, key, 0
	}
	c.next = ev.Index() + 1
	if ev.Flags().Commit() {
		c.commitFlags++
	}

	switch {
	case ev.IsCommit():
		if c.commitFlags != 1 {
			c.violation(c.eventLog, position, "transaction %d/%d has %d commit-flagged records", key.source, key.sequence, c.commitFlags)
		}
		if c.committed[key] {
			c.violation(c.eventLog, position, "transaction %d/%d committed twice", key.source, key.sequence)
		}
		c.committed[key] = true
		c.result.Committed++
		c.open = false
	case ev.IsRollback():
		c.result.RolledBack++
		c.open = false
	}
	return log.PollNext
}
