package engine_test

import (
	"strconv"
	"testing"

	"github.com/roach88/elara/internal/engine"
	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/log"
	"github.com/roach88/elara/internal/testutil"
)

// drain ticks step until a tick does no work.
func drain(t *testing.T, step engine.Step) int {
	t.Helper()
	for i := 0; i < 100000; i++ {
		if !step.DoWork() {
			return i
		}
	}
	t.Fatal("step never went idle")
	return 0
}

// shape renders the event log as "seq/index:type" entries, with a trailing
// "*" on records that carry the commit flag.
func shape(l log.Log) []string {
	var out []string
	for _, ev := range testutil.ReadEvents(l) {
		s := frame.TypeName(ev.Type())
		if ev.Flags().Commit() {
			s += "*"
		}
		out = append(out, itoa(ev.SourceSequence())+"/"+itoa(int64(ev.Index()))+":"+s)
	}
	return out
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

type publication struct {
	payload string
	replay  bool
}

// recordingOutput publishes into a slice; results, when set, are consumed
// one per call before defaulting to Published.
type recordingOutput struct {
	published []publication
	results   []engine.OutputResult
}

func (o *recordingOutput) Publish(ev frame.Event, replay bool) (engine.OutputResult, error) {
	res := engine.Published
	if len(o.results) > 0 {
		res, o.results = o.results[0], o.results[1:]
	}
	if res == engine.Published {
		o.published = append(o.published, publication{payload: string(ev.Payload()), replay: replay})
	}
	return res, nil
}

func (o *recordingOutput) payloads() []string {
	out := make([]string, len(o.published))
	for i, p := range o.published {
		out[i] = p.payload
	}
	return out
}
