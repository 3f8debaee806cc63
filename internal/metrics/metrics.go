// Package metrics exposes engine counters to Prometheus.
//
// All methods are safe on a nil *Metrics, so components can record
// unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's collectors, labelled by engine name.
type Metrics struct {
	sequenced    *prometheus.CounterVec
	commands     *prometheus.CounterVec
	transactions *prometheus.CounterVec
	duplicates   *prometheus.CounterVec
	applied      *prometheus.CounterVec
	outputs      *prometheus.CounterVec
	errors       *prometheus.CounterVec
	idle         *prometheus.CounterVec

	engine string
}

// New creates the collectors for the named engine and registers them with
// reg.
func New(reg prometheus.Registerer, engine string) (*Metrics, error) {
	m := &Metrics{
		engine: engine,
		sequenced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elara_sequenced_commands_total",
			Help: "Messages appended to the command log by the sequencer",
		}, []string{"engine", "source"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elara_processed_commands_total",
			Help: "Commands handed to the command processor",
		}, []string{"engine"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elara_transactions_total",
			Help: "Completed routing transactions by outcome",
		}, []string{"engine", "outcome"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elara_duplicates_total",
			Help: "Commands and events skipped as already applied",
		}, []string{"engine", "kind"}),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elara_applied_events_total",
			Help: "Events applied to application state",
		}, []string{"engine", "phase"}),
		outputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elara_output_events_total",
			Help: "Events handed to the output by result",
		}, []string{"engine", "result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elara_errors_total",
			Help: "Errors reported to the exception handler by step",
		}, []string{"engine", "step"}),
		idle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elara_idle_ticks_total",
			Help: "Scheduler ticks that did no work",
		}, []string{"engine"}),
	}

	for _, c := range []prometheus.Collector{
		m.sequenced, m.commands, m.transactions, m.duplicates,
		m.applied, m.outputs, m.errors, m.idle,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Sequenced(source string) {
	if m == nil {
		return
	}
	m.sequenced.WithLabelValues(m.engine, source).Inc()
}

func (m *Metrics) Command() {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(m.engine).Inc()
}

// Transaction counts a completed transaction; outcome is e.g. "COMMIT" or
// "SKIP(CONFLATED)".
func (m *Metrics) Transaction(outcome string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(m.engine, outcome).Inc()
}

// Duplicate counts a skipped "command" or "event".
func (m *Metrics) Duplicate(kind string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(m.engine, kind).Inc()
}

// Applied counts an applied event in the "replay" or "live" phase.
func (m *Metrics) Applied(phase string) {
	if m == nil {
		return
	}
	m.applied.WithLabelValues(m.engine, phase).Inc()
}

func (m *Metrics) Output(result string) {
	if m == nil {
		return
	}
	m.outputs.WithLabelValues(m.engine, result).Inc()
}

func (m *Metrics) Error(step string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(m.engine, step).Inc()
}

func (m *Metrics) Idle() {
	if m == nil {
		return
	}
	m.idle.WithLabelValues(m.engine).Inc()
}
