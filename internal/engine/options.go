package engine

import (
	"log/slog"

	"github.com/roach88/elara/internal/metrics"
)

// Option configures engine components.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	idle       IdleStrategy
	duplicates DuplicateHandler
	exceptions ExceptionHandler
	noReplay   bool
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.duplicates == nil {
		o.duplicates = logDuplicates{logger: o.logger}
	}
	if o.exceptions == nil {
		o.exceptions = logExceptions{logger: o.logger}
	}
	return o
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records step activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithIdleStrategy sets the Runner's idle strategy.
//
// Default: NewBackoffIdleStrategy(DefaultMaxSpins, DefaultMaxYields,
// DefaultMinPark, DefaultMaxPark)
func WithIdleStrategy(s IdleStrategy) Option {
	return func(o *options) {
		o.idle = s
	}
}

// WithDuplicateHandler replaces the default handler, which logs at debug.
func WithDuplicateHandler(h DuplicateHandler) Option {
	return func(o *options) {
		o.duplicates = h
	}
}

// WithExceptionHandler replaces the default handler, which logs at error.
func WithExceptionHandler(h ExceptionHandler) Option {
	return func(o *options) {
		o.exceptions = h
	}
}

// WithoutReplay starts the event step at the end of the event log. Only
// valid when the base state was restored to match the log.
func WithoutReplay() Option {
	return func(o *options) {
		o.noReplay = true
	}
}
