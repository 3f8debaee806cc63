package engine

import (
	"context"
	"runtime"
	"time"
)

// Backoff defaults for the Runner's idle strategy.
const (
	DefaultMaxSpins  = 10
	DefaultMaxYields = 5
	DefaultMinPark   = time.Microsecond
	DefaultMaxPark   = time.Millisecond
)

// IdleStrategy decides what the Runner does between ticks.
type IdleStrategy interface {
	// Idle is called after every tick. workDone resets any backoff.
	Idle(ctx context.Context, workDone bool)
}

// BackoffIdleStrategy spins, then yields the processor, then sleeps with a
// park time doubling from minPark up to maxPark.
//
// Thread-safety: Idle must be called from the runner goroutine only; Wake
// may be called from any goroutine.
type BackoffIdleStrategy struct {
	maxSpins  int
	maxYields int
	minPark   time.Duration
	maxPark   time.Duration

	spins  int
	yields int
	park   time.Duration

	// Buffer of 1 coalesces wakeups that arrive while parked.
	wake chan struct{}
}

func NewBackoffIdleStrategy(maxSpins, maxYields int, minPark, maxPark time.Duration) *BackoffIdleStrategy {
	if minPark <= 0 {
		minPark = DefaultMinPark
	}
	if maxPark < minPark {
		maxPark = minPark
	}
	return &BackoffIdleStrategy{
		maxSpins:  maxSpins,
		maxYields: maxYields,
		minPark:   minPark,
		maxPark:   maxPark,
		park:      minPark,
		wake:      make(chan struct{}, 1),
	}
}

func (b *BackoffIdleStrategy) Idle(ctx context.Context, workDone bool) {
	if workDone {
		b.reset()
		return
	}
	switch {
	case b.spins < b.maxSpins:
		b.spins++
	case b.yields < b.maxYields:
		b.yields++
		runtime.Gosched()
	default:
		t := time.NewTimer(b.park)
		select {
		case <-ctx.Done():
		case <-b.wake:
			b.reset()
		case <-t.C:
			b.park *= 2
			if b.park > b.maxPark {
				b.park = b.maxPark
			}
		}
		t.Stop()
	}
}

// Wake cuts a park short, for producers that just made work available.
func (b *BackoffIdleStrategy) Wake() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *BackoffIdleStrategy) reset() {
	b.spins, b.yields, b.park = 0, 0, b.minPark
}

// Runner drives one Step on one goroutine.
//
// CRITICAL: Run must be called from exactly ONE goroutine. Every log append,
// state mutation and callback of the step happens there.
type Runner struct {
	name string
	step Step
	opts options
}

// NewRunner returns a runner for step. The idle strategy comes from
// WithIdleStrategy, with the backoff defaults otherwise.
func NewRunner(name string, step Step, opts ...Option) *Runner {
	r := &Runner{name: name, step: step, opts: buildOptions(opts)}
	if r.opts.idle == nil {
		r.opts.idle = NewBackoffIdleStrategy(DefaultMaxSpins, DefaultMaxYields, DefaultMinPark, DefaultMaxPark)
	}
	return r
}

// Run ticks the step until ctx is cancelled and returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	r.opts.logger.Info("runner starting", "name", r.name)
	for {
		if err := ctx.Err(); err != nil {
			r.opts.logger.Info("runner stopping: context cancelled", "name", r.name)
			return err
		}
		r.opts.idle.Idle(ctx, r.RunOnce())
	}
}

// RunOnce performs a single tick and reports whether it did work.
func (r *Runner) RunOnce() bool {
	work := r.step.DoWork()
	if !work {
		r.opts.metrics.Idle()
	}
	return work
}

// Wake interrupts a parked idle strategy. No-op for strategies that do
// not park.
func (r *Runner) Wake() {
	if w, ok := r.opts.idle.(interface{ Wake() }); ok {
		w.Wake()
	}
}
