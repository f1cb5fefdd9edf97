package vtime

import (
	"context"
	"runtime"
	"time"

	"fluxpipe/internal/clock"
)

// Scheduler drives a TickClock through a test block, advancing virtual
// time until no scheduled task is pending or a safety limit of steps is
// hit (a runaway-block backstop, not a normal exit path).
type Scheduler struct {
	clk      *TickClock
	maxTicks int64
}

// NewScheduler returns a Scheduler with a fresh TickClock.
func NewScheduler() *Scheduler {
	return &Scheduler{clk: NewTickClock(), maxTicks: 10_000}
}

// Helpers is handed to the function passed to Scheduler.Run. Test blocks
// use the Scheduler's Context(ctx) to build cold/hot streams and operator pipelines that
// read this scheduler's TickClock instead of the wall clock; Go's lack of
// method-level generics means the cold/hot/ExpectStream constructors
// themselves stay package-level generic functions rather than methods on
// Helpers.
type Helpers struct {
	s *Scheduler
}

// Context returns a context carrying this scheduler's clock, for
// constructing cold/hot streams and operator pipelines under test.
func (s *Scheduler) Context(parent context.Context) context.Context {
	return clock.WithClock(parent, s.clk)
}

// Clock returns the scheduler's TickClock.
func (s *Scheduler) Clock() *TickClock { return s.clk }

// Run executes fn, then advances virtual time one Step at a time (each
// Step jumps to the next pending task's tick) — yielding the real
// goroutine scheduler between Steps so that goroutines unblocked by a
// firing timer get to run — until no task is pending or maxTicks Steps
// have run. It does not (and, short of instrumenting every
// suspension point in internal/stream itself, cannot) guarantee full
// "no pending readers AND no in-flight async ops" quiescence; see
// DESIGN.md for the accepted divergence.
func (s *Scheduler) Run(fn func(h Helpers)) {
	fn(Helpers{s: s})

	var ticks int64
	for ticks < s.maxTicks {
		if !s.clk.Step() {
			break
		}
		ticks++
		// Let goroutines unblocked by the tasks just fired actually run
		// before we check for more pending work.
		for i := 0; i < 4; i++ {
			runtime.Gosched()
		}
	}
	// Final settle window for the last batch of fired timers to reach
	// their Enqueue/Close calls.
	time.Sleep(time.Millisecond)
}

func clockFrom(ctx context.Context) (*TickClock, bool) {
	clk, ok := clock.From(ctx).(*TickClock)
	return clk, ok
}
