// Package clock lets timing operators (delay, debounceTime, timeout) and
// the sources that use intervals/timers be driven by either the real
// wall clock or the virtual scheduler's tick clock, without either caring
// which. Operators read their clock from context; the virtual scheduler
// installs its own clock into the context it hands to cold/hot streams, and
// everything downstream inherits it through the stream's own context
// (internal/stream.Stream.Context), exactly the way the virtual-scheduler
// spec describes sleep() being "redirected" transparently.
package clock

import (
	"context"
	"time"
)

// Clock abstracts the passage of time for a stream pipeline.
type Clock interface {
	// After returns a channel that receives once after d has elapsed on
	// this clock.
	After(d time.Duration) <-chan time.Time
	// Now returns the clock's current time.
	Now() time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) Now() time.Time                         { return time.Now() }

// Real is the wall-clock Clock, used whenever no virtual clock has been
// installed into the context.
var Real Clock = realClock{}

type clockKey struct{}

// WithClock returns a context carrying clk; streams constructed with this
// context (and every operator stage derived from them) will use clk.
func WithClock(ctx context.Context, clk Clock) context.Context {
	return context.WithValue(ctx, clockKey{}, clk)
}

// From resolves the Clock installed in ctx, or Real if none was installed.
func From(ctx context.Context) Clock {
	if clk, ok := ctx.Value(clockKey{}).(Clock); ok {
		return clk
	}
	return Real
}
