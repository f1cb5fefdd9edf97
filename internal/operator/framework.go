// Package operator implements the common operator template described by the
// stream contract: acquire an upstream reader on start, run a flush loop
// whenever desiredSize > 0, and release the upstream reader on cancel or
// terminal event. Individual operators (see the transform, flatten, and
// combine subpackages) either build directly on Build here or, for
// operators with their own timers and control flow (delay, debounceTime,
// timeout, takeUntil, switchMap, ...), hand-roll the same shape against
// internal/stream directly.
package operator

import (
	"context"
	"fmt"
	"sync/atomic"

	"fluxpipe/internal/metrics"
	"fluxpipe/internal/observability"
	"fluxpipe/internal/stream"
)

var buildSeq int64

func nextStreamTag(name string) string {
	n := atomic.AddInt64(&buildSeq, 1)
	return fmt.Sprintf("%s-%d", name, n)
}

// Acquire opens the upstream reader for an operator's input stream.
type Acquire[T any] func() (*stream.Reader[T], error)

// FromReader adapts an already-open stream into an Acquire func, the common
// case of "the operator's input is this stream".
func FromReader[T any](in *stream.Stream[T]) Acquire[T] {
	return func() (*stream.Reader[T], error) {
		return in.Reader()
	}
}

// Step processes one upstream value. It may enqueue zero or more downstream
// values via emit, return stop=true to close the output and cancel the
// upstream early (take(n)'s contract), or return a non-nil err to error the
// output and cancel the upstream (an operator-function error, per the error
// handling design).
type Step[T, R any] func(ctx context.Context, v T, index int, emit func(R)) (stop bool, err error)

// OnUpstreamClose runs once when the upstream stream closes normally, before
// the output is closed, letting operators like reduce/count emit a final
// value.
type OnUpstreamClose[R any] func(emit func(R))

// Hooks bundles the Step/OnUpstreamClose callbacks plus an optional
// OnCancel for extra cleanup (timers, abort signals) beyond releasing the
// upstream reader.
type Hooks[T, R any] struct {
	Name         string // operator name for metrics/trace labels, e.g. "map", "filter"
	Step         Step[T, R]
	OnClose      OnUpstreamClose[R]
	OnCancel     func(reason error)
	ZeroUpstream bool // true for operators that never read upstream; no operator in this module sets it (Take(0) builds its own stream)
}

// Build constructs an operator's output stream from the standard template.
// parentCtx should be the input stream's Context() so context values (the
// virtual-time clock, trace spans) propagate downstream.
func Build[T, R any](parentCtx context.Context, acquire Acquire[T], strategy stream.Strategy, hooks Hooks[T, R]) *stream.Stream[R] {
	var upstream *stream.Reader[T]
	index := 0
	stopped := false

	name := hooks.Name
	if name == "" {
		name = "operator"
	}
	streamTag := nextStreamTag(name)

	flush := func(ctx context.Context, c stream.Controller[R]) error {
		if stopped || upstream == nil {
			return nil
		}
		spanCtx, span := observability.StartFlushSpan(ctx, streamTag, name)
		emitted := 0
		var flushErr error
		defer func() {
			observability.RecordFlushResult(span, emitted, flushErr)
			span.End()
		}()
		emit := func(r R) {
			emitted++
			metrics.Default().RecordEmit(name)
			c.Enqueue(r)
		}
		for c.DesiredSize() > 0 {
			v, done, err := upstream.Read(spanCtx)
			if err != nil {
				if ctx.Err() != nil {
					// Cancellation in flight; let Cancel's cleanup own the terminal state.
					return nil
				}
				flushErr = err
				metrics.Default().RecordOperatorError(name)
				c.Error(err)
				return nil
			}
			if done {
				if hooks.OnClose != nil {
					hooks.OnClose(emit)
				}
				c.Close()
				stopped = true
				return nil
			}
			idx := index
			index++
			stop, stepErr := hooks.Step(spanCtx, v, idx, emit)
			if stepErr != nil {
				stopped = true
				flushErr = stepErr
				metrics.Default().RecordOperatorError(name)
				_ = upstream.Cancel(stepErr)
				c.Error(stepErr)
				return nil
			}
			if stop {
				stopped = true
				_ = upstream.Cancel(nil)
				c.Close()
				return nil
			}
		}
		return nil
	}

	start := func(ctx context.Context, c stream.Controller[R]) error {
		if hooks.ZeroUpstream {
			c.Close()
			stopped = true
			return nil
		}
		r, err := acquire()
		if err != nil {
			return err
		}
		upstream = r
		return flush(ctx, c)
	}

	pull := func(ctx context.Context, c stream.Controller[R]) error {
		return flush(ctx, c)
	}

	cancelFn := func(reason error) error {
		stopped = true
		if hooks.OnCancel != nil {
			hooks.OnCancel(reason)
		}
		if upstream != nil {
			return upstream.Cancel(reason)
		}
		return nil
	}

	return stream.New[R](parentCtx, start, pull, cancelFn, strategy)
}
