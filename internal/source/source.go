// Package source implements the root producer streams every pipeline
// starts from: eager in-memory sources (Of, From), a counting Range, timer-
// driven Interval/Timer, and the two empty/error terminal sources. Interval
// and Timer use internal/clock so the virtual scheduler can drive them
// deterministically, using a ticker-loop-over-stopCh shape for the
// periodic case.
package source

import (
	"context"
	"errors"
	"time"

	"fluxpipe/internal/clock"
	"fluxpipe/internal/stream"
)

func durationMS(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Of emits the given values in order, then closes.
func Of[T any](ctx context.Context, values ...T) *stream.Stream[T] {
	return From[T](ctx, values)
}

// From emits every value in values in order, then closes.
func From[T any](ctx context.Context, values []T) *stream.Stream[T] {
	start := func(_ context.Context, c stream.Controller[T]) error {
		for _, v := range values {
			c.Enqueue(v)
		}
		c.Close()
		return nil
	}
	return stream.New[T](ctx, start, nil, nil, stream.DefaultStrategy())
}

// Empty closes immediately without emitting any value.
func Empty[T any](ctx context.Context) *stream.Stream[T] {
	start := func(_ context.Context, c stream.Controller[T]) error {
		c.Close()
		return nil
	}
	return stream.New[T](ctx, start, nil, nil, stream.DefaultStrategy())
}

// ThrowError errors immediately with err without emitting any value. A nil
// err is replaced with a generic sentinel, since an errored source must
// carry a non-nil reason.
func ThrowError[T any](ctx context.Context, err error) *stream.Stream[T] {
	if err == nil {
		err = errors.New("source: ThrowError called with nil error")
	}
	start := func(_ context.Context, c stream.Controller[T]) error {
		c.Error(err)
		return nil
	}
	return stream.New[T](ctx, start, nil, nil, stream.DefaultStrategy())
}

// Range emits count consecutive integers starting at start, then closes. A
// non-positive count closes immediately with no values.
func Range(ctx context.Context, start, count int) *stream.Stream[int] {
	startFn := func(_ context.Context, c stream.Controller[int]) error {
		for i := 0; i < count; i++ {
			c.Enqueue(start + i)
		}
		c.Close()
		return nil
	}
	return stream.New[int](ctx, startFn, nil, nil, stream.DefaultStrategy())
}

// Interval emits an increasing counter, once every ms, forever, until the
// reader cancels. ms <= 0 is treated as an immediate, continuous tick (no
// throttling).
func Interval(ctx context.Context, ms int) *stream.Stream[int] {
	start := func(sctx context.Context, c stream.Controller[int]) error {
		clk := clock.From(sctx)
		go func() {
			n := 0
			for {
				select {
				case <-sctx.Done():
					return
				case <-clk.After(durationMS(ms)):
					c.Enqueue(n)
					n++
				}
			}
		}()
		return nil
	}
	return stream.New[int](ctx, start, nil, nil, stream.DefaultStrategy())
}

// Timer emits the single value 0 once ms has elapsed, then closes.
func Timer(ctx context.Context, ms int) *stream.Stream[int] {
	start := func(sctx context.Context, c stream.Controller[int]) error {
		clk := clock.From(sctx)
		go func() {
			select {
			case <-sctx.Done():
				return
			case <-clk.After(durationMS(ms)):
				c.Enqueue(0)
				c.Close()
			}
		}()
		return nil
	}
	return stream.New[int](ctx, start, nil, nil, stream.DefaultStrategy())
}
