package transform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fluxpipe/internal/clock"
	"fluxpipe/internal/operator"
	"fluxpipe/internal/stream"
)

func durationMS(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// buildSimple wraps operator.Build for the common per-value Step shape used
// by buffer/take/skip, with an optional onClose hook for flushing residual
// state (buffer's partial trailing group) before the output closes.
func buildSimple[T, R any](name string, in *stream.Stream[T], strategy stream.Strategy, step operator.Step[T, R], onClose func(emit func(R))) *stream.Stream[R] {
	return operator.Build(in.Context(), operator.FromReader(in), strategy, operator.Hooks[T, R]{
		Name: name,
		Step: step,
		OnClose: func(emit func(R)) {
			if onClose != nil {
				onClose(emit)
			}
		},
	})
}

// ErrNegativeDelay is a construction-time error: delay(ms) with ms < 0.
var ErrNegativeDelay = errors.New("transform: delay requires ms >= 0")

// ErrNonPositiveDebounce is a construction-time error: debounceTime(ms)
// requires ms > 0.
var ErrNonPositiveDebounce = errors.New("transform: debounceTime requires ms > 0")

// ErrTimeout is the sentinel error the timeout operator errors the stream
// with when an inter-value gap exceeds its limit.
var ErrTimeout = errors.New("timeout")

// Delay delays every value (and the close event) by at least ms. A
// negative ms fails at construction, returned as an (operator, error)
// pair rather than a panic so the failure is recoverable.
func Delay[T any](ms int) (func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T], error) {
	if ms < 0 {
		return nil, ErrNegativeDelay
	}
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
		var upstream *stream.Reader[T]
		clk := clock.From(in.Context())

		wait := func(ctx context.Context) error {
			select {
			case <-clk.After(durationMS(ms)):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		flush := func(ctx context.Context, c stream.Controller[T]) error {
			for c.DesiredSize() > 0 {
				v, done, err := upstream.Read(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					c.Error(err)
					return nil
				}
				if done {
					if werr := wait(ctx); werr != nil {
						return nil
					}
					c.Close()
					return nil
				}
				if werr := wait(ctx); werr != nil {
					return nil
				}
				c.Enqueue(v)
			}
			return nil
		}

		start := func(ctx context.Context, c stream.Controller[T]) error {
			r, err := in.Reader()
			if err != nil {
				return err
			}
			upstream = r
			return flush(ctx, c)
		}
		pull := func(ctx context.Context, c stream.Controller[T]) error {
			return flush(ctx, c)
		}
		cancelFn := func(reason error) error {
			if upstream != nil {
				return upstream.Cancel(reason)
			}
			return nil
		}
		return stream.New[T](in.Context(), start, pull, cancelFn, strategy)
	}, nil
}

// DebounceTime emits the latest value once ms has elapsed with no further
// input. On source close mid-debounce it emits the pending value, then
// closes. ms must be > 0.
func DebounceTime[T any](ms int) (func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T], error) {
	if ms <= 0 {
		return nil, ErrNonPositiveDebounce
	}
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
		clk := clock.From(in.Context())
		var upstream *stream.Reader[T]

		type state int
		const (
			stateIdle state = iota
			statePending
			stateClosed
		)
		st := stateIdle
		var pending T
		var timerCh <-chan struct{}
		var timerGen int

		armTimer := func() <-chan struct{} {
			timerGen++
			gen := timerGen
			done := make(chan struct{})
			go func() {
				select {
				case <-clk.After(durationMS(ms)):
					close(done)
				}
				_ = gen
			}()
			return done
		}

		type readResult struct {
			v    T
			done bool
			err  error
		}
		var readCh chan readResult
		var readInFlight bool

		// ensureRead starts at most one upstream.Read per outstanding request,
		// surviving across readLoop invocations (readLoop returns early when
		// the debounce timer fires, yielding to the pull cycle) instead of
		// abandoning an in-flight read and racing a second one against it.
		ensureRead := func(ctx context.Context) <-chan readResult {
			if !readInFlight {
				readCh = make(chan readResult, 1)
				readInFlight = true
				go func() {
					v, done, err := upstream.Read(ctx)
					readCh <- readResult{v, done, err}
				}()
			}
			return readCh
		}

		// readLoop owns the upstream read and the debounce timer together so
		// that a pending timer firing and a new source value racing are
		// resolved deterministically via a single select.
		readLoop := func(ctx context.Context, c stream.Controller[T]) error {
			for {
				if st == stateClosed {
					return nil
				}
				ch := ensureRead(ctx)

				select {
				case res := <-ch:
					readInFlight = false
					if res.err != nil {
						if ctx.Err() != nil {
							return nil
						}
						st = stateClosed
						c.Error(res.err)
						return nil
					}
					if res.done {
						if st == statePending {
							c.Enqueue(pending)
						}
						st = stateClosed
						c.Close()
						return nil
					}
					pending = res.v
					st = statePending
					timerCh = armTimer()
				case <-timerCh:
					if st == statePending {
						c.Enqueue(pending)
						st = stateIdle
						timerCh = nil
						return nil // yield control back to the flush/pull cycle
					}
				case <-ctx.Done():
					return nil
				}
				if c.DesiredSize() <= 0 {
					return nil
				}
			}
		}

		start := func(ctx context.Context, c stream.Controller[T]) error {
			r, err := in.Reader()
			if err != nil {
				return err
			}
			upstream = r
			return readLoop(ctx, c)
		}
		pull := func(ctx context.Context, c stream.Controller[T]) error {
			return readLoop(ctx, c)
		}
		cancelFn := func(reason error) error {
			st = stateClosed
			if upstream != nil {
				return upstream.Cancel(reason)
			}
			return nil
		}
		return stream.New[T](in.Context(), start, pull, cancelFn, strategy)
	}, nil
}

// Timeout passes values through unchanged but errors with ErrTimeout if the
// gap since the previous value (or subscription) exceeds ms.
func Timeout[T any](ms int) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
		clk := clock.From(in.Context())
		var upstream *stream.Reader[T]

		flush := func(ctx context.Context, c stream.Controller[T]) error {
			for c.DesiredSize() > 0 {
				type result struct {
					v    T
					done bool
					err  error
				}
				readCh := make(chan result, 1)
				go func() {
					v, done, err := upstream.Read(ctx)
					readCh <- result{v, done, err}
				}()

				select {
				case res := <-readCh:
					if res.err != nil {
						if ctx.Err() != nil {
							return nil
						}
						c.Error(res.err)
						return nil
					}
					if res.done {
						c.Close()
						return nil
					}
					c.Enqueue(res.v)
				case <-clk.After(durationMS(ms)):
					_ = upstream.Cancel(ErrTimeout)
					c.Error(ErrTimeout)
					return nil
				case <-ctx.Done():
					return nil
				}
			}
			return nil
		}

		start := func(ctx context.Context, c stream.Controller[T]) error {
			r, err := in.Reader()
			if err != nil {
				return err
			}
			upstream = r
			return flush(ctx, c)
		}
		pull := func(ctx context.Context, c stream.Controller[T]) error {
			return flush(ctx, c)
		}
		cancelFn := func(reason error) error {
			if upstream != nil {
				return upstream.Cancel(reason)
			}
			return nil
		}
		return stream.New[T](in.Context(), start, pull, cancelFn, strategy)
	}
}

// Buffer groups every n input values into a slice; the remainder is flushed
// on close.
func Buffer[T any](n int) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[[]T] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[[]T] {
		acc := make([]T, 0, max(n, 0))
		step := func(_ context.Context, v T, _ int, emit func([]T)) (bool, error) {
			acc = append(acc, v)
			if n > 0 && len(acc) >= n {
				emit(acc)
				acc = make([]T, 0, n)
			}
			return false, nil
		}
		return buildSimple("buffer", in, strategy, step, func(emit func([]T)) {
			if len(acc) > 0 {
				emit(acc)
			}
		})
	}
}

// Take emits only the first n values then closes; upstream is cancelled
// after n. n=0 closes immediately without acquiring upstream.
func Take[T any](n int) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
		if n <= 0 {
			start := func(_ context.Context, c stream.Controller[T]) error {
				c.Close()
				return nil
			}
			return stream.New[T](in.Context(), start, nil, nil, strategy)
		}
		seen := 0
		step := func(_ context.Context, v T, _ int, emit func(T)) (bool, error) {
			seen++
			emit(v)
			return seen >= n, nil
		}
		return buildSimple("take", in, strategy, step, nil)
	}
}

// Skip drops the first n values (negative n behaves as 0).
func Skip[T any](n int) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
		if n < 0 {
			n = 0
		}
		seen := 0
		step := func(_ context.Context, v T, _ int, emit func(T)) (bool, error) {
			seen++
			if seen > n {
				emit(v)
			}
			return false, nil
		}
		return buildSimple("skip", in, strategy, step, nil)
	}
}

// TakeUntil passes values through until notifier emits its first value (or
// closes); notifier errors are ignored.
func TakeUntil[T, N any](notifier *stream.Stream[N]) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
		var upstream *stream.Reader[T]
		notifierClosed := make(chan struct{})
		var closeOnce chanOnce

		start := func(ctx context.Context, c stream.Controller[T]) error {
			r, err := in.Reader()
			if err != nil {
				return err
			}
			upstream = r

			nr, err := notifier.Reader()
			if err == nil {
				go func() {
					// A first value or a close ends the wait; a notifier error does not.
					_, _, nerr := nr.Read(ctx)
					if nerr != nil && ctx.Err() == nil {
						return
					}
					closeOnce.do(func() { close(notifierClosed) })
					_ = nr.Cancel(nil)
				}()
			} else {
				closeOnce.do(func() { close(notifierClosed) })
			}

			return flushTakeUntil(ctx, upstream, c, notifierClosed)
		}
		pull := func(ctx context.Context, c stream.Controller[T]) error {
			return flushTakeUntil(ctx, upstream, c, notifierClosed)
		}
		cancelFn := func(reason error) error {
			if upstream != nil {
				return upstream.Cancel(reason)
			}
			return nil
		}
		return stream.New[T](in.Context(), start, pull, cancelFn, strategy)
	}
}

type chanOnce struct {
	done bool
}

func (o *chanOnce) do(fn func()) {
	if !o.done {
		o.done = true
		fn()
	}
}

func flushTakeUntil[T any](ctx context.Context, upstream *stream.Reader[T], c stream.Controller[T], notifierClosed <-chan struct{}) error {
	for c.DesiredSize() > 0 {
		type result struct {
			v    T
			done bool
			err  error
		}
		readCh := make(chan result, 1)
		go func() {
			v, done, err := upstream.Read(ctx)
			readCh <- result{v, done, err}
		}()

		select {
		case <-notifierClosed:
			_ = upstream.Cancel(nil)
			c.Close()
			return nil
		case res := <-readCh:
			if res.err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.Error(res.err)
				return nil
			}
			if res.done {
				c.Close()
				return nil
			}
			c.Enqueue(res.v)
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// OnHandlers are the passthrough lifecycle callbacks `on` invokes.
// Exactly one of Complete, Cancel, or Error fires, per the terminal event;
// handler exceptions are logged, never propagated.
type OnHandlers[T any] struct {
	Start    func()
	Complete func()
	Cancel   func(reason error)
	Error    func(err error)
}

// On runs lifecycle handlers without altering the stream's values.
func On[T any](h OnHandlers[T]) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
		var upstream *stream.Reader[T]
		cancelled := false

		start := func(ctx context.Context, c stream.Controller[T]) error {
			if h.Start != nil {
				safeCall(h.Start)
			}
			r, err := in.Reader()
			if err != nil {
				return err
			}
			upstream = r
			return flushOn(ctx, upstream, c, h, &cancelled)
		}
		pull := func(ctx context.Context, c stream.Controller[T]) error {
			return flushOn(ctx, upstream, c, h, &cancelled)
		}
		cancelFn := func(reason error) error {
			cancelled = true
			if h.Cancel != nil {
				safeCall(func() { h.Cancel(reason) })
			}
			if upstream != nil {
				return upstream.Cancel(reason)
			}
			return nil
		}
		return stream.New[T](in.Context(), start, pull, cancelFn, strategy)
	}
}

func flushOn[T any](ctx context.Context, upstream *stream.Reader[T], c stream.Controller[T], h OnHandlers[T], cancelled *bool) error {
	for c.DesiredSize() > 0 {
		v, done, err := upstream.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if h.Error != nil {
				safeCall(func() { h.Error(err) })
			}
			c.Error(err)
			return nil
		}
		if done {
			if !*cancelled && h.Complete != nil {
				safeCall(h.Complete)
			}
			c.Close()
			return nil
		}
		c.Enqueue(v)
	}
	return nil
}

// CatchError switches to the stream returned by h(err) when the source
// errors. h's own error terminates the output.
func CatchError[T any](h func(err error) (*stream.Stream[T], error)) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
		var upstream *stream.Reader[T]
		var fallback *stream.Reader[T]

		flush := func(ctx context.Context, c stream.Controller[T]) error {
			for c.DesiredSize() > 0 {
				var v T
				var done bool
				var err error
				if fallback != nil {
					v, done, err = fallback.Read(ctx)
				} else {
					v, done, err = upstream.Read(ctx)
				}
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					if fallback != nil {
						c.Error(err)
						return nil
					}
					replacement, herr := h(err)
					if herr != nil {
						c.Error(fmt.Errorf("catchError handler: %w", herr))
						return nil
					}
					fr, rerr := replacement.Reader()
					if rerr != nil {
						c.Error(rerr)
						return nil
					}
					fallback = fr
					continue
				}
				if done {
					c.Close()
					return nil
				}
				c.Enqueue(v)
			}
			return nil
		}

		start := func(ctx context.Context, c stream.Controller[T]) error {
			r, err := in.Reader()
			if err != nil {
				return err
			}
			upstream = r
			return flush(ctx, c)
		}
		pull := func(ctx context.Context, c stream.Controller[T]) error {
			return flush(ctx, c)
		}
		cancelFn := func(reason error) error {
			if fallback != nil {
				return fallback.Cancel(reason)
			}
			if upstream != nil {
				return upstream.Cancel(reason)
			}
			return nil
		}
		return stream.New[T](in.Context(), start, pull, cancelFn, strategy)
	}
}
