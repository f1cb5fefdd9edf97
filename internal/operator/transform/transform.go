// Package transform implements the per-value stream operators: map, filter,
// scan, reduce, tap, pairwise, count, distinctUntilChanged, skipWhile,
// ignoreElements, plus the timing/windowing operators delay, debounceTime,
// timeout, buffer, take, skip, takeUntil, on, and catchError.
package transform

import (
	"context"
	"fmt"

	"fluxpipe/internal/logger"
	"fluxpipe/internal/operator"
	"fluxpipe/internal/stream"
)

var log = logger.WithComponent("operator.transform")

// Map applies f(x, index) to every input value. index starts at 0;
// exceptions from f (a panic recovered at the call site, or a returned
// error) error the stream.
func Map[T, R any](f func(v T, index int) (R, error)) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[R] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[R] {
		return operator.Build(in.Context(), operator.FromReader(in), strategy, operator.Hooks[T, R]{
			Name: "map",
			Step: func(_ context.Context, v T, index int, emit func(R)) (bool, error) {
				var out R
				var err error
				func() {
					defer func() {
						if r := recover(); r != nil {
							err = fmt.Errorf("map: function panicked: %v", r)
						}
					}()
					out, err = f(v, index)
				}()
				if err != nil {
					return false, err
				}
				emit(out)
				return false, nil
			},
		})
	}
}

// Filter keeps values where p(x, index) is true; index counts inputs, not
// outputs.
func Filter[T any](p func(v T, index int) (bool, error)) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
		return operator.Build(in.Context(), operator.FromReader(in), strategy, operator.Hooks[T, T]{
			Name: "filter",
			Step: func(_ context.Context, v T, index int, emit func(T)) (bool, error) {
				keep, err := p(v, index)
				if err != nil {
					return false, err
				}
				if keep {
					emit(v)
				}
				return false, nil
			},
		})
	}
}

// Scan emits the running accumulator after each input. If seed is nil, the
// first input becomes the seed and is emitted as-is without being passed
// through f. The accumulator type equals the element type in this form;
// use ScanSeeded for an accumulator of a different type.
func Scan[T any](f func(acc, v T, index int) (T, error), seed *T) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
		var acc T
		have := false
		if seed != nil {
			acc = *seed
			have = true
		}
		return operator.Build(in.Context(), operator.FromReader(in), strategy, operator.Hooks[T, T]{
			Name: "scan",
			Step: func(_ context.Context, v T, index int, emit func(T)) (bool, error) {
				if !have {
					// No seed: the first input is the seed, emitted unchanged.
					acc = v
					have = true
					emit(acc)
					return false, nil
				}
				next, err := f(acc, v, index)
				if err != nil {
					return false, err
				}
				acc = next
				emit(acc)
				return false, nil
			},
		})
	}
}

// ScanSeeded is Scan with an accumulator type distinct from the element
// type; a seed is always required since there is no input value to adopt
// as the initial accumulator.
func ScanSeeded[T, A any](f func(acc A, v T, index int) (A, error), seed A) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[A] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[A] {
		acc := seed
		return operator.Build(in.Context(), operator.FromReader(in), strategy, operator.Hooks[T, A]{
			Name: "scanSeeded",
			Step: func(_ context.Context, v T, index int, emit func(A)) (bool, error) {
				next, err := f(acc, v, index)
				if err != nil {
					return false, err
				}
				acc = next
				emit(acc)
				return false, nil
			},
		})
	}
}

// Reduce emits a single final accumulator on close. Empty input emits seed
// then closes.
func Reduce[T, A any](f func(acc A, v T, index int) (A, error), seed A) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[A] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[A] {
		acc := seed
		return operator.Build(in.Context(), operator.FromReader(in), strategy, operator.Hooks[T, A]{
			Name: "reduce",
			Step: func(_ context.Context, v T, index int, emit func(A)) (bool, error) {
				next, err := f(acc, v, index)
				if err != nil {
					return false, err
				}
				acc = next
				return false, nil
			},
			OnClose: func(emit func(A)) {
				emit(acc)
			},
		})
	}
}

// TapHandlers are the optional side-effect callbacks tap invokes; a nil
// handler is skipped. Next errors propagate as stream errors; a Complete
// panic is logged, not propagated (it runs after the terminal event has
// already been decided). Tap never calls Error: an upstream error reaches
// the output stream without invoking it.
type TapHandlers[T any] struct {
	Next     func(v T) error
	Complete func()
	Error    func(err error)
}

// Tap runs side effects without altering the stream; Next errors error the
// stream.
func Tap[T any](h TapHandlers[T]) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
		return operator.Build(in.Context(), operator.FromReader(in), strategy, operator.Hooks[T, T]{
			Name: "tap",
			Step: func(_ context.Context, v T, index int, emit func(T)) (bool, error) {
				if h.Next != nil {
					if err := h.Next(v); err != nil {
						return false, err
					}
				}
				emit(v)
				return false, nil
			},
			OnClose: func(emit func(T)) {
				if h.Complete != nil {
					safeCall(func() { h.Complete() })
				}
			},
		})
	}
}

func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("tap handler panicked", "panic", r)
		}
	}()
	fn()
}

// Pair is the [previous, current] value pairwise emits.
type Pair[T any] struct {
	Prev T
	Cur  T
}

// Pairwise emits [prev, cur] once at least two inputs have been seen; the
// first input produces nothing.
func Pairwise[T any]() func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[Pair[T]] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[Pair[T]] {
		var prev T
		have := false
		return operator.Build(in.Context(), operator.FromReader(in), strategy, operator.Hooks[T, Pair[T]]{
			Name: "pairwise",
			Step: func(_ context.Context, v T, index int, emit func(Pair[T])) (bool, error) {
				if have {
					emit(Pair[T]{Prev: prev, Cur: v})
				}
				prev = v
				have = true
				return false, nil
			},
		})
	}
}

// Count emits a single integer on close: the total number of inputs, or
// (with a predicate) the count of inputs where p(x) holds. A predicate
// error errors the stream immediately.
func Count[T any](p func(v T) (bool, error)) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[int] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[int] {
		n := 0
		return operator.Build(in.Context(), operator.FromReader(in), strategy, operator.Hooks[T, int]{
			Name: "count",
			Step: func(_ context.Context, v T, index int, emit func(int)) (bool, error) {
				if p == nil {
					n++
					return false, nil
				}
				ok, err := p(v)
				if err != nil {
					return false, err
				}
				if ok {
					n++
				}
				return false, nil
			},
			OnClose: func(emit func(int)) {
				emit(n)
			},
		})
	}
}

// DistinctUntilChanged emits a value only when eq(prev, v) is false. The
// first value always emits. A nil eq compares T values with Go's ==.
func DistinctUntilChanged[T comparable](eq func(prev, v T) bool) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
		var prev T
		have := false
		equal := eq
		if equal == nil {
			equal = func(a, b T) bool { return a == b }
		}
		return operator.Build(in.Context(), operator.FromReader(in), strategy, operator.Hooks[T, T]{
			Name: "distinctUntilChanged",
			Step: func(_ context.Context, v T, index int, emit func(T)) (bool, error) {
				if !have || !equal(prev, v) {
					emit(v)
					prev = v
					have = true
				}
				return false, nil
			},
		})
	}
}

// SkipWhile emits from (and including) the first x where p(x) is false
// onward.
func SkipWhile[T any](p func(v T, index int) (bool, error)) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
		skipping := true
		return operator.Build(in.Context(), operator.FromReader(in), strategy, operator.Hooks[T, T]{
			Name: "skipWhile",
			Step: func(_ context.Context, v T, index int, emit func(T)) (bool, error) {
				if skipping {
					ok, err := p(v, index)
					if err != nil {
						return false, err
					}
					if ok {
						return false, nil
					}
					skipping = false
				}
				emit(v)
				return false, nil
			},
		})
	}
}

// IgnoreElements never emits a value, but preserves close/error.
func IgnoreElements[T any]() func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[T] {
		return operator.Build(in.Context(), operator.FromReader(in), strategy, operator.Hooks[T, T]{
			Name: "ignoreElements",
			Step: func(_ context.Context, v T, index int, emit func(T)) (bool, error) {
				return false, nil
			},
		})
	}
}
