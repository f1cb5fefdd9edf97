// Package combine implements the N-ary stream combinators: combineLatest,
// merge, and concat. All three operate over a fixed set of same-typed
// input streams (unlike internal/operator/flatten's projector-driven
// operators, which flatten a dynamically produced stream of streams).
package combine

import (
	"context"
	"errors"
	"sync"

	"fluxpipe/internal/stream"
)

// ErrEmptyCombineLatest is returned when CombineLatest is called with no
// sources: there is no "latest" snapshot to ever emit.
var ErrEmptyCombineLatest = errors.New("combine: combineLatest requires at least one source")

func openAll[T any](sources []*stream.Stream[T]) ([]*stream.Reader[T], error) {
	readers := make([]*stream.Reader[T], 0, len(sources))
	for _, s := range sources {
		r, err := s.Reader()
		if err != nil {
			for _, opened := range readers {
				_ = opened.Cancel(err)
			}
			return nil, err
		}
		readers = append(readers, r)
	}
	return readers, nil
}

func cancelAll[T any](readers []*stream.Reader[T], reason error) {
	for _, r := range readers {
		_ = r.Cancel(reason)
	}
}

// CombineLatest emits a snapshot slice of the latest value from every
// source once each has emitted at least once, then again on every
// subsequent emission from any source. It closes as soon as any source
// closes, not once all have. Any source error propagates immediately
// and cancels every other source.
func CombineLatest[T any](sources ...*stream.Stream[T]) *stream.Stream[[]T] {
	n := len(sources)
	start := func(ctx context.Context, c stream.Controller[[]T]) error {
		if n == 0 {
			c.Error(ErrEmptyCombineLatest)
			return nil
		}

		readers, err := openAll(sources)
		if err != nil {
			return err
		}

		latest := make([]T, n)
		have := make([]bool, n)
		var mu sync.Mutex
		var once sync.Once

		finish := func(fn func()) {
			once.Do(fn)
		}

		allHave := func() bool {
			for _, ok := range have {
				if !ok {
					return false
				}
			}
			return true
		}

		var wg sync.WaitGroup
		for i, r := range readers {
			wg.Add(1)
			go func(i int, r *stream.Reader[T]) {
				defer wg.Done()
				for {
					v, done, rerr := r.Read(ctx)
					if rerr != nil {
						if ctx.Err() == nil {
							finish(func() {
								cancelAll(readers, rerr)
								c.Error(rerr)
							})
						}
						return
					}
					if done {
						finish(func() {
							cancelAll(readers, nil)
							c.Close()
						})
						return
					}
					mu.Lock()
					latest[i] = v
					have[i] = true
					snapshot := append([]T(nil), latest...)
					ready := allHave()
					mu.Unlock()
					if ready {
						c.Enqueue(snapshot)
					}
				}
			}(i, r)
		}
		go wg.Wait()
		return nil
	}

	cancelFn := func(reason error) error {
		return nil
	}
	ctx := context.Background()
	if n > 0 {
		ctx = sources[0].Context()
	}
	return stream.New[[]T](ctx, start, nil, cancelFn, stream.DefaultStrategy())
}

// Merge interleaves values from every source as they arrive, closing only
// once every source has closed. Any source error propagates immediately and
// cancels every other source.
func Merge[T any](sources ...*stream.Stream[T]) *stream.Stream[T] {
	start := func(ctx context.Context, c stream.Controller[T]) error {
		readers, err := openAll(sources)
		if err != nil {
			return err
		}

		var once sync.Once
		finish := func(fn func()) { once.Do(fn) }

		var wg sync.WaitGroup
		for _, r := range readers {
			wg.Add(1)
			go func(r *stream.Reader[T]) {
				defer wg.Done()
				for {
					v, done, rerr := r.Read(ctx)
					if rerr != nil {
						if ctx.Err() == nil {
							finish(func() {
								cancelAll(readers, rerr)
								c.Error(rerr)
							})
						}
						return
					}
					if done {
						return
					}
					c.Enqueue(v)
				}
			}(r)
		}
		go func() {
			wg.Wait()
			finish(func() { c.Close() })
		}()
		return nil
	}

	cancelFn := func(reason error) error {
		return nil
	}
	ctx := context.Background()
	if len(sources) > 0 {
		ctx = sources[0].Context()
	}
	return stream.New[T](ctx, start, nil, cancelFn, stream.DefaultStrategy())
}

// Concat consumes each source fully, in order, before moving to the next.
func Concat[T any](sources ...*stream.Stream[T]) *stream.Stream[T] {
	start := func(ctx context.Context, c stream.Controller[T]) error {
		for _, s := range sources {
			r, err := s.Reader()
			if err != nil {
				c.Error(err)
				return nil
			}
			for {
				v, done, rerr := r.Read(ctx)
				if rerr != nil {
					if ctx.Err() == nil {
						c.Error(rerr)
					}
					return nil
				}
				if done {
					break
				}
				c.Enqueue(v)
			}
		}
		c.Close()
		return nil
	}

	ctx := context.Background()
	if len(sources) > 0 {
		ctx = sources[0].Context()
	}
	return stream.New[T](ctx, start, nil, nil, stream.DefaultStrategy())
}
