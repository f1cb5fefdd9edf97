// Package flatten implements the operators that turn a stream of streams
// into a single stream: mergeMap/mergeAll (concurrent, concurrency-limited
// via syncx.Gate and arrival-ordered via syncx.BlockingQueue), concatMap/
// concatAll (strictly sequential), switchMap/
// switchAll (cancels the previous inner stream on a new outer value), and
// exhaustMap/exhaustAll (ignores new outer values while an inner stream is
// still active). Each *Map operator projects outer values to inner streams;
// each *All operator is that same operator specialized to the identity
// projection over an already-nested stream of streams.
package flatten

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"fluxpipe/internal/logger"
	"fluxpipe/internal/observability"
	"fluxpipe/internal/stream"
	"fluxpipe/internal/syncx"
)

var log = logger.WithComponent("operator.flatten")

var flattenSeq int64

func nextFlattenTag(name string) string {
	n := atomic.AddInt64(&flattenSeq, 1)
	return fmt.Sprintf("%s-%d", name, n)
}

// Project maps an outer value (and its index) to an inner stream, or
// returns an error that terminates the whole flatten immediately.
type Project[T, R any] func(v T, index int) (*stream.Stream[R], error)

func identity[R any](v *stream.Stream[R], _ int) (*stream.Stream[R], error) {
	return v, nil
}

// innerTracker lets a flatten operator's cancelFn reach every inner reader
// currently in flight, plus the outer reader, so a consumer-initiated
// Cancel tears down every subscription rather than leaking goroutines that
// would otherwise only unwind once their own blocked Read notices context
// cancellation.
type innerTracker struct {
	mu     sync.Mutex
	outer  interface{ Cancel(error) error }
	inners map[int]interface{ Cancel(error) error }
	nextID int
}

func newInnerTracker() *innerTracker {
	return &innerTracker{inners: make(map[int]interface{ Cancel(error) error })}
}

func (t *innerTracker) setOuter(r interface{ Cancel(error) error }) {
	t.mu.Lock()
	t.outer = r
	t.mu.Unlock()
}

func (t *innerTracker) add(r interface{ Cancel(error) error }) int {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.inners[id] = r
	t.mu.Unlock()
	return id
}

func (t *innerTracker) remove(id int) {
	t.mu.Lock()
	delete(t.inners, id)
	t.mu.Unlock()
}

func (t *innerTracker) cancelAll(reason error) {
	t.mu.Lock()
	outer := t.outer
	inners := make([]interface{ Cancel(error) error }, 0, len(t.inners))
	for _, r := range t.inners {
		inners = append(inners, r)
	}
	t.mu.Unlock()
	if outer != nil {
		_ = outer.Cancel(reason)
	}
	for _, r := range inners {
		_ = r.Cancel(reason)
	}
}

// terminalGuard ensures only the first of a race between multiple goroutines
// (each inner stream, or the outer stream) gets to decide the flatten's
// terminal event.
type terminalGuard struct {
	mu   sync.Mutex
	done bool
}

func (g *terminalGuard) once(fn func()) {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return
	}
	g.done = true
	g.mu.Unlock()
	fn()
}

func (g *terminalGuard) isDone() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

// mergeItem is what concurrent inner goroutines push onto a MergeMap's
// BlockingQueue. final marks the sentinel pushed once every inner stream
// (and the outer stream) has finished, so the single drain goroutine knows
// to stop pulling instead of blocking forever on an empty queue.
type mergeItem[R any] struct {
	value R
	final bool
}

// MergeMap subscribes to every projected inner stream concurrently, up to
// concurrency at a time (concurrency <= 0 means unbounded). Each inner
// goroutine pushes its values onto a shared syncx.BlockingQueue rather than
// enqueueing onto the output directly; a single drain goroutine pulls from
// that queue and enqueues onto the output, which is what makes the
// interleaving arrival-ordered instead of a data race between concurrent
// Enqueue callers. The output closes once the outer stream and every inner
// stream it produced have closed; any single error (outer, projection, or
// inner) errors the output and cancels every other in-flight subscription.
func MergeMap[T, R any](f Project[T, R], concurrency int) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[R] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[R] {
		gate := syncx.NewGate(concurrency)
		tracker := newInnerTracker()
		terminal := &terminalGuard{}
		queue := syncx.NewBlockingQueue[mergeItem[R]]()
		streamTag := nextFlattenTag("mergeMap")

		start := func(ctx context.Context, c stream.Controller[R]) error {
			outer, err := in.Reader()
			if err != nil {
				return err
			}
			tracker.setOuter(outer)

			var wg sync.WaitGroup
			fail := func(err error) {
				terminal.once(func() {
					tracker.cancelAll(err)
					c.Error(err)
				})
			}

			drainDone := make(chan struct{})
			go func() {
				defer close(drainDone)
				for {
					item, perr := queue.Pull(ctx)
					if perr != nil {
						return
					}
					if item.final {
						return
					}
					c.Enqueue(item.value)
				}
			}()

			index := 0
			go func() {
				defer func() {
					wg.Wait()
					_ = queue.Push(ctx, mergeItem[R]{final: true})
					<-drainDone
					terminal.once(func() { c.Close() })
				}()
				for {
					if terminal.isDone() {
						return
					}
					v, closed, rerr := outer.Read(ctx)
					if rerr != nil {
						if ctx.Err() == nil {
							fail(rerr)
						}
						return
					}
					if closed {
						return
					}
					if gerr := gate.Wait(ctx); gerr != nil {
						return
					}
					idx := index
					index++
					innerStream, perr := f(v, idx)
					if perr != nil {
						gate.Increment()
						fail(perr)
						return
					}
					innerReader, ierr := innerStream.Reader()
					if ierr != nil {
						gate.Increment()
						fail(ierr)
						return
					}
					trackID := tracker.add(innerReader)
					spanCtx, span := observability.StartInnerSubscriptionSpan(ctx, streamTag, "mergeMap", idx)
					wg.Add(1)
					go func() {
						defer wg.Done()
						defer gate.Increment()
						defer tracker.remove(trackID)
						defer span.End()
						for {
							iv, idone, ierr2 := innerReader.Read(spanCtx)
							if ierr2 != nil {
								if ctx.Err() == nil {
									fail(ierr2)
								}
								return
							}
							if idone {
								return
							}
							if perr := queue.Push(ctx, mergeItem[R]{value: iv}); perr != nil {
								return
							}
						}
					}()
				}
			}()
			return nil
		}

		cancelFn := func(reason error) error {
			terminal.once(func() { tracker.cancelAll(reason) })
			return nil
		}
		return stream.New[R](in.Context(), start, nil, cancelFn, strategy)
	}
}

// MergeAll flattens a stream of streams concurrently, equivalent to
// MergeMap with the identity projection.
func MergeAll[R any](concurrency int) func(in *stream.Stream[*stream.Stream[R]], strategy stream.Strategy) *stream.Stream[R] {
	return MergeMap[*stream.Stream[R], R](identity[R], concurrency)
}

// ConcatMap subscribes to each projected inner stream strictly in order:
// the next inner stream is not subscribed to until the previous one (and
// the outer value producing it) has fully drained.
func ConcatMap[T, R any](f Project[T, R]) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[R] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[R] {
		tracker := newInnerTracker()
		terminal := &terminalGuard{}
		streamTag := nextFlattenTag("concatMap")

		start := func(ctx context.Context, c stream.Controller[R]) error {
			outer, err := in.Reader()
			if err != nil {
				return err
			}
			tracker.setOuter(outer)

			fail := func(err error) {
				terminal.once(func() {
					tracker.cancelAll(err)
					c.Error(err)
				})
			}

			go func() {
				index := 0
				for {
					if terminal.isDone() {
						return
					}
					v, closed, rerr := outer.Read(ctx)
					if rerr != nil {
						if ctx.Err() == nil {
							fail(rerr)
						}
						return
					}
					if closed {
						terminal.once(func() { c.Close() })
						return
					}
					idx := index
					index++
					innerStream, perr := f(v, idx)
					if perr != nil {
						fail(perr)
						return
					}
					innerReader, ierr := innerStream.Reader()
					if ierr != nil {
						fail(ierr)
						return
					}
					trackID := tracker.add(innerReader)
					spanCtx, span := observability.StartInnerSubscriptionSpan(ctx, streamTag, "concatMap", idx)
					for {
						iv, idone, ierr2 := innerReader.Read(spanCtx)
						if ierr2 != nil {
							tracker.remove(trackID)
							span.End()
							if ctx.Err() == nil {
								fail(ierr2)
							}
							return
						}
						if idone {
							break
						}
						c.Enqueue(iv)
					}
					tracker.remove(trackID)
					span.End()
				}
			}()
			return nil
		}

		cancelFn := func(reason error) error {
			terminal.once(func() { tracker.cancelAll(reason) })
			return nil
		}
		return stream.New[R](in.Context(), start, nil, cancelFn, strategy)
	}
}

// ConcatAll flattens a stream of streams strictly in order, equivalent to
// ConcatMap with the identity projection.
func ConcatAll[R any]() func(in *stream.Stream[*stream.Stream[R]], strategy stream.Strategy) *stream.Stream[R] {
	return ConcatMap[*stream.Stream[R], R](identity[R])
}

// SwitchMap subscribes to the projected inner stream for the latest outer
// value, cancelling whichever inner stream was previously active.
func SwitchMap[T, R any](f Project[T, R]) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[R] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[R] {
		tracker := newInnerTracker()
		terminal := &terminalGuard{}
		streamTag := nextFlattenTag("switchMap")

		start := func(ctx context.Context, c stream.Controller[R]) error {
			outer, err := in.Reader()
			if err != nil {
				return err
			}
			tracker.setOuter(outer)

			fail := func(err error) {
				terminal.once(func() {
					tracker.cancelAll(err)
					c.Error(err)
				})
			}

			var mu sync.Mutex
			activeGen := 0
			var activeInner *stream.Reader[R]
			var innerWG sync.WaitGroup

			go func() {
				defer func() {
					innerWG.Wait()
					terminal.once(func() { c.Close() })
				}()
				index := 0
				for {
					if terminal.isDone() {
						return
					}
					v, closed, rerr := outer.Read(ctx)
					if rerr != nil {
						if ctx.Err() == nil {
							fail(rerr)
						}
						return
					}
					if closed {
						return
					}
					idx := index
					index++
					innerStream, perr := f(v, idx)
					if perr != nil {
						fail(perr)
						return
					}
					innerReader, ierr := innerStream.Reader()
					if ierr != nil {
						fail(ierr)
						return
					}

					mu.Lock()
					activeGen++
					gen := activeGen
					prev := activeInner
					activeInner = innerReader
					mu.Unlock()
					if prev != nil {
						_ = prev.Cancel(nil)
					}
					trackID := tracker.add(innerReader)
					spanCtx, span := observability.StartInnerSubscriptionSpan(ctx, streamTag, "switchMap", idx)

					innerWG.Add(1)
					go func() {
						defer innerWG.Done()
						defer tracker.remove(trackID)
						defer span.End()
						for {
							mu.Lock()
							stale := gen != activeGen
							mu.Unlock()
							if stale {
								_ = innerReader.Cancel(nil)
								return
							}
							iv, idone, ierr2 := innerReader.Read(spanCtx)
							if ierr2 != nil {
								if ctx.Err() == nil {
									fail(ierr2)
								}
								return
							}
							if idone {
								return
							}
							mu.Lock()
							stale = gen != activeGen
							mu.Unlock()
							if stale {
								continue
							}
							c.Enqueue(iv)
						}
					}()
				}
			}()
			return nil
		}

		cancelFn := func(reason error) error {
			terminal.once(func() { tracker.cancelAll(reason) })
			return nil
		}
		return stream.New[R](in.Context(), start, nil, cancelFn, strategy)
	}
}

// SwitchAll flattens a stream of streams, always following the latest one,
// equivalent to SwitchMap with the identity projection.
func SwitchAll[R any]() func(in *stream.Stream[*stream.Stream[R]], strategy stream.Strategy) *stream.Stream[R] {
	return SwitchMap[*stream.Stream[R], R](identity[R])
}

// ExhaustMap subscribes to the projected inner stream for an outer value
// only if no inner stream is currently active; outer values arriving while
// one is active are dropped.
func ExhaustMap[T, R any](f Project[T, R]) func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[R] {
	return func(in *stream.Stream[T], strategy stream.Strategy) *stream.Stream[R] {
		tracker := newInnerTracker()
		terminal := &terminalGuard{}
		streamTag := nextFlattenTag("exhaustMap")

		start := func(ctx context.Context, c stream.Controller[R]) error {
			outer, err := in.Reader()
			if err != nil {
				return err
			}
			tracker.setOuter(outer)

			fail := func(err error) {
				terminal.once(func() {
					tracker.cancelAll(err)
					c.Error(err)
				})
			}

			var mu sync.Mutex
			busy := false
			var innerWG sync.WaitGroup

			go func() {
				defer func() {
					innerWG.Wait()
					terminal.once(func() { c.Close() })
				}()
				index := 0
				for {
					if terminal.isDone() {
						return
					}
					v, closed, rerr := outer.Read(ctx)
					if rerr != nil {
						if ctx.Err() == nil {
							fail(rerr)
						}
						return
					}
					if closed {
						return
					}
					mu.Lock()
					if busy {
						mu.Unlock()
						continue
					}
					busy = true
					mu.Unlock()

					idx := index
					index++
					innerStream, perr := f(v, idx)
					if perr != nil {
						fail(perr)
						return
					}
					innerReader, ierr := innerStream.Reader()
					if ierr != nil {
						fail(ierr)
						return
					}
					trackID := tracker.add(innerReader)
					spanCtx, span := observability.StartInnerSubscriptionSpan(ctx, streamTag, "exhaustMap", idx)

					innerWG.Add(1)
					go func() {
						defer innerWG.Done()
						defer tracker.remove(trackID)
						defer span.End()
						defer func() {
							mu.Lock()
							busy = false
							mu.Unlock()
						}()
						for {
							iv, idone, ierr2 := innerReader.Read(spanCtx)
							if ierr2 != nil {
								if ctx.Err() == nil {
									fail(ierr2)
								}
								return
							}
							if idone {
								return
							}
							c.Enqueue(iv)
						}
					}()
				}
			}()
			return nil
		}

		cancelFn := func(reason error) error {
			terminal.once(func() { tracker.cancelAll(reason) })
			return nil
		}
		return stream.New[R](in.Context(), start, nil, cancelFn, strategy)
	}
}

// ExhaustAll flattens a stream of streams, dropping new inner streams while
// one is already active, equivalent to ExhaustMap with the identity
// projection.
func ExhaustAll[R any]() func(in *stream.Stream[*stream.Stream[R]], strategy stream.Strategy) *stream.Stream[R] {
	return ExhaustMap[*stream.Stream[R], R](identity[R])
}
