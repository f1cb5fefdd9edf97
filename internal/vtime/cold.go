package vtime

import (
	"context"
	"fmt"

	"fluxpipe/internal/stream"
)

// Factory builds a fresh stream against the scheduler's clock each time
// it's called — the cold/hot stream constructors used inside
// Scheduler.Run and inside projectors like concatMap/mergeMap.
type Factory[T any] func(ctx context.Context) *stream.Stream[T]

// Cold parses marble and returns a Factory whose streams begin at tick 0
// of each subscription (each Factory call schedules its events relative
// to the tick at which its own start function actually runs): Go's
// realization of `cold(marble, values?, error?)`.
func Cold[T any](marble string, values map[string]T, errValue error) (Factory[T], error) {
	events, _, err := ParseMarble(marble)
	if err != nil {
		return nil, err
	}
	resolved, err := resolveEvents(events, values, errValue)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) *stream.Stream[T] {
		clk, ok := clockFrom(ctx)
		if !ok {
			panic("vtime: Cold stream used outside a Scheduler.Run context")
		}

		start := func(sctx context.Context, c stream.Controller[T]) error {
			for _, ev := range resolved {
				ev := ev
				if ev.tick == 0 {
					ev.deliver(c)
					continue
				}
				go func() {
					select {
					case <-clk.AfterTicks(ev.tick):
						ev.deliver(c)
					case <-sctx.Done():
					}
				}()
			}
			return nil
		}
		return stream.New[T](ctx, start, nil, nil, stream.DefaultStrategy())
	}, nil
}

// Hot parses marble and returns a Factory whose single stream is anchored
// to the scheduler's own clock at the moment Hot is called: events before
// the marble's `^` are discarded, and events at or after it are scheduled
// `tick - subscriptionTick` ticks from right now. Unlike Cold, calling the
// returned Factory more than once panics — a hot source has exactly one
// timeline, not one per subscriber.
func Hot[T any](marble string, values map[string]T, errValue error) (Factory[T], error) {
	events, subscriptionTick, err := ParseMarble(marble)
	if err != nil {
		return nil, err
	}
	resolved, err := resolveEvents(events, values, errValue)
	if err != nil {
		return nil, err
	}

	var live []resolvedEvent[T]
	for _, ev := range resolved {
		if ev.tick < subscriptionTick {
			continue
		}
		ev.tick -= subscriptionTick
		live = append(live, ev)
	}

	used := false
	return func(ctx context.Context) *stream.Stream[T] {
		if used {
			panic("vtime: Hot factory invoked more than once")
		}
		used = true

		clk, ok := clockFrom(ctx)
		if !ok {
			panic("vtime: Hot stream used outside a Scheduler.Run context")
		}

		ready := make(chan struct{})
		start := func(sctx context.Context, c stream.Controller[T]) error {
			close(ready)
			for _, ev := range live {
				ev := ev
				go func() {
					select {
					case <-clk.AfterTicks(ev.tick):
						ev.deliver(c)
					case <-sctx.Done():
					}
				}()
			}
			<-sctx.Done()
			return nil
		}
		out := stream.New[T](ctx, start, nil, nil, stream.DefaultStrategy())
		<-ready
		return out
	}, nil
}

type resolvedEvent[T any] struct {
	tick  int64
	kind  EventKind
	value T
	err   error
}

func (e resolvedEvent[T]) deliver(c stream.Controller[T]) {
	switch e.kind {
	case KindNext:
		c.Enqueue(e.value)
	case KindComplete:
		c.Close()
	case KindError:
		c.Error(e.err)
	}
}

func resolveEvents[T any](events []RawEvent, values map[string]T, errValue error) ([]resolvedEvent[T], error) {
	out := make([]resolvedEvent[T], 0, len(events))
	for _, ev := range events {
		switch ev.Kind {
		case KindNext:
			v, err := ResolveValue(ev.Symbol, values)
			if err != nil {
				return nil, err
			}
			out = append(out, resolvedEvent[T]{tick: ev.Tick, kind: KindNext, value: v})
		case KindComplete:
			out = append(out, resolvedEvent[T]{tick: ev.Tick, kind: KindComplete})
		case KindError:
			err := errValue
			if err == nil {
				err = fmt.Errorf("vtime: marble error marker with no error value supplied")
			}
			out = append(out, resolvedEvent[T]{tick: ev.Tick, kind: KindError, err: err})
		}
	}
	return out, nil
}
