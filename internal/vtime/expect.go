package vtime

import (
	"context"
	"fmt"
	"reflect"

	"fluxpipe/internal/stream"
)

// RecordedEvent is one observed event off a stream under test, tagged
// with the tick at which it was observed.
type RecordedEvent[T any] struct {
	Tick  int64
	Kind  EventKind
	Value T
	Err   error
}

// Expectation records a stream's actual events from the moment it's
// constructed and compares them against a marble once the scheduler has
// quiesced, via ToBe.
type Expectation[T any] struct {
	clk     *TickClock
	events  []RecordedEvent[T]
	strict  bool
}

// ExpectStream subscribes to s and begins recording its events (tick,
// kind, value) as they're observed: Go's realization of
// `expectStream(stream, {strict?})`. Recording runs in its own goroutine,
// fed by a reader loop similar to internal/sink.ToSlice's drain loop,
// generalized to also capture ticks and terminal kind instead of just
// values.
func ExpectStream[T any](ctx context.Context, s *stream.Stream[T], strict bool) (*Expectation[T], error) {
	clk, ok := clockFrom(s.Context())
	if !ok {
		return nil, fmt.Errorf("vtime: ExpectStream used on a stream not built under a Scheduler context")
	}

	e := &Expectation[T]{clk: clk, strict: strict}

	r, err := s.Reader()
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			v, done, err := r.Read(ctx)
			tick := clk.Tick()
			if err != nil {
				e.events = append(e.events, RecordedEvent[T]{Tick: tick, Kind: KindError, Err: err})
				return
			}
			if done {
				e.events = append(e.events, RecordedEvent[T]{Tick: tick, Kind: KindComplete})
				return
			}
			e.events = append(e.events, RecordedEvent[T]{Tick: tick, Kind: KindNext, Value: v})
		}
	}()

	return e, nil
}

// ToBe parses marble (resolving symbols against values, and KindError
// events against errValue) and reports whether the Expectation's recorded
// events match it. In strict mode, ticks must match exactly; otherwise
// only the ordered sequence of kinds/values/errors is compared.
func (e *Expectation[T]) ToBe(marble string, values map[string]T, errValue error) (bool, string) {
	rawEvents, _, err := ParseMarble(marble)
	if err != nil {
		return false, err.Error()
	}
	want, err := resolveEvents(rawEvents, values, errValue)
	if err != nil {
		return false, err.Error()
	}

	if len(want) != len(e.events) {
		return false, fmt.Sprintf("got %d events, want %d", len(e.events), len(want))
	}

	for i, w := range want {
		got := e.events[i]
		if got.Kind != w.kind {
			return false, fmt.Sprintf("event %d: got kind %v, want %v", i, got.Kind, w.kind)
		}
		if w.kind == KindNext && !reflect.DeepEqual(got.Value, w.value) {
			return false, fmt.Sprintf("event %d: got value %v, want %v", i, got.Value, w.value)
		}
		if e.strict && got.Tick != w.tick {
			return false, fmt.Sprintf("event %d: got tick %d, want %d", i, got.Tick, w.tick)
		}
	}
	return true, ""
}
