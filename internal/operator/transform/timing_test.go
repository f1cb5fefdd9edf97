package transform

import (
	"context"
	"errors"
	"testing"
	"time"

	"fluxpipe/internal/stream"
)

// fromSlice builds a minimal eager source stream for operator tests, without
// depending on the internal/source package (built independently).
func fromSlice[T any](ctx context.Context, values []T) *stream.Stream[T] {
	return stream.New[T](ctx, func(_ context.Context, c stream.Controller[T]) error {
		for _, v := range values {
			c.Enqueue(v)
		}
		c.Close()
		return nil
	}, nil, nil, stream.DefaultStrategy())
}

func drain[T any](t *testing.T, s *stream.Stream[T]) ([]T, error) {
	t.Helper()
	r, err := s.Reader()
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	ctx := context.Background()
	var out []T
	for {
		v, done, err := r.Read(ctx)
		if err != nil {
			return out, err
		}
		if done {
			return out, nil
		}
		out = append(out, v)
	}
}

func TestTake(t *testing.T) {
	tests := []struct {
		name string
		n    int
		in   []int
		want []int
	}{
		{"take 2 of 5", 2, []int{1, 2, 3, 4, 5}, []int{1, 2}},
		{"take more than available", 10, []int{1, 2}, []int{1, 2}},
		{"take 0 closes immediately", 0, []int{1, 2, 3}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := fromSlice(context.Background(), tt.in)
			out := Take[int](tt.n)(src, stream.DefaultStrategy())
			got, err := drain(t, out)
			if err != nil {
				t.Fatalf("drain: %v", err)
			}
			if !equalSlices(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSkip(t *testing.T) {
	src := fromSlice(context.Background(), []int{1, 2, 3, 4, 5})
	out := Skip[int](2)(src, stream.DefaultStrategy())
	got, err := drain(t, out)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	want := []int{3, 4, 5}
	if !equalSlices(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBufferGroupsAndFlushesRemainder(t *testing.T) {
	src := fromSlice(context.Background(), []int{1, 2, 3, 4, 5})
	out := Buffer[int](2)(src, stream.DefaultStrategy())
	got, err := drain(t, out)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	want := [][]int{{1, 2}, {3, 4}, {5}}
	if len(got) != len(want) {
		t.Fatalf("got %d groups, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if !equalSlices[int](got[i], want[i]) {
			t.Errorf("group %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTakeUntilStopsOnNotifierEmit(t *testing.T) {
	ctx := context.Background()
	src := stream.New[int](ctx, func(c context.Context, ctl stream.Controller[int]) error {
		for i := 1; i <= 3; i++ {
			ctl.Enqueue(i)
			time.Sleep(5 * time.Millisecond)
		}
		ctl.Enqueue(4)
		ctl.Close()
		return nil
	}, nil, nil, stream.DefaultStrategy())

	notifier := stream.New[struct{}](ctx, func(c context.Context, ctl stream.Controller[struct{}]) error {
		time.Sleep(12 * time.Millisecond)
		ctl.Enqueue(struct{}{})
		ctl.Close()
		return nil
	}, nil, nil, stream.DefaultStrategy())

	out := TakeUntil[int, struct{}](notifier)(src, stream.DefaultStrategy())
	got, err := drain(t, out)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) == 0 || len(got) >= 4 {
		t.Errorf("expected a partial prefix, got %v", got)
	}
}

func TestCatchErrorSwitchesToFallback(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	src := stream.New[int](ctx, func(_ context.Context, c stream.Controller[int]) error {
		c.Enqueue(1)
		c.Error(boom)
		return nil
	}, nil, nil, stream.DefaultStrategy())

	handler := func(err error) (*stream.Stream[int], error) {
		if !errors.Is(err, boom) {
			t.Errorf("handler got unexpected error: %v", err)
		}
		return fromSlice(ctx, []int{99, 100}), nil
	}

	out := CatchError[int](handler)(src, stream.DefaultStrategy())
	got, err := drain(t, out)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	want := []int{1, 99, 100}
	if !equalSlices(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestOnHandlersFireOnComplete(t *testing.T) {
	ctx := context.Background()
	src := fromSlice(ctx, []int{1, 2})

	var started, completed bool
	out := On[int](OnHandlers[int]{
		Start:    func() { started = true },
		Complete: func() { completed = true },
	})(src, stream.DefaultStrategy())

	got, err := drain(t, out)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !started || !completed {
		t.Errorf("started=%v completed=%v, want both true", started, completed)
	}
	if !equalSlices(got, []int{1, 2}) {
		t.Errorf("got %v", got)
	}
}

func TestDelayConstructionRejectsNegative(t *testing.T) {
	if _, err := Delay[int](-1); err == nil {
		t.Error("expected error for negative delay")
	}
}

func TestDebounceTimeConstructionRejectsNonPositive(t *testing.T) {
	if _, err := DebounceTime[int](0); err == nil {
		t.Error("expected error for non-positive debounce")
	}
}

func equalSlices[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
