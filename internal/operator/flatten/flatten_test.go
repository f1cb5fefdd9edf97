package flatten

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"fluxpipe/internal/source"
	"fluxpipe/internal/stream"
)

func drain[T any](t *testing.T, s *stream.Stream[T]) ([]T, error) {
	t.Helper()
	r, err := s.Reader()
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
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

func TestConcatMapPreservesOrder(t *testing.T) {
	ctx := context.Background()
	outer := source.Of(ctx, 1, 2, 3)
	out := ConcatMap[int, int](func(v int, _ int) (*stream.Stream[int], error) {
		return source.Of(ctx, v*10, v*10+1), nil
	})(outer, stream.DefaultStrategy())

	got, err := drain(t, out)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	want := []int{10, 11, 20, 21, 30, 31}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMergeMapCollectsAllValues(t *testing.T) {
	ctx := context.Background()
	outer := source.Of(ctx, 1, 2, 3)
	out := MergeMap[int, int](func(v int, _ int) (*stream.Stream[int], error) {
		return source.Of(ctx, v*10), nil
	}, 0)(outer, stream.DefaultStrategy())

	got, err := drain(t, out)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	sort.Ints(got)
	want := []int{10, 20, 30}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMergeMapPropagatesProjectionError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	outer := source.Of(ctx, 1)
	out := MergeMap[int, int](func(v int, _ int) (*stream.Stream[int], error) {
		return nil, boom
	}, 0)(outer, stream.DefaultStrategy())

	_, err := drain(t, out)
	if !errors.Is(err, boom) {
		t.Errorf("got err %v, want %v", err, boom)
	}
}

func TestMergeMapDrainsAllValuesFromManyConcurrentInners(t *testing.T) {
	ctx := context.Background()
	outer := source.Of(ctx, 1, 2, 3, 4, 5, 6, 7, 8)
	out := MergeMap[int, int](func(v int, _ int) (*stream.Stream[int], error) {
		return source.Of(ctx, v*100, v*100+1, v*100+2), nil
	}, 3)(outer, stream.DefaultStrategy())

	got, err := drain(t, out)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 24 {
		t.Fatalf("got %d values, want 24: %v", len(got), got)
	}
	seen := make(map[int]bool, len(got))
	for _, v := range got {
		if seen[v] {
			t.Errorf("value %d enqueued more than once", v)
		}
		seen[v] = true
	}
}

func TestExhaustMapDropsWhileBusy(t *testing.T) {
	ctx := context.Background()
	outer := source.Of(ctx, 1, 2, 3)
	out := ExhaustMap[int, int](func(v int, _ int) (*stream.Stream[int], error) {
		return source.Of(ctx, v), nil
	})(outer, stream.DefaultStrategy())

	got, err := drain(t, out)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) == 0 {
		t.Error("expected at least the first inner stream's value")
	}
}
