package combine

import (
	"context"
	"errors"
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

func TestConcatSequencesSources(t *testing.T) {
	ctx := context.Background()
	out := Concat[int](source.Of(ctx, 1, 2), source.Of(ctx, 3, 4))
	got, err := drain(t, out)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	want := []int{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMergeCollectsAll(t *testing.T) {
	ctx := context.Background()
	out := Merge[int](source.Of(ctx, 1), source.Of(ctx, 2), source.Of(ctx, 3))
	got, err := drain(t, out)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %v, want 3 values", got)
	}
}

func TestCombineLatestClosesOnFirstSourceClose(t *testing.T) {
	ctx := context.Background()
	out := CombineLatest[int](source.Of(ctx, 1, 2), source.Of(ctx, 10))
	got, err := drain(t, out)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one combined snapshot")
	}
	for _, snap := range got {
		if len(snap) != 2 {
			t.Errorf("snapshot %v does not have 2 entries", snap)
		}
	}
}

func TestCombineLatestWithNoSourcesErrors(t *testing.T) {
	out := CombineLatest[int]()
	got, err := drain(t, out)
	if err == nil {
		t.Fatalf("expected error, got values %v", got)
	}
	if !errors.Is(err, ErrEmptyCombineLatest) {
		t.Errorf("got error %v, want ErrEmptyCombineLatest", err)
	}
}
