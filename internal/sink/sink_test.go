package sink

import (
	"context"
	"testing"

	"fluxpipe/internal/source"
)

func TestToSlice(t *testing.T) {
	ctx := context.Background()
	got, err := ToSlice(ctx, source.Of(ctx, 1, 2, 3))
	if err != nil {
		t.Fatalf("ToSlice: %v", err)
	}
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestToFuture(t *testing.T) {
	ctx := context.Background()
	got, err := ToFuture(ctx, source.Of(ctx, 1, 2, 3))
	if err != nil {
		t.Fatalf("ToFuture: %v", err)
	}
	if got != 3 {
		t.Errorf("got %d, want 3", got)
	}
}

func TestToFutureEmptyReturnsZero(t *testing.T) {
	ctx := context.Background()
	got, err := ToFuture(ctx, source.Empty[int](ctx))
	if err != nil {
		t.Fatalf("ToFuture: %v", err)
	}
	if got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestToString(t *testing.T) {
	ctx := context.Background()
	got, err := ToString(ctx, source.Of(ctx, 1, 2, 3), ",")
	if err != nil {
		t.Fatalf("ToString: %v", err)
	}
	if got != "1,2,3" {
		t.Errorf("got %q, want %q", got, "1,2,3")
	}
}
