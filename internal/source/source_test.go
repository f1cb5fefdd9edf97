package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"fluxpipe/internal/stream"
)

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

func TestOf(t *testing.T) {
	got, err := drain(t, Of(context.Background(), 1, 2, 3))
	if err != nil {
		t.Fatalf("drain: %v", err)
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

func TestEmpty(t *testing.T) {
	got, err := drain(t, Empty[int](context.Background()))
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

func TestThrowError(t *testing.T) {
	boom := errors.New("boom")
	_, err := drain(t, ThrowError[int](context.Background(), boom))
	if !errors.Is(err, boom) {
		t.Errorf("got err %v, want %v", err, boom)
	}
}

func TestThrowErrorNilReplaced(t *testing.T) {
	_, err := drain(t, ThrowError[int](context.Background(), nil))
	if err == nil {
		t.Error("expected a non-nil error even when constructed with nil")
	}
}

func TestRange(t *testing.T) {
	tests := []struct {
		name  string
		start int
		count int
		want  []int
	}{
		{"basic", 0, 3, []int{0, 1, 2}},
		{"offset start", 5, 2, []int{5, 6}},
		{"zero count closes empty", 0, 0, nil},
		{"negative count closes empty", 0, -1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := drain(t, Range(context.Background(), tt.start, tt.count))
			if err != nil {
				t.Fatalf("drain: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("index %d: got %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTimer(t *testing.T) {
	s := Timer(context.Background(), 5)
	r, err := s.Reader()
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, done, err := r.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if done || v != 0 {
		t.Errorf("got v=%d done=%v, want v=0 done=false", v, done)
	}
	_, done, err = r.Read(ctx)
	if err != nil {
		t.Fatalf("Read second: %v", err)
	}
	if !done {
		t.Error("expected stream to close after its single value")
	}
}

func TestIntervalEmitsIncreasingCounter(t *testing.T) {
	s := Interval(context.Background(), 5)
	r, err := s.Reader()
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		v, done, err := r.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if done || v != i {
			t.Errorf("tick %d: got v=%d done=%v, want v=%d done=false", i, v, done, i)
		}
	}
	_ = r.Cancel(nil)
}
