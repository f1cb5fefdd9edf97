// Package sink implements the terminal consumers that drain a stream to a
// single Go value: ToSlice, ToFuture (last value, or the zero value for an
// empty stream), and ToString (fmt.Sprint of each value, joined with a
// caller-supplied separator). Each opens
// its own reader and drains to completion or error.
package sink

import (
	"context"
	"fmt"
	"strings"

	"fluxpipe/internal/stream"
)

// ToSlice reads every value from s until close, returning them in order. An
// error mid-stream is returned with whatever was collected so far.
func ToSlice[T any](ctx context.Context, s *stream.Stream[T]) ([]T, error) {
	r, err := s.Reader()
	if err != nil {
		return nil, err
	}
	var out []T
	for {
		v, done, rerr := r.Read(ctx)
		if rerr != nil {
			return out, rerr
		}
		if done {
			return out, nil
		}
		out = append(out, v)
	}
}

// ToFuture reads every value from s and returns the last one seen, or the
// zero value if the stream closed without emitting anything.
func ToFuture[T any](ctx context.Context, s *stream.Stream[T]) (T, error) {
	r, err := s.Reader()
	if err != nil {
		var zero T
		return zero, err
	}
	var last T
	for {
		v, done, rerr := r.Read(ctx)
		if rerr != nil {
			var zero T
			return zero, rerr
		}
		if done {
			return last, nil
		}
		last = v
	}
}

// ToString reads every value from s, formats each with fmt.Sprint, and
// joins them with sep.
func ToString[T any](ctx context.Context, s *stream.Stream[T], sep string) (string, error) {
	values, err := ToSlice(ctx, s)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, sep), nil
}
