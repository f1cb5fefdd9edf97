package subject

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fluxpipe/internal/clock"
	"fluxpipe/internal/logger"
	"fluxpipe/internal/replaystore"
	"fluxpipe/internal/stream"
)

var durableLog = logger.WithComponent("subject.durable")

// Codec converts values to and from the byte form replaystore.Store
// persists. JSONCodec covers the common case; callers with a binary wire
// format (protobuf, msgpack) supply their own.
type Codec[T any] struct {
	Encode func(T) ([]byte, error)
	Decode func([]byte) (T, error)
}

// JSONCodec is the default Codec, used when no domain-specific wire format
// is required.
func JSONCodec[T any]() Codec[T] {
	return Codec[T]{
		Encode: func(v T) ([]byte, error) { return json.Marshal(v) },
		Decode: func(b []byte) (T, error) {
			var v T
			err := json.Unmarshal(b, &v)
			return v, err
		},
	}
}

// DurableReplaySubject is a ReplaySubject whose history survives process
// restarts: every published value is appended to a replaystore.Store
// before it is dispatched, and a freshly constructed instance reloads its
// replay buffer from the store.
type DurableReplaySubject[T any] struct {
	inner     *ReplaySubject[T]
	store     replaystore.Store
	subjectID string
	codec     Codec[T]
}

// NewDurableReplaySubject constructs a DurableReplaySubject identified by
// subjectID, reloading any history store already holds for that ID (most
// recent bufferSize entries within windowTime) before returning.
func NewDurableReplaySubject[T any](ctx context.Context, subjectID string, store replaystore.Store, codec Codec[T], bufferSize int, windowTime time.Duration, clk clock.Clock) (*DurableReplaySubject[T], error) {
	if clk == nil {
		clk = clock.Real
	}

	inner := NewReplaySubject[T](bufferSize, windowTime, clk)

	entries, err := store.Replay(ctx, subjectID, bufferSize, windowTime, clk.Now())
	if err != nil {
		return nil, fmt.Errorf("subject: reload durable replay history: %w", err)
	}

	inner.mu.Lock()
	for _, e := range entries {
		v, err := codec.Decode(e.Value)
		if err != nil {
			inner.mu.Unlock()
			return nil, fmt.Errorf("subject: decode durable entry seq %d: %w", e.Seq, err)
		}
		inner.buffer = append(inner.buffer, replayEntry[T]{value: v, ts: e.Timestamp})
	}
	inner.trimLocked()
	inner.mu.Unlock()

	durableLog.Info("reloaded durable replay subject", "subject_id", subjectID, "entries", len(entries))

	return &DurableReplaySubject[T]{
		inner:     inner,
		store:     store,
		subjectID: subjectID,
		codec:     codec,
	}, nil
}

// Next persists v to the backing store, then dispatches it to every live
// readable. Persistence happens first, so no subscriber ever receives a
// value the store lacks; a crash between the two leaves the store holding
// one value no live subscriber received, which the next reload replays.
func (d *DurableReplaySubject[T]) Next(ctx context.Context, v T) error {
	encoded, err := d.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("subject: encode durable value: %w", err)
	}
	if _, err := d.store.Append(ctx, d.subjectID, encoded, d.inner.clk.Now()); err != nil {
		return fmt.Errorf("subject: persist durable value: %w", err)
	}
	d.inner.Next(v)
	return nil
}

// Complete closes every live readable. The backing store's history is left
// untouched — a later NewDurableReplaySubject for the same subjectID still
// reloads it.
func (d *DurableReplaySubject[T]) Complete() {
	d.inner.Complete()
}

// Error errors every live readable with err. The backing store's history
// is left untouched.
func (d *DurableReplaySubject[T]) Error(err error) {
	d.inner.Error(err)
}

// Readable returns a fresh stream replaying the reloaded-plus-live history,
// exactly like ReplaySubject.Readable.
func (d *DurableReplaySubject[T]) Readable() *stream.Stream[T] {
	return d.inner.Readable()
}

// Close releases the backing store's resources (connections, files). It
// does not affect the subject's in-memory subscribers.
func (d *DurableReplaySubject[T]) Close() error {
	return d.store.Close()
}
