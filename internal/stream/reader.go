package stream

import (
	"context"
	"sync"
)

// Reader holds the exclusive read lock on one Stream.
type Reader[T any] struct {
	stream   *Stream[T]
	once     sync.Once
	released bool
}

// Read returns the next value, or done=true once the stream has closed or
// been cancelled with no more buffered values, or a non-nil error if the
// stream errored. Read suspends until a value or terminal event is
// available, or ctx is done.
func (r *Reader[T]) Read(ctx context.Context) (value T, done bool, err error) {
	s := r.stream
	for {
		s.mu.Lock()
		if len(s.buffer) > 0 {
			value = s.buffer[0]
			s.buffer = s.buffer[1:]
			s.mu.Unlock()
			s.maybePull()
			return value, false, nil
		}
		switch s.terminal {
		case terminalError:
			terr := s.terminalErr
			s.mu.Unlock()
			var zero T
			return zero, false, terr
		case terminalClose, terminalCancel:
			s.mu.Unlock()
			var zero T
			return zero, true, nil
		}
		wait := s.notify.Wait()
		s.mu.Unlock()

		select {
		case <-wait:
			continue
		case <-ctx.Done():
			var zero T
			return zero, false, ctx.Err()
		}
	}
}

// Cancel releases buffered data, invokes the upstream CancelFunc exactly
// once, and transitions the stream to a terminal state distinct from close:
// any further Read calls (including ones already suspended) return
// done=true.
func (r *Reader[T]) Cancel(reason error) error {
	s := r.stream
	var cancelErr error
	r.once.Do(func() {
		s.mu.Lock()
		alreadyTerminal := s.terminal != terminalNone
		if !alreadyTerminal {
			s.terminal = terminalCancel
			s.cancelReason = reason
		}
		s.buffer = nil
		s.mu.Unlock()

		s.cancel()
		if s.cancelFn != nil {
			cancelErr = s.cancelFn(reason)
		}
		s.notify.Signal()
	})
	return cancelErr
}

// ReleaseLock relinquishes this reader's exclusivity without cancelling the
// stream; a subsequent Reader() call on the same stream may succeed.
func (r *Reader[T]) ReleaseLock() {
	if r.released {
		return
	}
	r.released = true
	s := r.stream
	s.mu.Lock()
	s.locked = false
	s.mu.Unlock()
}

// Context returns the stream's context, cancelled when the reader cancels
// the stream. A close or error does not cancel it.
func (r *Reader[T]) Context() context.Context {
	return r.stream.ctx
}
