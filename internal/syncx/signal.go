// Package syncx provides the synchronization primitives the operator runtime
// is built on: a broadcast Signal, a counting Gate, and a rendezvous
// BlockingQueue. None of them require an external lock from callers; each
// guards its own state internally with a private sync.Mutex rather than
// asking callers to hold an external lock.
package syncx

import (
	"context"
	"sync"

	"fluxpipe/internal/logger"
)

// Signal is a fire-once-per-signal broadcast. Wait returns a channel that
// closes on the next call to Signal; every waiter registered before that
// call is released, and new waiters after it must wait for a further
// Signal.
type Signal struct {
	mu    sync.Mutex
	ch    chan struct{}
	subs  []func()
	log   func(msg string, args ...any)
}

// NewSignal constructs a ready-to-use Signal.
func NewSignal() *Signal {
	return &Signal{
		ch:  make(chan struct{}),
		log: logger.WithComponent("syncx.signal").Error,
	}
}

// Wait returns a channel that closes the next time Signal is called.
func (s *Signal) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Subscribe registers fn to run on every future Signal call, in addition to
// satisfying any in-flight Wait. Panics from fn are caught and logged, never
// propagated to the caller of Signal.
func (s *Signal) Subscribe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Signal releases every current waiter and runs every subscriber.
func (s *Signal) Signal() {
	s.mu.Lock()
	old := s.ch
	s.ch = make(chan struct{})
	subs := append([]func(){}, s.subs...)
	s.mu.Unlock()

	close(old)

	for _, fn := range subs {
		s.runSubscriber(fn)
	}
}

func (s *Signal) runSubscriber(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log("signal subscriber panicked", "panic", r)
		}
	}()
	fn()
}

// WaitContext blocks until either Signal fires or ctx is done.
func (s *Signal) WaitContext(ctx context.Context) error {
	select {
	case <-s.Wait():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
