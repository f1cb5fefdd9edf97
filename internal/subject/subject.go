// Package subject implements the multicast primitives: Subject (hot,
// no replay) and ReplaySubject (hot, with a bounded replay buffer). Both
// are grounded on DriftPursuit's internal/events.Stream — a
// mutex-guarded subscriber map broadcasting to independent per-subscriber
// channels, with ReplaySubject additionally adopting its length/time
// windowed retention log (Stream.logOrder/logPayloads plus
// enforceRetentionLocked) for replay trimming.
package subject

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"fluxpipe/internal/clock"
	"fluxpipe/internal/logger"
	"fluxpipe/internal/stream"
)

var log = logger.WithComponent("subject")

type subscriberEntry[T any] struct {
	ctrl stream.Controller[T]
}

// Subject multicasts Next/Error/Complete to every live readable. Each
// readable has its own backpressure queue (an independent Stream); values
// published before a readable subscribes are never delivered to it.
// Cancelling one readable does not affect the subject or any other
// readable.
type Subject[T any] struct {
	mu          sync.Mutex
	subscribers map[int]*subscriberEntry[T]
	nextID      int
	closed      bool
	closeErr    error
	ctx         context.Context
}

// New constructs an empty Subject.
func New[T any]() *Subject[T] {
	return &Subject[T]{subscribers: make(map[int]*subscriberEntry[T]), ctx: context.Background()}
}

// Next dispatches v to every currently-subscribed readable. A no-op once
// the subject has completed or errored.
func (s *Subject[T]) Next(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, sub := range s.subscribers {
		sub.ctrl.Enqueue(v)
	}
}

// Complete closes every live readable and marks the subject terminal; a
// no-op if already closed.
func (s *Subject[T]) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, sub := range s.subscribers {
		sub.ctrl.Close()
	}
	s.subscribers = make(map[int]*subscriberEntry[T])
}

// Error errors every live readable with err and marks the subject
// terminal; a no-op if already closed.
func (s *Subject[T]) Error(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeErr = err
	for _, sub := range s.subscribers {
		sub.ctrl.Error(err)
	}
	s.subscribers = make(map[int]*subscriberEntry[T])
}

// Readable returns a fresh stream tee'd off this subject: its own backpressure
// state, delivering every Next/Error/Complete from the moment of
// subscription onward. Subscribing to an already-terminal subject
// immediately delivers that terminal event and nothing else.
func (s *Subject[T]) Readable() *stream.Stream[T] {
	var subscriberID atomic.Int64
	subscriberID.Store(-1)
	ready := make(chan struct{})

	start := func(ctx context.Context, c stream.Controller[T]) error {
		s.mu.Lock()
		if s.closed {
			err := s.closeErr
			s.mu.Unlock()
			close(ready)
			if err != nil {
				c.Error(err)
			} else {
				c.Close()
			}
			return nil
		}
		id := s.nextID
		s.nextID++
		s.subscribers[id] = &subscriberEntry[T]{ctrl: c}
		s.mu.Unlock()
		subscriberID.Store(int64(id))
		close(ready)

		<-ctx.Done()
		return nil
	}

	cancelFn := func(reason error) error {
		if id := subscriberID.Load(); id >= 0 {
			s.removeSubscriber(int(id))
		}
		return nil
	}
	out := stream.New[T](s.ctx, start, nil, cancelFn, stream.DefaultStrategy())
	<-ready
	return out
}

func (s *Subject[T]) removeSubscriber(id int) {
	s.mu.Lock()
	delete(s.subscribers, id)
	s.mu.Unlock()
}

// replayEntry is one recorded value with its publish timestamp, used by
// ReplaySubject to trim by both buffer size and time window.
type replayEntry[T any] struct {
	value T
	ts    time.Time
}

// ReplaySubject is a Subject that additionally records published values and
// replays the retained subset — bounded by bufferSize entries and by
// windowTime age — to every new readable before delivering live events.
type ReplaySubject[T any] struct {
	mu          sync.Mutex
	subscribers map[int]*subscriberEntry[T]
	nextID      int
	closed      bool
	closeErr    error
	ctx         context.Context

	bufferSize int
	windowTime time.Duration
	buffer     []replayEntry[T]
	clk        clock.Clock
}

// NewReplaySubject constructs a ReplaySubject. bufferSize <= 0 means
// unbounded length; windowTime <= 0 means unbounded age. clk defaults to
// clock.Real if nil, letting the virtual scheduler supply a deterministic
// clock for tests.
func NewReplaySubject[T any](bufferSize int, windowTime time.Duration, clk clock.Clock) *ReplaySubject[T] {
	if clk == nil {
		clk = clock.Real
	}
	return &ReplaySubject[T]{
		subscribers: make(map[int]*subscriberEntry[T]),
		bufferSize:  bufferSize,
		windowTime:  windowTime,
		clk:         clk,
		ctx:         context.Background(),
	}
}

func (s *ReplaySubject[T]) trimLocked() {
	now := s.clk.Now()
	if s.windowTime > 0 {
		cut := 0
		for cut < len(s.buffer) && now.Sub(s.buffer[cut].ts) >= s.windowTime {
			cut++
		}
		if cut > 0 {
			s.buffer = append([]replayEntry[T](nil), s.buffer[cut:]...)
		}
	}
	if s.bufferSize > 0 && len(s.buffer) > s.bufferSize {
		excess := len(s.buffer) - s.bufferSize
		s.buffer = append([]replayEntry[T](nil), s.buffer[excess:]...)
	}
}

// Next records v and dispatches it to every currently-subscribed readable.
// A no-op once the subject has completed or errored.
func (s *ReplaySubject[T]) Next(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buffer = append(s.buffer, replayEntry[T]{value: v, ts: s.clk.Now()})
	s.trimLocked()
	for _, sub := range s.subscribers {
		sub.ctrl.Enqueue(v)
	}
}

// Complete closes every live readable and marks the subject terminal. The
// replay buffer survives: new readables after Complete still replay the
// retained values before immediately closing.
func (s *ReplaySubject[T]) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, sub := range s.subscribers {
		sub.ctrl.Close()
	}
	s.subscribers = make(map[int]*subscriberEntry[T])
}

// Error errors every live readable with err and marks the subject
// terminal. The replay buffer survives: new readables after Error still
// replay the retained values, then receive err.
func (s *ReplaySubject[T]) Error(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeErr = err
	for _, sub := range s.subscribers {
		sub.ctrl.Error(err)
	}
	s.subscribers = make(map[int]*subscriberEntry[T])
}

// Readable returns a fresh stream that synchronously replays the retained
// buffer (oldest first) before live delivery. If the subject is already
// terminal, the replay is still delivered, followed by that terminal event.
func (s *ReplaySubject[T]) Readable() *stream.Stream[T] {
	var subscriberID atomic.Int64
	subscriberID.Store(-1)
	ready := make(chan struct{})

	start := func(ctx context.Context, c stream.Controller[T]) error {
		s.mu.Lock()
		s.trimLocked()
		replay := append([]replayEntry[T](nil), s.buffer...)

		if s.closed {
			err := s.closeErr
			s.mu.Unlock()
			for _, e := range replay {
				c.Enqueue(e.value)
			}
			close(ready)
			if err != nil {
				c.Error(err)
			} else {
				c.Close()
			}
			return nil
		}

		// Deliver the replay backlog while still holding the lock, so a
		// concurrent Next() cannot interleave a live value ahead of it: Next
		// and this registration-plus-replay are mutually exclusive critical
		// sections under the same mutex.
		for _, e := range replay {
			c.Enqueue(e.value)
		}
		id := s.nextID
		s.nextID++
		s.subscribers[id] = &subscriberEntry[T]{ctrl: c}
		s.mu.Unlock()
		subscriberID.Store(int64(id))
		close(ready)

		<-ctx.Done()
		return nil
	}

	cancelFn := func(reason error) error {
		if id := subscriberID.Load(); id >= 0 {
			s.removeSubscriber(int(id))
		}
		return nil
	}
	out := stream.New[T](s.ctx, start, nil, cancelFn, stream.DefaultStrategy())
	<-ready
	return out
}

func (s *ReplaySubject[T]) removeSubscriber(id int) {
	s.mu.Lock()
	delete(s.subscribers, id)
	s.mu.Unlock()
}
