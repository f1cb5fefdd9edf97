// Package stream implements the core pipeline abstraction every operator in
// fluxpipe is built on: a bounded producer/consumer stream with explicit
// backpressure, exactly one reader at a time, and three terminal outcomes
// (close, error, cancel). The shape generalizes an Input/Output channel
// pair with a goroutine relaying between them under a backpressure buffer
// into a generic start/pull/cancel contract, rather than a single
// hard-coded relay loop.
package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"fluxpipe/internal/logger"
	"fluxpipe/internal/syncx"
)

// Strategy is the bounded-buffer policy for a stream. HighWaterMark is the
// queue length at which the stream stops scheduling pulls (DesiredSize
// reaches 0). Enqueue does not refuse values past it: a producer that
// enqueues without checking DesiredSize can grow the queue beyond
// HighWaterMark.
type Strategy struct {
	HighWaterMark int
}

// DefaultHighWaterMark is the value DefaultStrategy returns until
// SetDefaultHighWaterMark overrides it. A Strategy whose HighWaterMark is
// zero or negative is replaced by DefaultStrategy().
const DefaultHighWaterMark = 16

var defaultHighWaterMark atomic.Int64

func init() {
	defaultHighWaterMark.Store(DefaultHighWaterMark)
}

// SetDefaultHighWaterMark overrides the high-water mark DefaultStrategy
// returns, e.g. from internal/config's loaded HighWaterMark at process
// startup. n <= 0 resets to DefaultHighWaterMark.
func SetDefaultHighWaterMark(n int) {
	if n <= 0 {
		n = DefaultHighWaterMark
	}
	defaultHighWaterMark.Store(int64(n))
}

// DefaultStrategy returns the strategy used when none is supplied.
func DefaultStrategy() Strategy {
	return Strategy{HighWaterMark: int(defaultHighWaterMark.Load())}
}

func (s Strategy) normalized() Strategy {
	if s.HighWaterMark <= 0 {
		return DefaultStrategy()
	}
	return s
}

var (
	// ErrAlreadyLocked is returned by Reader when a stream already has an
	// active reader.
	ErrAlreadyLocked = errors.New("stream: already locked")
	// ErrTerminated names a stream that has reached a terminal event. Read
	// does not return it: reading past a close or cancel yields done=true.
	ErrTerminated = errors.New("stream: terminated")
)

// ErrCancelled names a reader-initiated cancel. Read does not return it:
// after a cancel, Read yields done=true.
var ErrCancelled = errors.New("stream: cancelled")

// Controller is the interface a producer (supplied via Start/Pull) uses to
// push values, close, or error the stream. Every method is synchronous and
// never suspends, per the stream contract.
type Controller[T any] interface {
	Enqueue(v T)
	Close()
	Error(err error)
	DesiredSize() int
}

// StartFunc runs once, eagerly, when the stream is constructed.
type StartFunc[T any] func(ctx context.Context, c Controller[T]) error

// PullFunc is invoked whenever DesiredSize() > 0 and no pull is already in
// flight. At most one PullFunc call is ever outstanding at a time.
type PullFunc[T any] func(ctx context.Context, c Controller[T]) error

// CancelFunc runs once, when a reader cancels the stream, to release
// upstream resources. It must be idempotent from the stream's perspective
// (the stream only calls it once, but implementations must tolerate being
// invoked from a concurrent terminal race).
type CancelFunc func(reason error) error

type terminalKind int

const (
	terminalNone terminalKind = iota
	terminalClose
	terminalError
	terminalCancel
)

// Stream is an ordered, possibly infinite sequence of values of type T. It
// terminates exactly once, by close, error, or reader-initiated cancel.
type Stream[T any] struct {
	id       string
	start    StartFunc[T]
	pull     PullFunc[T]
	cancelFn CancelFunc
	strategy Strategy

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	buffer       []T
	terminal     terminalKind
	terminalErr  error
	cancelReason error
	pullInFlight bool
	startDone    bool
	locked       bool

	notify *syncx.Signal
	log    interface {
		Debug(msg string, args ...any)
		Error(msg string, args ...any)
	}
}

// New constructs a stream from the start/pull/cancel contract. start and
// pull may be nil (a pull-only or push-only producer); cancelFn may be nil
// if there is nothing upstream to release. parent is usually
// context.Background() for a root source, or an upstream stream's Context()
// for an operator stage, so that context values (notably the virtual-time
// clock, see internal/clock) flow from source to sink.
func New[T any](parent context.Context, start StartFunc[T], pull PullFunc[T], cancelFn CancelFunc, strategy Strategy) *Stream[T] {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	s := &Stream[T]{
		id:       id,
		start:    start,
		pull:     pull,
		cancelFn: cancelFn,
		strategy: strategy.normalized(),
		ctx:      ctx,
		cancel:   cancel,
		notify:   syncx.NewSignal(),
		log:      logger.WithStreamID(id),
	}
	go s.runStart()
	return s
}

func (s *Stream[T]) controller() Controller[T] {
	return (*controller[T])(s)
}

func (s *Stream[T]) runStart() {
	if s.start != nil {
		if err := s.start(s.ctx, s.controller()); err != nil {
			s.handleProducerErr(err)
		}
	}
	s.mu.Lock()
	s.startDone = true
	s.mu.Unlock()
	s.notify.Signal()
	s.maybePull()
}

func (s *Stream[T]) handleProducerErr(err error) {
	s.mu.Lock()
	if s.terminal == terminalNone {
		s.terminal = terminalError
		s.terminalErr = err
	}
	s.mu.Unlock()
	s.notify.Signal()
}

// desiredSize returns HighWaterMark - len(buffer), never negative.
func (s *Stream[T]) desiredSizeLocked() int {
	d := s.strategy.HighWaterMark - len(s.buffer)
	if d < 0 {
		return 0
	}
	return d
}

// maybePull schedules a pull if one is due: desiredSize > 0, start has
// completed, no pull is in flight, and the stream is not yet terminal.
func (s *Stream[T]) maybePull() {
	s.mu.Lock()
	if s.pull == nil || !s.startDone || s.pullInFlight || s.terminal != terminalNone {
		s.mu.Unlock()
		return
	}
	if s.desiredSizeLocked() <= 0 {
		s.mu.Unlock()
		return
	}
	s.pullInFlight = true
	s.mu.Unlock()

	go func() {
		err := s.pull(s.ctx, s.controller())
		s.mu.Lock()
		s.pullInFlight = false
		s.mu.Unlock()
		if err != nil {
			s.handleProducerErr(err)
			return
		}
		s.maybePull()
	}()
}

// Reader acquires the stream's exclusive reader. A second call before the
// first releases its lock fails with ErrAlreadyLocked.
func (s *Stream[T]) Reader() (*Reader[T], error) {
	s.mu.Lock()
	if s.locked {
		s.mu.Unlock()
		return nil, ErrAlreadyLocked
	}
	s.locked = true
	s.mu.Unlock()
	return &Reader[T]{stream: s}, nil
}

// ID returns the stream's identifier, used in the stream's log fields.
func (s *Stream[T]) ID() string { return s.id }

// Context returns the stream's own context, a child of the parent context it
// was constructed with. Operators build their output stream as a further
// child of this, so values like the virtual-time clock installed by
// internal/vtime propagate from source to sink.
func (s *Stream[T]) Context() context.Context { return s.ctx }

// controller implements Controller[T] by embedding *Stream[T]'s layout; it
// is a distinct named type only so Controller's method set doesn't leak
// Stream's other exported surface to producers.
type controller[T any] Stream[T]

func (c *controller[T]) s() *Stream[T] { return (*Stream[T])(c) }

func (c *controller[T]) Enqueue(v T) {
	s := c.s()
	s.mu.Lock()
	if s.terminal != terminalNone {
		s.mu.Unlock()
		return
	}
	s.buffer = append(s.buffer, v)
	s.mu.Unlock()
	s.notify.Signal()
}

func (c *controller[T]) Close() {
	s := c.s()
	s.mu.Lock()
	if s.terminal != terminalNone {
		s.mu.Unlock()
		return
	}
	s.terminal = terminalClose
	s.mu.Unlock()
	s.notify.Signal()
}

func (c *controller[T]) Error(err error) {
	s := c.s()
	s.mu.Lock()
	if s.terminal != terminalNone {
		s.mu.Unlock()
		return
	}
	s.terminal = terminalError
	s.terminalErr = err
	s.mu.Unlock()
	s.notify.Signal()
}

func (c *controller[T]) DesiredSize() int {
	s := c.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desiredSizeLocked()
}
