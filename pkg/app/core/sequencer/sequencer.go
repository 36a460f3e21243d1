package sequencer

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned for actions submitted after Run has exited
var ErrStopped = errors.New("sequencer: stopped")

// ErrFull is returned by TrySubmit when the queue is at capacity
var ErrFull = errors.New("sequencer: queue full")

// Action is one state-mutating call; it runs alone
type Action func(ctx context.Context) error

type job struct {
	ctx  context.Context
	fn   Action
	done chan error
}

// Sequencer runs submitted actions one at a time, in admission order
// Callers from any goroutine block until their action has run.
type Sequencer struct {
	queue chan job

	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
}

// New creates a sequencer whose queue holds up to capacity pending actions
func New(capacity int) *Sequencer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Sequencer{
		queue: make(chan job, capacity),
		stop:  make(chan struct{}),
	}
}

// Run drains the queue until ctx is done; pending actions then fail with ErrStopped
func (s *Sequencer) Run(ctx context.Context) error {
	defer s.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-s.queue:
			if err := j.ctx.Err(); err != nil {
				j.done <- err
				continue
			}
			j.done <- j.fn(j.ctx)
		}
	}
}

func (s *Sequencer) shutdown() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	s.mu.Unlock()

	for {
		select {
		case j := <-s.queue:
			j.done <- ErrStopped
		default:
			return
		}
	}
}

// Submit enqueues fn and waits for its result
// If ctx ends while fn is still queued, fn is skipped.
func (s *Sequencer) Submit(ctx context.Context, fn Action) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case <-s.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case s.queue <- j:
	}
	return s.wait(ctx, j)
}

// TrySubmit is Submit without blocking on a full queue
func (s *Sequencer) TrySubmit(ctx context.Context, fn Action) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case <-s.stop:
		return ErrStopped
	case s.queue <- j:
	default:
		return ErrFull
	}
	return s.wait(ctx, j)
}

func (s *Sequencer) wait(ctx context.Context, j job) error {
	select {
	case err := <-j.done:
		return err
	case <-s.stop:
		// Run may have finished j just before stopping
		select {
		case err := <-j.done:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued actions
func (s *Sequencer) Len() int { return len(s.queue) }
