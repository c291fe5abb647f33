// Package perkey serializes work per key while letting work for
// different keys run concurrently.
//
// The engine uses it to line up producers writing to the same aggregate
// stream, so in-process writers do not race each other into version
// conflicts; unrelated aggregates proceed in parallel.
package perkey

import (
	"context"
	"errors"
	"sync"
)

var ErrSchedulerClosed = errors.New("scheduler is closed")

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	bufferSize int
}

// WithBufferSize sets the task buffer size per key (default: 64).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// Scheduler runs tasks such that for any given key, tasks execute
// sequentially in submission order. Tasks for different keys proceed in
// parallel.
type Scheduler[K comparable] struct {
	mu         sync.Mutex
	lanes      map[K]*lane
	closed     bool
	wg         sync.WaitGroup // in-flight Do calls
	bufferSize int
}

type lane struct {
	tasks chan *task
}

type task struct {
	fn   func() error
	done chan error
}

// New creates a new Scheduler.
func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := &config{bufferSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Scheduler[K]{
		lanes:      make(map[K]*lane),
		bufferSize: cfg.bufferSize,
	}
}

// Do schedules fn for the given key and blocks until it finishes,
// returning its error. Calls for the same key run one at a time in
// submission order.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is like Do but respects context cancellation while waiting
// to enqueue or waiting for completion. A task that was already enqueued
// still executes even if the caller stops waiting.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.wg.Add(1)
	l := s.laneLocked(key)
	s.mu.Unlock()

	t := &task{
		fn:   fn,
		done: make(chan error, 1),
	}

	select {
	case l.tasks <- t:
	case <-ctx.Done():
		s.wg.Done()
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		s.wg.Done()
		return err
	case <-ctx.Done():
		s.wg.Done()
		return ctx.Err()
	}
}

// Close stops accepting new tasks and shuts down all lanes. Tasks
// already queued still run.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	// Wait for in-flight Do calls to finish enqueueing so we never send
	// on a closed channel.
	s.wg.Wait()

	s.mu.Lock()
	for _, l := range s.lanes {
		close(l.tasks)
	}
	s.lanes = nil
	s.mu.Unlock()
}

func (s *Scheduler[K]) laneLocked(key K) *lane {
	l, ok := s.lanes[key]
	if ok {
		return l
	}

	l = &lane{tasks: make(chan *task, s.bufferSize)}
	s.lanes[key] = l
	go runLane(l)

	return l
}

func runLane(l *lane) {
	for t := range l.tasks {
		t.done <- t.fn()
	}
}
