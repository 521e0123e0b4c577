// Package workerpool runs jobs on a fixed number of goroutines fed by a
// bounded queue. Submission never blocks: a full queue is reported to the
// caller so it can keep its own state and retry.
package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrQueueFull is returned by TrySubmit when every queue slot is taken.
	ErrQueueFull = errors.New("worker pool queue full")
	// ErrClosed is returned by TrySubmit after Close.
	ErrClosed = errors.New("worker pool closed")
)

// Handler processes one job. The context is cancelled when the pool's
// parent context is done.
type Handler[T any] func(ctx context.Context, job T)

// Pool is a bounded worker pool for jobs of type T.
type Pool[T any] struct {
	name    string
	workers int
	queue   chan T
	handler Handler[T]
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup

	// OnDepth, if set, receives the queue length after every enqueue and
	// dequeue.
	OnDepth func(depth int)
}

// New creates a pool with the given number of workers and queue capacity.
// Workers are not started until Start.
func New[T any](name string, workers, queueSize int, handler Handler[T]) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool[T]{
		name:    name,
		workers: workers,
		queue:   make(chan T, queueSize),
		handler: handler,
		logger:  slog.Default().With("component", "workerpool", "pool", name),
	}
}

// Start launches the workers. Jobs already queued are run even after ctx is
// done; ctx only reaches the handler.
func (p *Pool[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.logger.Info("worker pool started", "workers", p.workers, "queue_size", cap(p.queue))
}

func (p *Pool[T]) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for job := range p.queue {
		p.reportDepth()
		p.run(ctx, id, job)
	}
}

func (p *Pool[T]) run(ctx context.Context, id int, job T) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", "worker", id, "panic", r)
		}
	}()
	p.handler(ctx, job)
}

// TrySubmit enqueues job without blocking.
func (p *Pool[T]) TrySubmit(job T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- job:
		p.reportDepth()
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of jobs waiting for a worker.
func (p *Pool[T]) Len() int {
	return len(p.queue)
}

// Close stops accepting jobs, lets the workers drain the queue, and waits
// for them to exit. If the pool was never started the queued jobs are
// dropped.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		dropped := 0
		for range p.queue {
			dropped++
		}
		if dropped > 0 {
			p.logger.Warn("pool closed before start, jobs dropped", "dropped", dropped)
		}
		return
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool[T]) reportDepth() {
	if p.OnDepth != nil {
		p.OnDepth(len(p.queue))
	}
}
