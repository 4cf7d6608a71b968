// Package tasks runs fire-and-forget background work, such as cache
// revalidation, on a small fixed set of workers.
package tasks

import (
	"context"
	"log/slog"
	"sync"
)

// Spawner accepts background work.
type Spawner interface {
	Go(name string, fn func(ctx context.Context) error)
}

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Pool is a Spawner backed by a bounded queue and a fixed number of
// workers. Tasks run on the pool's context, not the submitter's.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan task
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
	workers sync.WaitGroup
	onDrop  func(name string)
}

// NewPool starts workers goroutines with room for queueSize waiting tasks.
func NewPool(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan task, queueSize),
		logger: logger,
	}
	p.workers.Add(workers)
	for range workers {
		go p.work()
	}
	return p
}

// OnDrop registers a callback run when a task is rejected.
func (p *Pool) OnDrop(fn func(name string)) {
	p.mu.Lock()
	p.onDrop = fn
	p.mu.Unlock()
}

// Go queues fn. When the queue is full or the pool is closed the task is
// dropped with a warning.
func (p *Pool) Go(name string, fn func(ctx context.Context) error) {
	p.mu.Lock()
	if p.closed {
		onDrop := p.onDrop
		p.mu.Unlock()
		p.logger.Warn("task dropped, pool closed", "task", name)
		if onDrop != nil {
			onDrop(name)
		}
		return
	}
	p.pending.Add(1)
	select {
	case p.queue <- task{name: name, fn: fn}:
		p.mu.Unlock()
	default:
		p.pending.Done()
		onDrop := p.onDrop
		p.mu.Unlock()
		p.logger.Warn("task dropped, queue full", "task", name)
		if onDrop != nil {
			onDrop(name)
		}
	}
}

// Wait blocks until every queued task has finished.
func (p *Pool) Wait() {
	p.pending.Wait()
}

// Close stops accepting tasks, runs what is queued and stops the workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.workers.Wait()
	p.cancel()
}

func (p *Pool) work() {
	defer p.workers.Done()
	for t := range p.queue {
		p.run(t)
	}
}

func (p *Pool) run(t task) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "task", t.name, "panic", r)
		}
	}()
	if err := t.fn(p.ctx); err != nil {
		p.logger.Warn("background task failed", "task", t.name, "error", err)
	}
}

// Inline runs tasks synchronously on the caller's goroutine.
type Inline struct{}

func (Inline) Go(name string, fn func(ctx context.Context) error) {
	if err := fn(context.Background()); err != nil {
		slog.Warn("background task failed", "task", name, "error", err)
	}
}
