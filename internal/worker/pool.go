// Package worker runs background tasks on a fixed set of goroutines fed by
// a bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/handhunter/internal/metrics"
)

var (
	ErrQueueFull  = errors.New("worker queue is full")
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Task is one unit of background work. ctx is cancelled when the pool is
// forced to stop.
type Task func(ctx context.Context)

type Pool struct {
	queue   chan Task
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
}

type Option func(*Pool)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// NewPool starts workers goroutines reading from a queue of queueSize.
// Tasks run on a context derived from ctx, not from whoever submitted them.
func NewPool(ctx context.Context, workers, queueSize int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		queue:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.group = &errgroup.Group{}
	for i := 0; i < workers; i++ {
		p.group.Go(func() error {
			for task := range p.queue {
				p.metrics.SetQueueDepth(len(p.queue))
				p.run(task)
			}
			return nil
		})
	}

	p.logger.Info("worker pool started", "workers", workers, "queue_size", queueSize)
	return p
}

// Submit enqueues task and returns without waiting for it to run.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- task:
		p.metrics.SetQueueDepth(len(p.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued and running tasks to
// finish. If ctx expires first, running tasks are cancelled and ctx's error
// is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool drained")
		return nil
	case <-ctx.Done():
		p.cancel()
		p.logger.Warn("worker pool shutdown timed out, cancelling running tasks", "queued", len(p.queue))
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task(p.ctx)
}
