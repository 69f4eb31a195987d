package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
)

// Task is one qualifying item handed to a worker.
type Task struct {
	Stage domain.Stage
	Event domain.Event
}

// Handler runs a task to completion.
type Handler interface {
	Handle(ctx context.Context, task Task)
}

// Pool runs a fixed number of worker goroutines over a bounded task queue.
type Pool struct {
	numWorkers int
	tasks      chan Task
	handler    Handler
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewPool creates a worker pool with the given number of workers and a
// queue of twice that size.
func NewPool(numWorkers int, handler Handler, logger *slog.Logger) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		tasks:      make(chan Task, numWorkers*2),
		handler:    handler,
		logger:     logger,
	}
}

// Start launches all worker goroutines. They read from the queue until it
// is closed. Tasks already running when ctx is cancelled finish on a
// context that is not cancelled; queued tasks are dropped and their claims
// left to expire.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// TrySubmit queues a task without blocking. It returns false when the
// queue is full.
func (p *Pool) TrySubmit(task Task) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Stop closes the queue and waits for queued and running tasks to finish.
func (p *Pool) Stop() {
	close(p.tasks)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	run := context.WithoutCancel(ctx)
	for task := range p.tasks {
		if ctx.Err() != nil {
			continue
		}
		p.handler.Handle(run, task)
	}
}
