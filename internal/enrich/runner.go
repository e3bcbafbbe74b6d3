// Package enrich derives thumbnails, archive links and descriptions for new
// bookmarks in the background.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/panics"
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

type namedTask struct {
	name string
	fn   Task
}

// Runner is a fixed pool of workers over a bounded queue. Task errors and
// panics are logged, never returned.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	tasks  chan namedTask
	errs   chan error

	workers sync.WaitGroup
	logger  sync.WaitGroup
}

// NewRunner starts workers goroutines sharing a queue of queueSize tasks.
func NewRunner(workers, queueSize int) *Runner {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(chan namedTask, queueSize),
		errs:   make(chan error, workers),
	}

	r.logger.Add(1)
	go func() {
		defer r.logger.Done()
		for err := range r.errs {
			slog.Error("Background task failed", "error", err)
		}
	}()

	for range workers {
		r.workers.Add(1)
		go func() {
			defer r.workers.Done()
			for task := range r.tasks {
				r.run(task)
			}
		}()
	}

	return r
}

func (r *Runner) run(task namedTask) {
	var err error
	var catcher panics.Catcher
	catcher.Try(func() { err = task.fn(r.ctx) })

	if recovered := catcher.Recovered(); recovered != nil {
		r.errs <- fmt.Errorf("%s: %w", task.name, recovered.AsError())
		return
	}
	if err != nil {
		r.errs <- fmt.Errorf("%s: %w", task.name, err)
	}
}

// Submit queues fn without blocking. It returns false when the queue is full
// or the runner is closed; the task is dropped in that case.
func (r *Runner) Submit(name string, fn Task) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		slog.Warn("Runner closed, dropping task", "task", name)
		return false
	}

	select {
	case r.tasks <- namedTask{name: name, fn: fn}:
		return true
	default:
		slog.Warn("Task queue full, dropping task", "task", name, "capacity", cap(r.tasks))
		return false
	}
}

// Close stops accepting tasks and waits for the queued ones to finish.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.tasks)
	r.mu.Unlock()

	r.workers.Wait()
	close(r.errs)
	r.logger.Wait()
	r.cancel()
}
