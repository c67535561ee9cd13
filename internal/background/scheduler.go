// Package background is the fire-and-forget task runner referenced by
// spec.md §6 as an external collaborator ("schedule(fn, args,
// once_and_forget=true)"). It is generalized here into a small bounded
// worker pool: the blacklist writer's durable-persistence hop is the only
// thing that runs through it, so a handful of workers and a short queue are
// enough, and a full queue drops the task rather than blocking the caller
// (spec.md §9: "dropping writes is preferable to dropping requests").
package background

import (
	"context"
	"log/slog"
)

// Task is a unit of fire-and-forget work. Errors are logged, never
// returned to the scheduling caller.
type Task func(ctx context.Context) error

// Scheduler runs Tasks on a small pool of goroutines fed by a bounded
// channel.
type Scheduler struct {
	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a Scheduler with workers goroutines and a queue of the given
// depth. workers/queueDepth <= 0 fall back to sensible defaults.
func New(workers, queueDepth int) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		tasks:  make(chan Task, queueDepth),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.run(workers)
	return s
}

func (s *Scheduler) run(workers int) {
	defer close(s.done)

	workerDone := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer func() { workerDone <- struct{}{} }()
			for {
				select {
				case <-s.ctx.Done():
					return
				case task := <-s.tasks:
					if err := task(s.ctx); err != nil {
						slog.Error("background task failed", "error", err)
					}
				}
			}
		}()
	}

	for i := 0; i < workers; i++ {
		<-workerDone
	}
}

// Schedule enqueues fn to run asynchronously. If the queue is full, the
// task is dropped immediately and logged rather than blocking the caller —
// the firewall never stalls a request on durable storage.
func (s *Scheduler) Schedule(fn Task) {
	select {
	case s.tasks <- fn:
	default:
		slog.Warn("background task queue full, dropping task")
	}
}

// Stop signals all workers to exit and waits for them to drain. Queued-but-
// not-yet-started tasks are abandoned.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.done
}
