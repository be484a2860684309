package tokenizer

import (
	"context"
	"sync"
)

// DefaultConcurrency is the number of codec calls allowed in flight.
const DefaultConcurrency = 3

// TaskRunner bounds the number of concurrently running tasks.
//
// Tasks beyond the limit wait in a stack: when a running task finishes its
// slot goes to the most recently queued task, since that is usually the one
// a caller is blocked on right now.
type TaskRunner struct {
	mu      sync.Mutex
	limit   int
	running int
	waiting []chan struct{}
	onQueue func(depth int)
}

// NewTaskRunner creates a runner allowing limit tasks at once.
func NewTaskRunner(limit int) *TaskRunner {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &TaskRunner{limit: limit}
}

// Do runs fn once a slot is available. If ctx ends while waiting, fn is
// not run and the context error is returned.
func (r *TaskRunner) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	defer r.release()
	return fn(ctx)
}

// Pending returns the number of queued tasks.
func (r *TaskRunner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiting)
}

// Running returns the number of tasks holding a slot.
func (r *TaskRunner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *TaskRunner) acquire(ctx context.Context) error {
	r.mu.Lock()
	if r.running < r.limit {
		r.running++
		r.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	r.waiting = append(r.waiting, ready)
	r.notify()
	r.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		r.mu.Lock()
		for i, w := range r.waiting {
			if w == ready {
				r.waiting = append(r.waiting[:i], r.waiting[i+1:]...)
				r.notify()
				r.mu.Unlock()
				return ctx.Err()
			}
		}
		r.mu.Unlock()
		// The slot was handed over before we noticed; pass it on.
		r.release()
		return ctx.Err()
	}
}

func (r *TaskRunner) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.waiting); n > 0 {
		next := r.waiting[n-1]
		r.waiting = r.waiting[:n-1]
		r.notify()
		close(next)
		return
	}
	r.running--
}

// notify must be called with mu held.
func (r *TaskRunner) notify() {
	if r.onQueue != nil {
		r.onQueue(len(r.waiting))
	}
}
