package linker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Dispatcher runs background tasks on a bounded number of goroutines. Tasks
// submitted with the same key run one at a time in submission order.
type Dispatcher struct {
	logger  *slog.Logger
	slots   chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
	// tails holds, per key, a channel closed when the last submitted task
	// for that key has finished.
	tails map[int64]chan struct{}
}

// NewDispatcher creates a dispatcher running at most workers tasks at once.
func NewDispatcher(logger *slog.Logger, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{
		logger: logger,
		slots:  make(chan struct{}, workers),
		tails:  make(map[int64]chan struct{}),
	}
}

// Go schedules task in the background after every earlier task with the
// same key. The task's context is detached from ctx's cancellation but keeps
// its values. Tasks submitted after Stop are dropped.
func (d *Dispatcher) Go(ctx context.Context, key int64, name string, task func(ctx context.Context) error) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.logger.Warn("Dispatcher stopped, dropping task", "task", name, "key", key)
		return
	}
	prev := d.tails[key]
	done := make(chan struct{})
	d.tails[key] = done
	d.wg.Add(1)
	d.mu.Unlock()

	id := uuid.New().String()
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			if d.tails[key] == done {
				delete(d.tails, key)
			}
			d.mu.Unlock()
			close(done)
		}()
		if prev != nil {
			<-prev
		}
		d.slots <- struct{}{}
		defer func() { <-d.slots }()

		d.logger.Debug("Running background task", "task", name, "taskID", id, "key", key)
		if err := task(ctx); err != nil {
			d.logger.Error("Background task failed", "task", name, "taskID", id, "key", key, "error", err)
			return
		}
		d.logger.Debug("Background task completed", "task", name, "taskID", id, "key", key)
	}()
}

// WaitFor blocks until every task submitted so far with key has finished.
func (d *Dispatcher) WaitFor(ctx context.Context, key int64) error {
	d.mu.Lock()
	tail := d.tails[key]
	d.mu.Unlock()
	if tail == nil {
		return nil
	}
	select {
	case <-tail:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stop rejects new tasks and waits for running ones.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.wg.Wait()
}
