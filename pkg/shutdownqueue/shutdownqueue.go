// Package shutdownqueue collects cleanup tasks during startup and
// drains them in LIFO order when the process exits.
//
// Components register tasks with Add as they come up (HTTP server,
// DB pool, background loops); main drains everything once with:
//
//	ctx, cancel := context.WithTimeout(context.Background(), timeout)
//	defer cancel()
//	err := shutdownqueue.Shutdown(ctx)
//
// Shutdown is idempotent, recovers panicking tasks, and aggregates
// task errors with errors.Join.
package shutdownqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Task is one cleanup step. It should respect ctx and return an error
// if it cannot finish in time.
type Task func(ctx context.Context) error

var global = &Queue{}

// Queue is a LIFO list of shutdown tasks. The zero value is ready to use.
type Queue struct {
	mu     sync.Mutex
	tasks  []Task
	closed bool
}

// Add registers a task on the package-level queue.
func Add(t Task) { global.Add(t) }

// Shutdown drains the package-level queue.
func Shutdown(ctx context.Context) error { return global.Shutdown(ctx) }

// Add registers a task to run on Shutdown. Nil tasks and tasks added
// after shutdown started are dropped.
func (q *Queue) Add(t Task) {
	if t == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.tasks = append(q.tasks, t)
}

// Shutdown runs all registered tasks in reverse registration order.
// The first call takes ownership of the task list; later calls are
// no-ops. If ctx expires mid-drain the remaining tasks are skipped and
// the context error is included in the result.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.closed = true
	q.mu.Unlock()

	var errs []error

	for i := len(tasks) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("shutdown canceled with %d tasks left: %w", i+1, ctx.Err()))

			return errors.Join(errs...)
		default:
		}

		err := runTask(ctx, tasks[i])
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func runTask(ctx context.Context, t Task) (err error) {
	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("panic in shutdown task: %v", r)
		}
	}()

	return t(ctx)
}
