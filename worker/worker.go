/*Package worker runs blocking hardware operations one at a time on a single
goroutine.

Work is submitted as a Task: a kind and an optional index (e.g. a channel
pair).  Each kind has exactly one handler, registered before Run.  Starting a
task that is already waiting in the queue does nothing, so a burst of requests
for the same work collapses into one execution.  A task that is currently
executing is no longer queued and may be started again; that second run picks
up whatever was written while the first was in progress.

Tasks are never cancelled once queued.
*/
package worker

import (
	"context"
	"fmt"
	"sync"
)

// Kind identifies a handler
type Kind int

// Task is one unit of work.  Two tasks are the same work if Kind and Index
// are both equal.
type Task struct {
	Kind  Kind
	Index int
}

// HandlerFunc performs a task
type HandlerFunc func(Task)

// Worker is a FIFO of deduplicated tasks served by one goroutine
type Worker struct {
	mu       sync.Mutex
	idle     *sync.Cond
	handlers map[Kind]HandlerFunc
	queue    []Task
	queued   map[Task]struct{}
	busy     bool
	wake     chan struct{}
}

// New returns a worker with no handlers
func New() *Worker {
	w := &Worker{
		handlers: make(map[Kind]HandlerFunc),
		queued:   make(map[Task]struct{}),
		wake:     make(chan struct{}, 1),
	}
	w.idle = sync.NewCond(&w.mu)
	return w
}

// Handle registers the handler for a kind.  It panics if the kind already
// has one.
func (w *Worker) Handle(k Kind, fn HandlerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.handlers[k]; ok {
		panic(fmt.Sprintf("worker: handler for kind %d registered twice", k))
	}
	w.handlers[k] = fn
}

// Start queues a task.  It returns false if the task was already queued, in
// which case nothing changes.  It never blocks on the task itself and may be
// called from inside a handler.
func (w *Worker) Start(t Task) bool {
	w.mu.Lock()
	if _, ok := w.handlers[t.Kind]; !ok {
		w.mu.Unlock()
		panic(fmt.Sprintf("worker: no handler for kind %d", t.Kind))
	}
	if _, ok := w.queued[t]; ok {
		w.mu.Unlock()
		return false
	}
	w.queued[t] = struct{}{}
	w.queue = append(w.queue, t)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending is true if the task is waiting in the queue
func (w *Worker) Pending(t Task) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.queued[t]
	return ok
}

// next pops the head of the queue and marks the worker busy
func (w *Worker) next() (Task, HandlerFunc, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return Task{}, nil, false
	}
	t := w.queue[0]
	w.queue[0] = Task{}
	w.queue = w.queue[1:]
	delete(w.queued, t)
	w.busy = true
	return t, w.handlers[t.Kind], true
}

func (w *Worker) finished() {
	w.mu.Lock()
	w.busy = false
	if len(w.queue) == 0 {
		w.idle.Broadcast()
	}
	w.mu.Unlock()
}

// Run executes tasks until ctx is done.  A task that is executing when ctx is
// cancelled runs to completion; tasks still queued are left in the queue.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		t, fn, ok := w.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
			}
			continue
		}
		fn(t)
		w.finished()
	}
}

// WaitIdle blocks until the queue is empty and no task is executing, or ctx
// is done.
func (w *Worker) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		w.mu.Lock()
		w.idle.Broadcast()
		w.mu.Unlock()
	})
	defer stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) > 0 || w.busy {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.idle.Wait()
	}
	return nil
}
