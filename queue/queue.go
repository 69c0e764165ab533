package queue

import (
	"context"
	"sync"
)

// Task is a unit of work executed by a queue worker
type Task func()

// Queue is an unbounded FIFO of tasks drained by a single worker.
//
// Tasks pushed to the same queue run one at a time in push order, so state
// owned by the queue needs no further locking.
type Queue struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	nodes  []Task
	head   int
	tail   int
	cnt    int
	busy   bool
	closed bool
}

const initialCapacity = 16

// New returns a new named queue
func New(name string) *Queue {
	q := &Queue{
		name:  name,
		nodes: make([]Task, initialCapacity),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Name returns the name of the queue
func (q *Queue) Name() string {
	return q.name
}

// mutex must be held when calling
func (q *Queue) resize(n int) {
	nodes := make([]Task, n)
	if q.head < q.tail {
		copy(nodes, q.nodes[q.head:q.tail])
	} else {
		copy(nodes, q.nodes[q.head:])
		copy(nodes[len(q.nodes)-q.head:], q.nodes[:q.tail])
	}

	q.tail = q.cnt % n
	q.head = 0
	q.nodes = nodes
}

// Push adds a task to the back of the queue.
// Returns false if the queue is closed, in which case the task is dropped.
func (q *Queue) Push(task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.cnt == len(q.nodes) {
		q.resize(q.cnt * 2)
	}
	q.nodes[q.tail] = task
	q.tail = (q.tail + 1) % len(q.nodes)
	q.cnt++
	q.cond.Signal()
	return true
}

// next blocks until a task is available or the queue is closed
func (q *Queue) next() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.busy = false
	for q.cnt == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	task := q.nodes[q.head]
	q.nodes[q.head] = nil
	q.head = (q.head + 1) % len(q.nodes)
	q.cnt--
	q.busy = true
	return task, true
}

// Run executes tasks on the calling goroutine until ctx is closed, then
// closes the queue and discards the tasks that did not run.
//
// Only one Run may be active on a queue.
func (q *Queue) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, q.Close)
	defer stop()

	for {
		task, ok := q.next()
		if !ok {
			return ctx.Err()
		}
		task()
	}
}

// Close closes the queue and discards pending tasks.
// Run returns after the task it is executing, if any, completes.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cnt = 0
	q.nodes = nil
	q.head = 0
	q.tail = 0
	q.cond.Broadcast()
}

// Closed returns true if the queue has been closed
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of tasks waiting to run
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cnt
}

// Busy returns true while the worker is executing a task
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy
}

// Do runs fn on the queue and waits for it to complete.
//
// Returns ctx.Err() if the context is closed first, or ErrClosed if the queue
// does not accept the task. Must not be called from a task of the same queue.
func Do(ctx context.Context, q *Queue, fn func()) error {
	done := make(chan struct{})
	if !q.Push(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
