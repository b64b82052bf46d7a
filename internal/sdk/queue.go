package sdk

import "sync"

// DefaultQueueCapacity bounds the completions a service holds between polls.
const DefaultQueueCapacity = 256

// Queue is a bounded FIFO of completions. Services push from whichever
// goroutine finishes the work; the owning session drains it from its flush.
type Queue struct {
	mu    sync.Mutex
	items []Completion
	cap   int
}

// NewQueue creates a queue holding at most capacity completions. A
// non-positive capacity selects DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{cap: capacity}
}

// Push appends c, or returns ErrQueueFull without modifying the queue.
func (q *Queue) Push(c Completion) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.cap {
		return ErrQueueFull
	}
	q.items = append(q.items, c)
	return nil
}

// Free returns how many more completions the queue accepts.
func (q *Queue) Free() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cap - len(q.items)
}

// Len returns the number of queued completions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns all queued completions in push order.
func (q *Queue) Drain() []Completion {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}
