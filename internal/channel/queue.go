// Package channel provides the bounded queues that hand sentences between the
// device session and the rest of the process.
package channel

import "sync"

// Queue is a bounded FIFO. Push reports false instead of blocking when the
// queue is full. It is safe for concurrent use.
type Queue[T any] struct {
	name string

	mu    sync.Mutex
	items []T
	head  int
	size  int
}

// New returns a queue holding at most capacity items (minimum 1).
func New[T any](name string, capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{name: name, items: make([]T, capacity)}
}

// Name identifies the queue in diagnostics.
func (q *Queue[T]) Name() string { return q.name }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return len(q.items) }

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Push appends v. It returns false and drops v when the queue is full.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == len(q.items) {
		return false
	}
	q.items[(q.head+q.size)%len(q.items)] = v
	q.size++
	return true
}

// Pop removes the oldest item.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.size == 0 {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return v, true
}

// Drain pops every queued item, oldest first.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, 0, q.size)
	var zero T
	for q.size > 0 {
		out = append(out, q.items[q.head])
		q.items[q.head] = zero
		q.head = (q.head + 1) % len(q.items)
		q.size--
	}
	return out
}
