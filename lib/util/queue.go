// Package util provides an unbounded Multi-Producer Single-Consumer queue.
//
// Features and Guarantees:
//
//   - Never blocks producers: Push only appends to an internal slice, so a socket reader
//     pushing notices can never be stalled by a slow consumer
//   - Unbounded Size: the queue grows as needed, limited only by available memory
//   - Single Consumer: values are delivered in push order on the Recv() channel
//   - Close drains: values pushed before Close are still delivered, then Recv() is closed
package util

import (
	"sync"
)

// Queue is an unbounded multi-producer single-consumer queue
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool

	out chan T
}

// NewQueue creates a queue and starts the goroutine feeding Recv()
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		out: make(chan T),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.forward()
	return q
}

// Push adds an item to the queue.
// Returns false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *Queue[T]) Push(value T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, value)
	q.cond.Signal()
	return true
}

// forward moves items from the slice to the output channel
func (q *Queue[T]) forward() {
	defer close(q.out)

	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		value := q.items[0]
		var zero T
		q.items[0] = zero // help the gc
		q.items = q.items[1:]
		q.mu.Unlock()

		q.out <- value
	}
}

// Recv returns a receive-only channel for consuming from the queue.
// The channel is closed after Close once all pending items were delivered.
func (q *Queue[T]) Recv() <-chan T {
	return q.out
}

// Close closes the queue, preventing further writes.
// Items already in the queue will still be delivered to the consumer.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
}

// Len returns the number of items not yet handed to the consumer.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
