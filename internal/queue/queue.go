// Package queue provides an unbounded FIFO used to hand events from a
// collector to any number of consumers without blocking the collector.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Recv once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Stats reports queue throughput.
type Stats struct {
	Pushed   int64
	Received int64
	Dropped  int64
	Depth    int
}

// Queue is an unbounded, ordered, multi-consumer queue. Push never waits.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	ready  chan struct{} // closed and replaced whenever items arrive
	closed bool

	pushed   atomic.Int64
	received atomic.Int64
	dropped  atomic.Int64
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{})}
}

// Push appends v. It returns false, dropping v, if the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.dropped.Add(1)
		return false
	}
	q.items = append(q.items, v)
	q.wakeLocked()
	q.mu.Unlock()

	q.pushed.Add(1)
	return true
}

// TryRecv removes the oldest item without waiting.
func (q *Queue[T]) TryRecv() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Recv removes the oldest item, waiting until one arrives, the queue is
// closed and empty (ErrClosed), or ctx is done (ctx.Err()).
func (q *Queue[T]) Recv(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if v, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, ErrClosed
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close stops accepting new items. Items already queued remain receivable.
// Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.wakeLocked()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Stats returns a snapshot of queue counters.
func (q *Queue[T]) Stats() Stats {
	return Stats{
		Pushed:   q.pushed.Load(),
		Received: q.received.Load(),
		Dropped:  q.dropped.Load(),
		Depth:    q.Len(),
	}
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}

	q.received.Add(1)
	return v, true
}

func (q *Queue[T]) wakeLocked() {
	close(q.ready)
	q.ready = make(chan struct{})
}
