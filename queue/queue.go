// Package queue implements the bounded FIFOs between the link layer and
// the worker loops (spec.md §4.5): the Receive Queue and Send Queue.
// Both share this one generic type; a buffered channel already gives
// the blocking-push/blocking-pop semantics the spec calls for, so
// there is no reason to hand-roll a ring buffer the way a C++
// FreeRTOS port must.
package queue

import (
	"context"

	"go.uber.org/atomic"
)

// Queue is a bounded, thread-safe FIFO. Push blocks when full (until
// ctx is done); Pop blocks when empty (until its timeout channel fires).
type Queue[T any] struct {
	ch  chan T
	len atomic.Int64
}

func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Push enqueues v, blocking if the queue is full until room is made or
// ctx is done.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	select {
	case q.ch <- v:
		q.len.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushBlocking enqueues v, blocking forever if necessary — the "infinite
// wait" policy spec.md §4.5 specifies for send-queue producers.
func (q *Queue[T]) PushBlocking(v T) {
	q.ch <- v
	q.len.Add(1)
}

// Pop waits for an item until timeout receives or is closed, returning
// ok=false in that case. A nil timeout channel waits forever.
func (q *Queue[T]) Pop(timeout <-chan struct{}) (v T, ok bool) {
	select {
	case v = <-q.ch:
		q.len.Sub(1)
		return v, true
	case <-timeout:
		return v, false
	}
}

// TryPop returns immediately with ok=false if the queue is empty.
func (q *Queue[T]) TryPop() (v T, ok bool) {
	select {
	case v = <-q.ch:
		q.len.Sub(1)
		return v, true
	default:
		return v, false
	}
}

// Len is an approximate depth, exported for the metrics package.
func (q *Queue[T]) Len() int64 { return q.len.Load() }

func (q *Queue[T]) Cap() int { return cap(q.ch) }
