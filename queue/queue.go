// SPDX-License-Identifier: GPL-3.0-or-later

// Package queue implements a bounded FIFO queue backed by a fixed arena.
//
// The queue never grows. Producers block (up to a timeout) while the queue
// is full and consumers block (up to a timeout) while it is empty. All the
// mutations of the arena happen inside a single critical section, therefore
// the order of successful enqueues is the order of dequeues.
package queue

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// MaxTimeout waits without a time limit.
const MaxTimeout = time.Duration(math.MaxInt64)

var (
	// ErrFull is returned when no slot became available within the timeout.
	ErrFull = errors.New("queue: full")

	// ErrEmpty is returned when no item became available within the timeout.
	ErrEmpty = errors.New("queue: empty")
)

// Queue is a bounded FIFO queue of T.
//
// Construct using [New] or [NewWithStorage].
type Queue[T any] struct {
	// arena is the fixed backing storage.
	arena []T

	// count is the number of queued items.
	count int

	// head is the index of the oldest item.
	head int

	// items holds one token per queued item.
	items chan struct{}

	// mu protects arena, count and head.
	mu sync.Mutex

	// slots holds one token per free slot.
	slots chan struct{}
}

// New creates a new [*Queue] holding up to capacity items.
//
// This function panics if capacity is not positive.
func New[T any](capacity int) *Queue[T] {
	return NewWithStorage(make([]T, capacity))
}

// NewWithStorage creates a new [*Queue] using the caller-owned storage as
// its arena. The capacity is len(storage). The caller must not touch the
// storage while the queue is in use.
//
// This function panics if the storage is empty.
func NewWithStorage[T any](storage []T) *Queue[T] {
	if len(storage) <= 0 {
		panic("queue: capacity must be positive")
	}
	q := &Queue[T]{
		arena: storage,
		count: 0,
		head:  0,
		items: make(chan struct{}, len(storage)),
		mu:    sync.Mutex{},
		slots: make(chan struct{}, len(storage)),
	}
	for range storage {
		q.slots <- struct{}{}
	}
	return q
}

// Capacity returns the maximum number of items.
func (q *Queue[T]) Capacity() int {
	return len(q.arena)
}

// Size returns the number of queued items.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Free returns the number of free slots.
func (q *Queue[T]) Free() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.arena) - q.count
}

// Enqueue copies item at the tail of the queue waiting up to timeout for a
// free slot. A zero timeout never blocks. The following errors are possible:
//
// 1. nil if the item has been queued;
//
// 2. [ErrFull] if no slot became available in time.
func (q *Queue[T]) Enqueue(item T, timeout time.Duration) error {
	if !acquire(nil, q.slots, timeout) {
		return ErrFull
	}
	q.push(item)
	return nil
}

// EnqueueContext is like [*Queue.Enqueue] but waits until the context is
// done. The returned error wraps [ErrFull] and the context error.
func (q *Queue[T]) EnqueueContext(ctx context.Context, item T) error {
	if !acquire(ctx.Done(), q.slots, MaxTimeout) {
		return errors.Join(ErrFull, ctx.Err())
	}
	q.push(item)
	return nil
}

// Dequeue removes the item at the head of the queue waiting up to timeout
// for an item. A zero timeout never blocks. The following errors are possible:
//
// 1. nil if an item has been dequeued;
//
// 2. [ErrEmpty] if no item became available in time.
func (q *Queue[T]) Dequeue(timeout time.Duration) (T, error) {
	if !acquire(nil, q.items, timeout) {
		var zero T
		return zero, ErrEmpty
	}
	return q.pop(), nil
}

// DequeueContext is like [*Queue.Dequeue] but waits until the context is
// done. The returned error wraps [ErrEmpty] and the context error.
func (q *Queue[T]) DequeueContext(ctx context.Context) (T, error) {
	if !acquire(ctx.Done(), q.items, MaxTimeout) {
		var zero T
		return zero, errors.Join(ErrEmpty, ctx.Err())
	}
	return q.pop(), nil
}

// push stores item at the tail. The caller must own a slot token.
func (q *Queue[T]) push(item T) {
	q.mu.Lock()
	q.arena[(q.head+q.count)%len(q.arena)] = item
	q.count++
	q.mu.Unlock()
	q.items <- struct{}{}
}

// pop removes the head item. The caller must own an item token.
func (q *Queue[T]) pop() T {
	var zero T
	q.mu.Lock()
	item := q.arena[q.head]
	q.arena[q.head] = zero // do not retain references
	q.head = (q.head + 1) % len(q.arena)
	q.count--
	q.mu.Unlock()
	q.slots <- struct{}{}
	return item
}

// acquire takes a token from tokens waiting up to timeout or until done
// is closed. A nil done never fires.
func acquire(done <-chan struct{}, tokens chan struct{}, timeout time.Duration) bool {
	// Fast path, which is also the only path for a zero timeout.
	select {
	case <-tokens:
		return true
	default:
		if timeout <= 0 {
			return false
		}
	}

	var expired <-chan time.Time
	if timeout != MaxTimeout {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-tokens:
		return true
	case <-expired:
		return false
	case <-done:
		return false
	}
}
