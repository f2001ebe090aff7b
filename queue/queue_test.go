// SPDX-License-Identifier: GPL-3.0-or-later

package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rbmk-project/cspnet/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueDequeueOne(t *testing.T) {
	const qlength = 10
	storage := make([][4]byte, qlength)
	q := queue.NewWithStorage(storage)

	item1 := [4]byte{'a', 'b', 'c', 0}
	require.NoError(t, q.Enqueue(item1, time.Second))
	item2, err := q.Dequeue(time.Second)
	require.NoError(t, err)
	assert.Equal(t, item1, item2)
}

func TestQueueCapacity(t *testing.T) {
	const qlength = 10
	q := queue.New[[4]byte](qlength)
	item := [4]byte{'a', 'b', 'c', 0}

	checkInvariant := func() {
		assert.Equal(t, qlength, q.Size()+q.Free())
	}

	assert.Equal(t, qlength, q.Capacity())
	assert.Equal(t, qlength, q.Free())
	checkInvariant()

	for i := 0; i < qlength; i++ {
		require.NoError(t, q.Enqueue(item, 10*time.Millisecond))
		assert.Equal(t, i+1, q.Size())
		checkInvariant()
	}

	t.Run("full with timeout", func(t *testing.T) {
		t0 := time.Now()
		err := q.Enqueue(item, 20*time.Millisecond)
		assert.ErrorIs(t, err, queue.ErrFull)
		assert.GreaterOrEqual(t, time.Since(t0), 20*time.Millisecond)
		assert.Equal(t, qlength, q.Size())
		checkInvariant()
	})

	t.Run("full without timeout", func(t *testing.T) {
		assert.ErrorIs(t, q.Enqueue(item, 0), queue.ErrFull)
		checkInvariant()
	})

	for i := qlength; i > 0; i-- {
		_, err := q.Dequeue(10 * time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, i-1, q.Size())
		checkInvariant()
	}

	t.Run("empty with timeout", func(t *testing.T) {
		_, err := q.Dequeue(20 * time.Millisecond)
		assert.ErrorIs(t, err, queue.ErrEmpty)
		assert.Equal(t, 0, q.Size())
		checkInvariant()
	})

	t.Run("empty without timeout", func(t *testing.T) {
		_, err := q.Dequeue(0)
		assert.ErrorIs(t, err, queue.ErrEmpty)
		checkInvariant()
	})
}

func TestQueueFIFO(t *testing.T) {
	type item struct{ value int }
	q := queue.New[*item](8)

	// wrap around the arena a few times
	for round := 0; round < 3; round++ {
		var sent []*item
		for i := 0; i < 5; i++ {
			it := &item{value: round*10 + i}
			sent = append(sent, it)
			require.NoError(t, q.Enqueue(it, 0))
		}
		for _, expect := range sent {
			got, err := q.Dequeue(0)
			require.NoError(t, err)
			assert.Same(t, expect, got)
		}
	}
}

func TestQueueBlocking(t *testing.T) {
	t.Run("enqueue unblocked by dequeue", func(t *testing.T) {
		q := queue.New[int](1)
		require.NoError(t, q.Enqueue(1, 0))

		go func() {
			time.Sleep(20 * time.Millisecond)
			q.Dequeue(0)
		}()

		require.NoError(t, q.Enqueue(2, time.Second))
		got, err := q.Dequeue(0)
		require.NoError(t, err)
		assert.Equal(t, 2, got)
	})

	t.Run("dequeue unblocked by enqueue", func(t *testing.T) {
		q := queue.New[int](1)

		go func() {
			time.Sleep(20 * time.Millisecond)
			q.Enqueue(42, 0)
		}()

		got, err := q.Dequeue(queue.MaxTimeout)
		require.NoError(t, err)
		assert.Equal(t, 42, got)
	})
}

func TestQueueContext(t *testing.T) {
	t.Run("enqueue canceled", func(t *testing.T) {
		q := queue.New[int](1)
		require.NoError(t, q.EnqueueContext(context.Background(), 1))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := q.EnqueueContext(ctx, 2)
		assert.ErrorIs(t, err, queue.ErrFull)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("dequeue canceled", func(t *testing.T) {
		q := queue.New[int](1)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := q.DequeueContext(ctx)
		assert.ErrorIs(t, err, queue.ErrEmpty)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("dequeue success", func(t *testing.T) {
		q := queue.New[int](1)
		require.NoError(t, q.Enqueue(7, 0))
		got, err := q.DequeueContext(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 7, got)
	})
}

func TestQueueConcurrentUsage(t *testing.T) {
	const (
		producers   = 4
		perProducer = 250
	)
	q := queue.New[[2]int](16)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := q.Enqueue([2]int{p, i}, queue.MaxTimeout); err != nil {
					t.Error(err)
					return
				}
			}
		}(p)
	}

	// Each producer's items must come out in the order it produced them.
	next := make([]int, producers)
	for n := 0; n < producers*perProducer; n++ {
		got, err := q.Dequeue(5 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, next[got[0]], got[1])
		next[got[0]]++
	}
	wg.Wait()
	assert.Equal(t, 0, q.Size())
}

func TestNewPanics(t *testing.T) {
	assert.Panics(t, func() { queue.New[int](0) })
	assert.Panics(t, func() { queue.NewWithStorage([]int{}) })
}
