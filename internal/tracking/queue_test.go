package tracking

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAt(i int) Sample {
	return Sample{
		Timestamp: int64(i),
		Position:  Position{X: float32(i), Y: float32(i) * 2, Width: 0.5, Height: 0.25},
	}
}

func TestQueue_PushPopOrder(t *testing.T) {
	t.Parallel()

	const capacity = 8
	for _, n := range []int{0, 1, 5, capacity, capacity + 1, 3 * capacity} {
		q := NewQueueWithCapacity(capacity)
		for i := 0; i < n; i++ {
			q.Push(sampleAt(i))
		}

		var got []Sample
		for {
			s, ok := q.Pop()
			if !ok {
				break
			}
			got = append(got, s)
		}

		want := n
		if want > capacity {
			want = capacity
		}
		require.Len(t, got, want, "n=%d", n)

		// The retained samples are the newest ones, oldest first.
		first := n - want
		for i, s := range got {
			assert.Equal(t, sampleAt(first+i), s, "n=%d index=%d", n, i)
		}
		assert.True(t, q.IsEmpty())
	}
}

func TestQueue_PopEmpty(t *testing.T) {
	q := NewQueue()
	s, ok := q.Pop()
	assert.False(t, ok)
	assert.Equal(t, Sample{}, s)
	assert.Equal(t, QueueCapacity, q.Cap())
}

func TestQueue_IsEmptyMatchesLen(t *testing.T) {
	q := NewQueueWithCapacity(4)
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Len())

	q.Push(sampleAt(1))
	assert.False(t, q.IsEmpty())
	assert.Equal(t, 1, q.Len())

	for i := 0; i < 10; i++ {
		q.Push(sampleAt(i))
		assert.Equal(t, q.Len() == 0, q.IsEmpty())
	}
	assert.Equal(t, 4, q.Len())
	assert.Equal(t, uint64(7), q.Overruns())
}

func TestQueue_Clear(t *testing.T) {
	q := NewQueueWithCapacity(4)
	q.Clear()
	assert.True(t, q.IsEmpty())

	for i := 0; i < 6; i++ {
		q.Push(sampleAt(i))
	}
	q.Clear()
	assert.True(t, q.IsEmpty())

	q.Push(sampleAt(42))
	s, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, sampleAt(42), s)
}

func TestQueue_DrainLatest(t *testing.T) {
	q := NewQueueWithCapacity(4)
	_, ok := q.DrainLatest()
	assert.False(t, ok)

	for i := 0; i < 7; i++ {
		q.Push(sampleAt(i))
	}
	s, ok := q.DrainLatest()
	require.True(t, ok)
	assert.Equal(t, sampleAt(6), s)
	assert.True(t, q.IsEmpty())
}

func TestQueue_ConcurrentProducerConsumer(t *testing.T) {
	q := NewQueueWithCapacity(64)
	const total = 10000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			q.Push(sampleAt(i))
		}
	}()

	last := int64(-1)
	popped := 0
	for popped < total {
		s, ok := q.Pop()
		if !ok {
			if q.Len() == 0 && int(q.Overruns())+popped == total {
				break
			}
			continue
		}
		// Arrival order is preserved even when samples are overwritten.
		assert.Greater(t, s.Timestamp, last)
		last = s.Timestamp
		popped++
	}
	wg.Wait()
	for {
		s, ok := q.Pop()
		if !ok {
			break
		}
		assert.Greater(t, s.Timestamp, last)
		last = s.Timestamp
	}
	assert.Equal(t, int64(total-1), last)
}
