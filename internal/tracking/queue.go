package tracking

import "sync"

// QueueCapacity is the number of samples a Queue retains before it starts
// overwriting the oldest entry.
const QueueCapacity = 4096

// Queue is a fixed-capacity ring of samples shared by one producer (a
// listener goroutine) and one consumer (the processing block). Every
// operation takes the same mutex for an O(1) body, so neither side can stall
// the other for longer than a copy of one Sample.
//
// When full, Push overwrites the oldest sample: only the freshest position
// matters for closed-loop control.
type Queue struct {
	mu       sync.Mutex
	buf      []Sample
	head     int // index of the oldest sample
	count    int
	overruns uint64
}

// NewQueue creates a queue with QueueCapacity slots.
func NewQueue() *Queue {
	return NewQueueWithCapacity(QueueCapacity)
}

// NewQueueWithCapacity creates a queue with the given number of slots.
// Non-positive capacities fall back to QueueCapacity.
func NewQueueWithCapacity(capacity int) *Queue {
	if capacity <= 0 {
		capacity = QueueCapacity
	}
	return &Queue{buf: make([]Sample, capacity)}
}

// Push appends s, overwriting the oldest sample when the queue is full.
func (q *Queue) Push(s Sample) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tail := (q.head + q.count) % len(q.buf)
	q.buf[tail] = s
	if q.count == len(q.buf) {
		// full: the slot we just wrote was the oldest one
		q.head = (q.head + 1) % len(q.buf)
		q.overruns++
		return
	}
	q.count++
}

// Pop removes and returns the oldest sample. ok is false when the queue is
// empty.
func (q *Queue) Pop() (s Sample, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return Sample{}, false
	}
	s = q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return s, true
}

// DrainLatest empties the queue and returns only the newest sample.
func (q *Queue) DrainLatest() (s Sample, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return Sample{}, false
	}
	last := (q.head + q.count - 1) % len(q.buf)
	s = q.buf[last]
	q.head = 0
	q.count = 0
	return s, true
}

// Clear discards every queued sample.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.head = 0
	q.count = 0
}

// IsEmpty reports whether Len() == 0.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count == 0
}

// Len returns the number of queued samples.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Overruns returns how many samples were overwritten before being popped.
func (q *Queue) Overruns() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overruns
}
