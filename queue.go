package agentlink

import "sync"

// queue is a mutex guarded FIFO. A queue with a positive limit keeps only
// the limit most recent items.
type queue[T any] struct {
	lk    sync.Mutex
	items []T
	limit int
}

func newQueue[T any](limit int) *queue[T] {
	return &queue[T]{limit: limit}
}

// push appends v and returns how many of the oldest items were evicted.
func (q *queue[T]) push(v T) int {
	q.lk.Lock()
	defer q.lk.Unlock()
	q.items = append(q.items, v)
	if q.limit <= 0 || len(q.items) <= q.limit {
		return 0
	}

	dropped := len(q.items) - q.limit
	var zero T
	for i := 0; i < dropped; i++ {
		q.items[i] = zero
	}
	q.items = q.items[dropped:]
	return dropped
}

func (q *queue[T]) pop() (T, bool) {
	q.lk.Lock()
	defer q.lk.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return v, true
}

func (q *queue[T]) len() int {
	q.lk.Lock()
	defer q.lk.Unlock()
	return len(q.items)
}

// reset drops every item and returns how many there were.
func (q *queue[T]) reset() int {
	q.lk.Lock()
	defer q.lk.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// signal performs a non-blocking wakeup on a 1-buffered channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
