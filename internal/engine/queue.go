package engine

import (
	"sync"

	"github.com/roach88/motifcore/internal/tick"
)

// DefaultQueueCapacity bounds pending watcher notifications.
const DefaultQueueCapacity = 1024

// notification is one accepted tick awaiting delivery to watchers.
type notification struct {
	MotifID string
	Record  tick.Record
}

// notifyQueue is a bounded FIFO of watcher notifications.
//
// Enqueue never blocks: when the queue is full the notification is dropped,
// since watchers are best-effort observers. The signal channel enables
// context-aware waiting in the dispatch loop.
type notifyQueue struct {
	mu       sync.Mutex
	items    []notification
	capacity int
	closed   bool
	signal   chan struct{} // buffered, size 1
}

func newNotifyQueue(capacity int) *notifyQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &notifyQueue{
		items:    make([]notification, 0, min(capacity, 64)),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds n to the back of the queue. Returns false if the queue is
// closed or full.
func (q *notifyQueue) Enqueue(n notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, n)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front notification without blocking.
func (q *notifyQueue) TryDequeue() (notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return notification{}, false
	}
	n := q.items[0]
	q.items[0] = notification{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return n, true
}

// Wait returns a channel that signals when notifications may be available.
// It is closed by Close.
func (q *notifyQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending notifications.
func (q *notifyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *notifyQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting notifications and wakes the dispatcher.
func (q *notifyQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
