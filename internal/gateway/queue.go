package gateway

import (
	"sync"
	"time"
)

// queueEntry is one outbound payload awaiting delivery.
type queueEntry struct {
	SessionID  string
	Payload    []byte
	EnqueuedAt time.Time
}

// sendQueue is the bounded outbound FIFO. Entries are pushed by any
// goroutine and drained in enqueue order by the single write loop. When
// full, the oldest entry is dropped (send is best-effort, not exactly-once).
type sendQueue struct {
	mu       sync.Mutex
	entries  []queueEntry
	capacity int
	notify   chan struct{}
}

func newSendQueue(capacity int) *sendQueue {
	return &sendQueue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends an entry, returning the dropped oldest entry if the queue
// was full.
func (q *sendQueue) Push(e queueEntry) *queueEntry {
	q.mu.Lock()
	var dropped *queueEntry
	if len(q.entries) >= q.capacity {
		old := q.entries[0]
		q.entries = q.entries[1:]
		dropped = &old
	}
	q.entries = append(q.entries, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Peek returns the head entry without removing it, so a failed send leaves
// the entry queued for the next connection.
func (q *sendQueue) Peek() (queueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return queueEntry{}, false
	}
	return q.entries[0], true
}

// Pop removes the head entry after a successful send.
func (q *sendQueue) Pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) > 0 {
		q.entries = q.entries[1:]
	}
}

func (q *sendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Notify signals that an entry may be available.
func (q *sendQueue) Notify() <-chan struct{} {
	return q.notify
}
