// Package inbox provides the queue between the network listener and the
// dispatch cycle.
package inbox

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCapacity is the default maximum number of queued messages.
// Pushes beyond it are dropped rather than blocking the listener.
const DefaultCapacity = 65536

// Message is a decoded OSC message waiting for dispatch.
// It must not be modified once pushed.
type Message struct {
	Address  string
	Args     []any
	Seq      uint64
	Received time.Time
}

// Queue is a FIFO of messages safe for one producer and one consumer.
type Queue struct {
	mu       sync.Mutex
	items    []Message
	capacity int

	// Read without the lock by metrics and status.
	pushed  atomic.Uint64
	dropped atomic.Uint64
	depth   atomic.Int64
}

// New creates a queue holding at most capacity messages.
// A capacity <= 0 uses DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity}
}

// Push appends msg. It never blocks; it returns false when the queue is full
// and the message was dropped.
func (q *Queue) Push(msg Message) bool {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		q.dropped.Add(1)
		return false
	}
	q.items = append(q.items, msg)
	q.depth.Store(int64(len(q.items)))
	q.mu.Unlock()

	q.pushed.Add(1)
	return true
}

// DrainAll removes and returns everything currently queued, oldest first.
// It returns nil when the queue is empty.
func (q *Queue) DrainAll() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = make([]Message, 0, len(out))
	q.depth.Store(0)
	return out
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return int(q.depth.Load())
}

// Capacity returns the maximum number of queued messages.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Stats holds lifetime counters for a queue.
type Stats struct {
	Pushed  uint64 `json:"pushed"`
	Dropped uint64 `json:"dropped"`
	Depth   int    `json:"depth"`
}

// Stats returns the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Pushed:  q.pushed.Load(),
		Dropped: q.dropped.Load(),
		Depth:   q.Len(),
	}
}
