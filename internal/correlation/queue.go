// Package correlation matches responses to the sends that caused them.
//
// Each connection owns one Queue shared by its sender and receiver. Entries
// are pushed in send order. Protocol replies without an id are matched
// oldest-first with Pop; echo replies carry their message id and are matched
// exactly with Take, which tolerates reordering on the wire.
package correlation

import (
	"sync"
	"time"
)

// Entry is a send awaiting its response.
type Entry struct {
	MessageID int64
	SentAt    time.Time
}

// Queue is a FIFO of pending sends for a single connection.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a pending send.
func (q *Queue) Push(id int64, sentAt time.Time) {
	q.mu.Lock()
	q.entries = append(q.entries, Entry{MessageID: id, SentAt: sentAt})
	q.mu.Unlock()
}

// Pop removes and returns the oldest pending send.
func (q *Queue) Pop() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return Entry{}, false
	}
	e := q.entries[0]
	q.entries[0] = Entry{}
	q.entries = q.entries[1:]
	return e, true
}

// Take removes and returns the pending send with the given id.
func (q *Queue) Take(id int64) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.MessageID != id {
			continue
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		return e, true
	}
	return Entry{}, false
}

// Len reports how many sends are still pending.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
