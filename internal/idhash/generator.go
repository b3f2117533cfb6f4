package idhash

import (
	"sync"

	"github.com/google/uuid"
)

// Generator hands out identifiers for new positions and certificates.
type Generator interface {
	NewID() string
}

// UUIDGenerator generates random UUIDv4 identifiers.
type UUIDGenerator struct{}

// NewID implements Generator.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// Queue replays identifiers recorded earlier. Journal replay pushes the
// recorded id before re-running the operation that consumed it.
// When empty it falls back to Fallback.
type Queue struct {
	mu       sync.Mutex
	ids      []string
	Fallback Generator
}

// NewQueue creates a queue backed by a UUID fallback.
func NewQueue() *Queue {
	return &Queue{Fallback: UUIDGenerator{}}
}

// Push enqueues a recorded id.
func (q *Queue) Push(id string) {
	q.mu.Lock()
	q.ids = append(q.ids, id)
	q.mu.Unlock()
}

// Len returns the number of pending ids.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// Reset drops pending ids.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.ids = nil
	q.mu.Unlock()
}

// NewID implements Generator.
func (q *Queue) NewID() string {
	q.mu.Lock()
	if len(q.ids) > 0 {
		id := q.ids[0]
		q.ids = q.ids[1:]
		q.mu.Unlock()
		return id
	}
	q.mu.Unlock()
	return q.Fallback.NewID()
}
