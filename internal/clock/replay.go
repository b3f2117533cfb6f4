package clock

import (
	"sync"
	"time"
)

// Replay wraps a live clock and can be pinned to recorded timestamps while
// a journal is replayed. Once released it follows the live clock again.
type Replay struct {
	live Clock

	mu     sync.RWMutex
	pinned bool
	at     time.Time
}

// NewReplay wraps live.
func NewReplay(live Clock) *Replay {
	return &Replay{live: live}
}

// Now implements Clock.
func (r *Replay) Now() time.Time {
	r.mu.RLock()
	pinned, at := r.pinned, r.at
	r.mu.RUnlock()
	if pinned {
		return at
	}
	return r.live.Now()
}

// Pin fixes the clock at a Unix millisecond timestamp.
func (r *Replay) Pin(ms int64) {
	r.mu.Lock()
	r.pinned = true
	r.at = time.UnixMilli(ms).UTC()
	r.mu.Unlock()
}

// Release returns the clock to live time.
func (r *Replay) Release() {
	r.mu.Lock()
	r.pinned = false
	r.mu.Unlock()
}
