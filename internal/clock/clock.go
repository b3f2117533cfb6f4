// Package clock supplies the time source for ledger operations.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Func adapts a plain function to Clock.
type Func func() time.Time

// Now implements Clock.
func (f Func) Now() time.Time { return f() }

// System returns the wall clock in UTC.
func System() Clock {
	return Func(func() time.Time { return time.Now().UTC() })
}

// Manual is a settable clock for tests and journal replay.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock pinned at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now implements Clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set pins the clock at t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// SetMillis pins the clock at a Unix millisecond timestamp.
func (m *Manual) SetMillis(ms int64) {
	m.Set(time.UnixMilli(ms).UTC())
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
