// Package clock provides an injectable time source for deterministic testing.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time. Components that classify or window
// events take a Clock instead of calling time.Now directly.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time { return time.Now().UTC() }

// Fixed is a clock pinned to a single instant.
type Fixed struct {
	T time.Time
}

// Now returns the pinned instant.
func (f Fixed) Now() time.Time { return f.T }

// NewFixed returns a clock pinned to t.
func NewFixed(t time.Time) Fixed { return Fixed{T: t} }

// Mock is a settable clock for tests that need time to move.
type Mock struct {
	mu sync.Mutex
	t  time.Time
}

// NewMock returns a mock clock starting at t.
func NewMock(t time.Time) *Mock { return &Mock{t: t} }

// Now returns the mock's current instant.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Advance moves the mock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
}
