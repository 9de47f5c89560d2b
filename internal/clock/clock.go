// Package clock provides the time sources used by leasenet.
//
// Simulated time is expressed as a time.Time anchored at Epoch, so a
// lease that expires "at t=100" expires at Epoch.Add(100*time.Second).
// Components never call time.Now directly; they receive a Clock, which
// in a simulation is the event scheduler itself and in tests is usually
// a MockClock.
package clock

import (
	"sync"
	"time"
)

// Epoch is simulated time zero.
var Epoch = time.Unix(0, 0).UTC()

// Clock is the interface for time operations.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Until(t time.Time) time.Duration
}

// At returns the simulated instant d after Epoch.
func At(d time.Duration) time.Time {
	return Epoch.Add(d)
}

// Offset returns how far t is from Epoch. It is the inverse of At and is
// what log lines and reports print as "sim_time".
func Offset(t time.Time) time.Duration {
	return t.Sub(Epoch)
}

// --- Real Clock ---

// RealClock provides the actual system time.
type RealClock struct{}

// Now returns the current system time.
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// Until returns the duration until t.
func (c *RealClock) Until(t time.Time) time.Duration {
	return time.Until(t)
}

// --- Mock Clock ---

// MockClock is a test clock with controllable time.
type MockClock struct {
	mu      sync.RWMutex
	current time.Time
}

// NewMockClock creates a mock clock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{current: t}
}

// Now returns the mock time.
func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Until returns the duration until t.
func (c *MockClock) Until(t time.Time) time.Duration {
	return t.Sub(c.Now())
}

// Set sets the mock time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// Advance advances the mock time by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}
