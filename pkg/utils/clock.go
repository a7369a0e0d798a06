// Package utils provides logging, timing and clock helpers shared by the
// analysis packages.
package utils

import (
	"sync"
	"time"
)

// Clock abstracts time so that waiting code can be driven by tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since the given time.
	Since(t time.Time) time.Duration

	// After waits for the duration to elapse and then sends the current time on the channel.
	After(d time.Duration) <-chan time.Time
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// NewRealClock creates a new RealClock instance.
func NewRealClock() *RealClock {
	return &RealClock{}
}

// Now returns the current time.
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the duration since the given time.
func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// After returns time.After(d).
func (c *RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// MockClock is a manually driven Clock. After advances the clock and fires
// immediately; OnAfter, when set, runs first so a test can change the world
// (append data, cancel a context) at each wait.
type MockClock struct {
	mu          sync.Mutex
	currentTime time.Time
	waits       int
	onAfter     func(wait int, d time.Duration)
}

// NewMockClock creates a new MockClock instance with the given start time.
func NewMockClock(startTime time.Time) *MockClock {
	return &MockClock{currentTime: startTime}
}

// OnAfter installs a hook invoked with the 1-based wait number on every After call.
func (c *MockClock) OnAfter(fn func(wait int, d time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAfter = fn
}

// Now returns the mock current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTime
}

// Since returns the duration since the given time using mock time.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// After advances the clock by d and returns an already fired channel.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits++
	wait := c.waits
	hook := c.onAfter
	c.currentTime = c.currentTime.Add(d)
	now := c.currentTime
	c.mu.Unlock()

	if hook != nil {
		hook(wait, d)
	}

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Waits returns how many times After has been called.
func (c *MockClock) Waits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waits
}

// Advance advances the mock clock by the given duration.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTime = c.currentTime.Add(d)
}

// Set sets the mock clock to the given time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTime = t
}
