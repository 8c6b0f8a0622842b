package time

import (
	"sync"
	"time"
)

// source of wall time for document timestamps and monotonic time for expiry
type Source interface {
	Now() time.Time
	Elapsed() time.Duration
}

// clock provides monotonic time since process start
// time.Since uses the monotonic reading under the hood so Elapsed never goes
// backwards even if the system time is changed
type Clock struct {
	startTime time.Time
}

func NewClock() *Clock {
	return &Clock{
		startTime: time.Now(),
	}
}

func (c *Clock) Now() time.Time {
	return time.Now()
}

// duration since process start
func (c *Clock) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

// returns the expiration point given a TTL, on the Elapsed scale
func ExpiresAt(s Source, ttl time.Duration) time.Duration {
	return s.Elapsed() + ttl
}

// manual clock for tests: time only moves when Advance is called
type ManualClock struct {
	mu      sync.Mutex
	start   time.Time
	elapsed time.Duration
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{start: start}
}

func (m *ManualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.start.Add(m.elapsed)
}

func (m *ManualClock) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}

// moves the clock forward by d
func (m *ManualClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.elapsed += d
}
