package core

import (
	"sync"
	"time"
)

// Clock provides time operations that can be mocked for testing.
// Every timestamp the harness records comes from a Clock so that fault,
// detection and node log times share one wall-clock source.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// RealClock uses the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// WallMillis returns the clock's current time as Unix milliseconds, the unit
// used by node logs and trial manifests.
func WallMillis(c Clock) int64 {
	return c.Now().UnixMilli()
}

// FakeClock is a test clock that can be manually advanced.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{current: start}
}

// NewFakeClockMillis starts a FakeClock at the given Unix millisecond.
func NewFakeClockMillis(ms int64) *FakeClock {
	return NewFakeClock(time.UnixMilli(ms))
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FakeClock) Since(t time.Time) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.Sub(t)
}

func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	f.mu.Unlock()
}

func (f *FakeClock) Set(t time.Time) {
	f.mu.Lock()
	f.current = t
	f.mu.Unlock()
}
