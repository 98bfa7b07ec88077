// Package clock provides the millisecond time base of the control loop.
package clock

import (
	"sync"
	"time"
)

// Clock is a monotonic millisecond counter with a blocking sleep. The counter
// wraps at 2^32 ms (about 49.7 days); consumers subtract with uint32 arithmetic.
type Clock interface {
	NowMs() uint32
	SleepMs(ms uint32)
}

// System is the process clock. The zero value is not usable; use NewSystem.
type System struct {
	start time.Time
}

// NewSystem returns a clock counting from now.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// NowMs returns milliseconds since NewSystem, using the monotonic reading.
func (s *System) NowMs() uint32 {
	return uint32(time.Since(s.start).Milliseconds())
}

// SleepMs blocks for ms milliseconds.
func (s *System) SleepMs(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// Fake is a manually advanced clock. SleepMs advances it instead of blocking.
type Fake struct {
	mu    sync.Mutex
	now   uint32
	slept uint32
}

// NewFake returns a fake clock reading start.
func NewFake(start uint32) *Fake {
	return &Fake{now: start}
}

func (f *Fake) NowMs() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) SleepMs(ms uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += ms
	f.slept += ms
}

// Advance moves the clock forward by ms.
func (f *Fake) Advance(ms uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += ms
}

// Slept returns the total milliseconds requested through SleepMs.
func (f *Fake) Slept() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slept
}
