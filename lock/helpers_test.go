package lock

import (
	"time"

	"github.com/gaestalt/lockd/raft"
)

// fakeClock is a manually advanced clock for deterministic expiry tests.
type fakeClock struct {
	nowMillis int64
}

func (c *fakeClock) Now() time.Time               { return time.UnixMilli(c.nowMillis) }
func (c *fakeClock) NowUnixMilli() int64          { return c.nowMillis }
func (c *fakeClock) Since(t time.Time) time.Duration {
	return time.Duration(c.nowMillis-t.UnixMilli()) * time.Millisecond
}
func (c *fakeClock) After(d time.Duration) <-chan time.Time { return nil }
func (c *fakeClock) NewTicker(d time.Duration) raft.Ticker  { panic("not used") }
func (c *fakeClock) NewTimer(d time.Duration) raft.Timer    { panic("not used") }
func (c *fakeClock) Sleep(d time.Duration)                  {}

func (c *fakeClock) advance(d time.Duration) {
	c.nowMillis += d.Milliseconds()
}

func newTestManager() (*lockManager, *fakeClock) {
	clock := &fakeClock{nowMillis: 1_000_000}
	lm := NewLockManager(WithClock(clock)).(*lockManager)
	return lm, clock
}
