package throttle

import "time"

// NowFunc supplies the current time. Injected into every throttle
// component so tests can drive stage and stabilization timing
// deterministically.
type NowFunc func() time.Time

// Clock tracks elapsed time since Start. The zero value is inactive.
type Clock struct {
	now       NowFunc
	startedAt time.Time
	active    bool
}

// NewClock returns a Clock reading time from now. A nil now falls back
// to time.Now.
func NewClock(now NowFunc) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Start starts or restarts the clock.
func (c *Clock) Start() {
	c.startedAt = c.now()
	c.active = true
}

// Reset stops the clock.
func (c *Clock) Reset() {
	c.startedAt = time.Time{}
	c.active = false
}

// Elapsed returns the time since Start, or zero if the clock is not
// running.
func (c *Clock) Elapsed() time.Duration {
	if !c.active {
		return 0
	}
	return c.now().Sub(c.startedAt)
}

// HasElapsed reports whether at least d has passed since Start.
func (c *Clock) HasElapsed(d time.Duration) bool {
	if !c.active {
		return false
	}
	return c.Elapsed() >= d
}

// Active reports whether the clock has been started and not reset.
func (c *Clock) Active() bool {
	return c.active
}
