package scale

import (
	"sync"
	"time"
)

// eventClock hands out measurement timestamps that never go backwards, even
// if the wall clock is stepped back by NTP between two weighings.
type eventClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newEventClock(now func() time.Time) *eventClock {
	if now == nil {
		now = time.Now
	}
	return &eventClock{now: now}
}

func (c *eventClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now()
	if t.Before(c.last) {
		return c.last
	}
	c.last = t
	return t
}
