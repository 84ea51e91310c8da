package repository

import "time"

// monotonicClock hands out strictly increasing timestamps at microsecond
// precision. Callers must serialize access.
type monotonicClock struct {
	now  func() time.Time
	last time.Time
}

func newMonotonicClock() *monotonicClock {
	return &monotonicClock{now: time.Now}
}

// seed makes every later timestamp sort after t, which keeps history ordered
// across restarts even if the wall clock stepped backwards.
func (c *monotonicClock) seed(t time.Time) {
	if t.After(c.last) {
		c.last = t.UTC()
	}
}

func (c *monotonicClock) next() time.Time {
	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
