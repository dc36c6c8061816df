package ratelimit

import (
	"sync"
	"time"
)

// cooldownMargin pads the block duration so we never race the provider's own
// window accounting.
const cooldownMargin = 2 * time.Second

// Cooldown is a fixed-window limiter: up to limit admissions per window,
// checked non-blockingly. Hitting the limit flips the limiter into a blocked
// state until the oldest in-window admission has aged out (plus a latency
// margin); while blocked every call is refused.
//
// Refusal means "no data available now", not an error worth retrying: the
// scan client degrades to an absent report and the next assessment tries
// again.
type Cooldown struct {
	limit  int
	window time.Duration

	mu           sync.Mutex
	stamps       []time.Time
	blockedUntil time.Time

	now func() time.Time // stubbed in tests
}

// NewCooldown creates a limiter admitting limit requests per window.
func NewCooldown(limit int, window time.Duration) *Cooldown {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Cooldown{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// TryAdmit reports whether a request may be made right now and, when it may,
// records it against the current window.
func (c *Cooldown) TryAdmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if !c.blockedUntil.IsZero() {
		if now.Before(c.blockedUntil) {
			return false
		}
		// Cooldown elapsed: full window reset.
		c.blockedUntil = time.Time{}
		c.stamps = nil
	}

	c.prune(now)

	if len(c.stamps) >= c.limit {
		oldestAge := now.Sub(c.stamps[0])
		c.blockedUntil = now.Add(c.window - oldestAge + cooldownMargin)
		return false
	}

	c.stamps = append(c.stamps, now)
	return true
}

// Blocked reports whether the limiter is currently in its cooldown state.
func (c *Cooldown) Blocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.blockedUntil.IsZero() && c.now().Before(c.blockedUntil)
}

// prune drops admissions that have aged out of the window.
// Caller must hold mu.
func (c *Cooldown) prune(now time.Time) {
	cutoff := now.Add(-c.window)
	kept := c.stamps[:0]
	for _, stamp := range c.stamps {
		if stamp.After(cutoff) {
			kept = append(kept, stamp)
		}
	}
	c.stamps = kept
}
