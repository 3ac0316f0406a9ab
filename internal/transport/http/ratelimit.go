package http

import "time"

// rateLimiter is a fixed one-minute window counter. It is owned by a single
// read loop and needs no locking.
type rateLimiter struct {
	limit int
	start time.Time
	count int
	now   func() time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{limit: limit, now: time.Now}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	now := r.now()
	if now.Sub(r.start) >= time.Minute {
		r.start = now
		r.count = 0
	}
	r.count++
	return r.count <= r.limit
}
