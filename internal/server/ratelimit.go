package server

import (
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientIdleTTL is how long an unused per-client limiter is kept.
const clientIdleTTL = 10 * time.Minute

// RateLimiter hands out one token bucket per client.
type RateLimiter struct {
	mu sync.Mutex

	perMinute int
	burst     int
	clients   map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per client with bursts of burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		perMinute: perMinute,
		burst:     burst,
		clients:   make(map[string]*clientLimiter),
		now:       time.Now,
	}
}

// Allow consumes a token for clientID or returns a *RateLimitError.
func (rl *RateLimiter) Allow(clientID string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	c, ok := rl.clients[clientID]
	if !ok {
		c = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.perMinute)/60), rl.burst),
		}
		rl.clients[clientID] = c
	}
	c.lastSeen = now

	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return &RateLimitError{Type: "minute", Limit: rl.perMinute}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &RateLimitError{
			Type:       "minute",
			Limit:      rl.perMinute,
			RetryAfter: time.Duration(math.Ceil(delay.Seconds())) * time.Second,
		}
	}
	return nil
}

// Clients returns how many clients are currently tracked.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < clientIdleTTL {
		return
	}
	rl.lastSweep = now
	for id, c := range rl.clients {
		if now.Sub(c.lastSeen) >= clientIdleTTL {
			delete(rl.clients, id)
		}
	}
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string        // "minute"
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}
