package channels

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked send targets so a flood of
	// distinct chats cannot grow the limiter map without bound.
	maxTrackedKeys = 4096

	// limiterIdleTTL is how long an unused target limiter is kept.
	limiterIdleTTL = 10 * time.Minute
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

// SendLimiter paces outbound sends per target with a token bucket.
// A nil *SendLimiter never waits. Safe for concurrent use.
type SendLimiter struct {
	mu      sync.Mutex
	perSec  rate.Limit
	burst   int
	entries map[string]*limiterEntry
}

// NewSendLimiter returns a limiter allowing perSec sends per target, or nil
// when perSec <= 0.
func NewSendLimiter(perSec float64, burst int) *SendLimiter {
	if perSec <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &SendLimiter{
		perSec:  rate.Limit(perSec),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

// Wait blocks until a send to target is allowed or ctx is done.
func (s *SendLimiter) Wait(ctx context.Context, target string) error {
	if s == nil {
		return nil
	}
	return s.get(target).Wait(ctx)
}

func (s *SendLimiter) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	// Prune idle entries when approaching the cap
	if len(s.entries) >= maxTrackedKeys {
		for k, e := range s.entries {
			if now.Sub(e.lastUsed) >= limiterIdleTTL {
				delete(s.entries, k)
			}
		}
		// Hard eviction if still at cap (FIFO-ish via map iteration)
		for len(s.entries) >= maxTrackedKeys {
			for k := range s.entries {
				delete(s.entries, k)
				break
			}
		}
	}

	e, ok := s.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(s.perSec, s.burst)}
		s.entries[key] = e
	}
	e.lastUsed = now
	return e.lim
}

// Len returns the number of tracked targets.
func (s *SendLimiter) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
