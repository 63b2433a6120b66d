package transport

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// acceptLimiter applies a token bucket per remote IP to anonymous inbound
// connections and periodically evicts idle entries. A nil limiter allows
// everything.
type acceptLimiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	byIP  map[string]*limiterEntry
	hits  uint64
	idle  time.Duration
	clock func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newAcceptLimiter(rps float64, burst int, clock func() time.Time) *acceptLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &acceptLimiter{
		limit: rate.Limit(rps),
		burst: burst,
		byIP:  make(map[string]*limiterEntry),
		idle:  limiterIdleTTL,
		clock: clock,
	}
}

func (l *acceptLimiter) allow(ip string) bool {
	if l == nil || ip == "" {
		return true
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byIP[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byIP[ip] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idle)
		for k, v := range l.byIP {
			if v.lastSeen.Before(cutoff) {
				delete(l.byIP, k)
			}
		}
	}

	return allowed
}
