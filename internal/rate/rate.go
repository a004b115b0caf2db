package rate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per key, behind a global bucket.
type Limiter struct {
	keys   map[string]*entry
	mu     *sync.Mutex
	r      rate.Limit
	b      int
	global *rate.Limiter
	idle   time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter allows r events per second with burst b per key. The global
// bucket allows ten times that.
func NewLimiter(r float64, b int) *Limiter {
	if b < 1 {
		b = 1
	}
	return &Limiter{
		keys:   make(map[string]*entry),
		mu:     &sync.Mutex{},
		r:      rate.Limit(r),
		b:      b,
		global: rate.NewLimiter(rate.Limit(r*10), b*10),
		idle:   10 * time.Minute,
	}
}

// Allow reports whether key may proceed now.
func (i *Limiter) Allow(key string) bool {
	if !i.global.Allow() {
		return false
	}
	return i.GetLimiter(key).Allow()
}

// GetLimiter returns the rate limiter for key, creating it on first use.
func (i *Limiter) GetLimiter(key string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := time.Now()
	e, exists := i.keys[key]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(i.r, i.b)}
		i.keys[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Cleanup forgets keys not seen for a while.
func (i *Limiter) Cleanup() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for key, e := range i.keys {
		if time.Since(e.lastSeen) > i.idle {
			delete(i.keys, key)
		}
	}
}

func (i *Limiter) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.keys)
}
