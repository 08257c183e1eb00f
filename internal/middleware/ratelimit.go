package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Limiter decides whether a request identified by key may proceed. Implementations
// shared between instances (e.g. a counting store) plug in here.
type Limiter interface {
	Allow(key string) bool
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// InMemoryRateLimiter keeps one token bucket per key in process memory.
// It only limits a single instance.
type InMemoryRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	window   time.Duration
	now      func() time.Time
}

// NewInMemoryRateLimiter allows `requests` per `window`, refilled continuously.
func NewInMemoryRateLimiter(requests int, window time.Duration) *InMemoryRateLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &InMemoryRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(requests) / window.Seconds()),
		burst:    requests,
		window:   window,
		now:      time.Now,
	}
}

func (r *InMemoryRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	now := r.now()
	v, ok := r.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.visitors[key] = v
	}
	v.lastSeen = now
	r.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// Run sweeps idle buckets every minute until ctx is done.
func (r *InMemoryRateLimiter) Run(ctx context.Context) {
	tick := time.NewTicker(time.Minute)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			r.sweep()
		}
	}
}

func (r *InMemoryRateLimiter) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.window)
	for k, v := range r.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(r.visitors, k)
		}
	}
}

func (r *InMemoryRateLimiter) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visitors)
}

// RateLimit limits by client IP.
func RateLimit(limiter Limiter) gin.HandlerFunc {
	return rateLimitBy(limiter, func(c *gin.Context) string { return c.ClientIP() })
}

// RateLimitByUser limits by authenticated user, falling back to client IP. Use after AuthRequired.
func RateLimitByUser(limiter Limiter) gin.HandlerFunc {
	return rateLimitBy(limiter, func(c *gin.Context) string {
		if id := GetUserID(c); id != "" {
			return "user:" + id
		}
		return c.ClientIP()
	})
}

func rateLimitBy(limiter Limiter, keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(keyFn(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
