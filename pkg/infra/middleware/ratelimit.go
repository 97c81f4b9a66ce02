package middleware

import (
	"net"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	mwopts "github.com/kart-io/kgrag/pkg/options/middleware"
	"github.com/kart-io/kgrag/pkg/utils/errors"
	"github.com/kart-io/kgrag/pkg/utils/response"
)

// RateLimit limits each client IP to opts.Limit requests per sliding window.
func RateLimit(opts mwopts.RateLimitOptions) gin.HandlerFunc {
	limiter := NewMemoryRateLimiter(opts.Limit, opts.Window)
	skip := make(map[string]bool, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		if !limiter.Allow(clientKey(c)) {
			response.Fail(c, errors.ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

func clientKey(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}

// MemoryRateLimiter is an in-process sliding window limiter.
type MemoryRateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	entries   map[string][]time.Time
	lastSweep time.Time
}

// NewMemoryRateLimiter creates a limiter. Non-positive values fall back to
// 100 requests per minute.
func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryRateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		entries: make(map[string][]time.Time),
	}
}

// Allow records a request for key and reports whether it is within the limit.
func (m *MemoryRateLimiter) Allow(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.window)
	if now.Sub(m.lastSweep) > 2*m.window {
		m.sweep(cutoff)
		m.lastSweep = now
	}

	reqs := dropExpired(m.entries[key], cutoff)
	if len(reqs) >= m.limit {
		m.entries[key] = reqs
		return false
	}
	m.entries[key] = append(reqs, now)
	return true
}

// Reset forgets every request recorded for key.
func (m *MemoryRateLimiter) Reset(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *MemoryRateLimiter) sweep(cutoff time.Time) {
	for k, reqs := range m.entries {
		if len(dropExpired(reqs, cutoff)) == 0 {
			delete(m.entries, k)
		}
	}
}

// dropExpired 返回 cutoff 之后的请求时间，reqs 按时间升序。
func dropExpired(reqs []time.Time, cutoff time.Time) []time.Time {
	for i, t := range reqs {
		if t.After(cutoff) {
			return reqs[i:]
		}
	}
	return reqs[:0]
}
