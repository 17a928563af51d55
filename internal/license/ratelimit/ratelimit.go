// Package ratelimit implements the per-IP sliding-window rate limiter
// (C11) as gin middleware. Ported from original_source's
// rate_limit.py RateLimitMiddleware — same max_requests/window
// semantics, same exempt-path set, same "evict inline with each
// request" eviction strategy — with the per-client deque guarded by
// its own lock instead of one global middleware lock, following the
// teacher's per-key-locked-map idiom (anonymizer.go's inflightMu).
package ratelimit

import (
	"container/list"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultMaxRequests and DefaultWindow match the source's
// MAX_REQUESTS/WINDOW_SECONDS defaults.
const (
	DefaultMaxRequests = 60
	DefaultWindow       = 60 * time.Second
)

// exemptPaths bypass the limiter entirely: health checks and
// documentation routes, matching the source's _EXEMPT_PATHS.
var exemptPaths = map[string]bool{
	"/health":       true,
	"/docs":         true,
	"/openapi.json": true,
	"/redoc":        true,
}

// bucket is one IP's sliding-window deque, guarded by its own lock so
// requests from different clients never contend on the same mutex.
type bucket struct {
	mu   sync.Mutex
	hits *list.List // deque of time.Time, oldest first
}

// Limiter is a per-IP sliding-window admission gate. Each IP gets its
// own bucket lock instead of one lock shared across every client,
// following the teacher's per-key-locked-map idiom (anonymizer.go's
// inflightMu) rather than a single global mutex.
type Limiter struct {
	maxRequests int
	window      time.Duration

	buckets sync.Map // IP -> *bucket
}

// New returns a Limiter with the given bounds.
func New(maxRequests int, window time.Duration) *Limiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
	}
}

// Allow evicts timestamps older than the window for ip, then admits
// the request if the remaining count is under the limit.
func (l *Limiter) Allow(ip string, now time.Time) bool {
	v, _ := l.buckets.LoadOrStore(ip, &bucket{hits: list.New()})
	b := v.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-l.window)
	for b.hits.Len() > 0 {
		front := b.hits.Front()
		if front.Value.(time.Time).Before(cutoff) {
			b.hits.Remove(front)
			continue
		}
		break
	}

	if b.hits.Len() >= l.maxRequests {
		return false
	}
	b.hits.PushBack(now)
	return true
}

// Middleware returns a gin.HandlerFunc enforcing the limiter on every
// path except those in exemptPaths; no other route is skipped.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if exemptPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		ip := c.ClientIP()
		if l.Allow(ip, time.Now()) {
			c.Next()
			return
		}

		secs := int(l.window.Seconds())
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"detail": "rate limit exceeded, try again later",
		})
	}
}
