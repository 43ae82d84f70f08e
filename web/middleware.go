package web

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ziadhany/federatedcode/activitypub"
)

// limiterTTL is how long an idle per-IP bucket survives before eviction.
const limiterTTL = 10 * time.Minute

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds per-IP token buckets. Idle buckets are evicted so
// one-off federation peers do not accumulate forever.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*ipBucket
	rate    rate.Limit
	burst   int
}

// NewRateLimiter creates a limiter allowing r requests per second with
// burst b per client IP, and starts its eviction loop.
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*ipBucket),
		rate:    r,
		burst:   b,
	}
	go rl.evictIdle()
	return rl
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.buckets[ip]
	if !ok {
		bucket = &ipBucket{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.buckets[ip] = bucket
	}
	bucket.lastSeen = time.Now()
	return bucket.limiter.Allow()
}

func (rl *RateLimiter) evictIdle() {
	ticker := time.NewTicker(limiterTTL)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-limiterTTL)
		rl.mu.Lock()
		for ip, bucket := range rl.buckets {
			if bucket.lastSeen.Before(cutoff) {
				delete(rl.buckets, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware rejects clients that exceed their per-IP budget.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{"detail": "Rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// MaxBytesMiddleware caps activity body sizes.
func MaxBytesMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "Request body too large"})
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// RequireActivityJSON rejects activity submissions that do not declare an
// ActivityStreams media type.
func RequireActivityJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		ct := c.ContentType()
		if ct != activitypub.ContentType && !strings.HasPrefix(ct, "application/ld+json") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"detail": "Expected " + activitypub.ContentType})
			c.Abort()
			return
		}
		c.Next()
	}
}
