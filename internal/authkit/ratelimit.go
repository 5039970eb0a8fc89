package authkit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// limiterSweepInterval bounds how often idle limiters are evicted.
	limiterSweepInterval = 5 * time.Minute
	// limiterIdleTimeout is the refill window; an entry idle that long holds a full bucket.
	limiterIdleTimeout = time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type clientIPLimiter struct {
	mutex     sync.Mutex
	entries   map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newClientIPLimiter(requestsPerMinute int, now func() time.Time) *clientIPLimiter {
	if now == nil {
		now = time.Now
	}
	return &clientIPLimiter{
		entries:   make(map[string]*limiterEntry),
		limit:     rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:     requestsPerMinute,
		lastSweep: now(),
		now:       now,
	}
}

func (limiter *clientIPLimiter) allow(key string) bool {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()

	current := limiter.now()
	if current.Sub(limiter.lastSweep) >= limiterSweepInterval {
		limiter.sweepLocked(current)
	}
	entry, exists := limiter.entries[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(limiter.limit, limiter.burst)}
		limiter.entries[key] = entry
	}
	entry.lastSeen = current
	return entry.limiter.AllowN(current, 1)
}

func (limiter *clientIPLimiter) sweepLocked(current time.Time) {
	limiter.lastSweep = current
	for key, entry := range limiter.entries {
		if current.Sub(entry.lastSeen) >= limiterIdleTimeout {
			delete(limiter.entries, key)
		}
	}
}

func (limiter *clientIPLimiter) size() int {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()
	return len(limiter.entries)
}

// RateLimitByClientIP allows requestsPerMinute per client IP with an equal burst. Zero disables it.
// The client IP honours forwarding headers only from the engine's trusted proxies.
func RateLimitByClientIP(requestsPerMinute int, logger *zap.Logger) gin.HandlerFunc {
	return rateLimitByClientIP(requestsPerMinute, logger, nil)
}

func rateLimitByClientIP(requestsPerMinute int, logger *zap.Logger, now func() time.Time) gin.HandlerFunc {
	if requestsPerMinute <= 0 {
		return func(contextGin *gin.Context) {
			contextGin.Next()
		}
	}
	return rateLimitMiddleware(newClientIPLimiter(requestsPerMinute, now), logger)
}

func rateLimitMiddleware(limiter *clientIPLimiter, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		clientIP := contextGin.ClientIP()
		if !limiter.allow(clientIP) {
			logger.Warn("rate limit exceeded",
				zap.String("code", "http.rate_limited"),
				zap.String("ip", clientIP),
				zap.String("path", contextGin.Request.URL.Path))
			contextGin.Header("Retry-After", "60")
			contextGin.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate_limit_exceeded",
				"error_description": "Too many requests. Try again later.",
			})
			return
		}
		contextGin.Next()
	}
}
