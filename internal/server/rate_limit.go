package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const limiterResetInterval = time.Hour

// clientRateLimiter keeps one token bucket per client IP.
type clientRateLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
	limit       rate.Limit
	burst       int
	logger      *zap.Logger
	now         func() time.Time
}

func newClientRateLimiter(perSecond float64, burst int, logger *zap.Logger) *clientRateLimiter {
	return &clientRateLimiter{
		limiters:    make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
		limit:       rate.Limit(perSecond),
		burst:       burst,
		logger:      logger,
		now:         time.Now,
	}
}

func (l *clientRateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Reset all buckets hourly.
	if l.now().Sub(l.lastCleanup) > limiterResetInterval {
		l.limiters = make(map[string]*rate.Limiter)
		l.lastCleanup = l.now()
	}

	limiter, exists := l.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = limiter
	}
	return limiter
}

func (l *clientRateLimiter) middleware(c *gin.Context) {
	clientIP := c.ClientIP()
	if !l.limiterFor(clientIP).Allow() {
		l.logger.Warn("rate limit exceeded", zap.String("ip", clientIP), zap.String("path", c.FullPath()))
		abortWithError(c, http.StatusTooManyRequests, errorCodeRateLimited, "too many requests")
		return
	}
	c.Next()
}
