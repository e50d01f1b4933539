package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
)

// RateLimitConfig shapes per-client request rates. Zero values fall
// back to the defaults below.
type RateLimitConfig struct {
	// Sustained requests per second per client.
	RequestsPerSecond float64
	// Burst capacity per client.
	Burst int
	// KeyFunc identifies the client; defaults to the request IP.
	KeyFunc func(*gin.Context) string
	// MaxClients bounds the limiter table. At the cap the oldest
	// tenth of entries is evicted.
	MaxClients int
}

const (
	defaultRequestsPerSecond = 25
	defaultBurst             = 50
	defaultMaxClients        = 10000

	limiterIdleTimeout     = 10 * time.Minute
	limiterCleanupInterval = 5 * time.Minute
)

// IPKeyFunc keys rate limiting by client address.
func IPKeyFunc(c *gin.Context) string {
	return c.ClientIP()
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client. The entry table is
// size-bounded and idle entries are reaped by a background janitor.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	cfg     RateLimitConfig
	logger  logging.Logger
	stop    chan struct{}
	stopped sync.Once
}

func NewRateLimiter(cfg RateLimitConfig, logger logging.Logger) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = IPKeyFunc
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = defaultMaxClients
	}

	rl := &RateLimiter{
		entries: make(map[string]*limiterEntry),
		cfg:     cfg,
		logger:  logger.WithField("component", "middleware.ratelimit"),
		stop:    make(chan struct{}),
	}
	go rl.janitor()
	return rl
}

// Allow reports whether the client identified by key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	entry, ok := rl.entries[key]
	if !ok {
		if len(rl.entries) >= rl.cfg.MaxClients {
			rl.evictOldest(rl.cfg.MaxClients / 10)
		}
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst),
		}
		rl.entries[key] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Middleware rejects requests over the limit with 429 and a
// Retry-After hint.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	retryAfter := strconv.Itoa(retryAfterSeconds(rl.cfg.RequestsPerSecond))

	return func(c *gin.Context) {
		key := rl.cfg.KeyFunc(c)
		if !rl.Allow(key) {
			rl.logger.Warn(c.Request.Context(), "Request rate limit exceeded",
				logging.String("client", key),
				logging.String("path", c.Request.URL.Path),
				logging.String("method", c.Request.Method))

			c.Header("Retry-After", retryAfter)
			AbortWithAppError(c, apperrors.ErrRateLimited)
			return
		}
		c.Next()
	}
}

// Stop terminates the janitor goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopped.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) janitor() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := time.Now().Add(-limiterIdleTimeout)
			for key, entry := range rl.entries {
				if entry.lastSeen.Before(cutoff) {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

// evictOldest drops the count least recently seen entries. Caller
// holds the lock.
func (rl *RateLimiter) evictOldest(count int) {
	if count < 1 {
		count = 1
	}
	for ; count > 0; count-- {
		oldestKey := ""
		var oldest time.Time
		for key, entry := range rl.entries {
			if oldestKey == "" || entry.lastSeen.Before(oldest) {
				oldestKey = key
				oldest = entry.lastSeen
			}
		}
		if oldestKey == "" {
			return
		}
		delete(rl.entries, oldestKey)
	}
}

// retryAfterSeconds is the bucket refill time for one request, rounded
// up to whole seconds.
func retryAfterSeconds(perSecond float64) int {
	if perSecond >= 1 {
		return 1
	}
	return int(math.Ceil(1 / perSecond))
}
