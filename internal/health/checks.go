// Package health aggregates component probes behind the liveness and
// readiness endpoints. Full checks run in parallel with a short result
// cache so probe traffic cannot hammer the database or redis.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mwistrand/aussie-sub004/internal/cache"
	"github.com/mwistrand/aussie-sub004/internal/signing"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const resultCacheTTL = 30 * time.Second

// Result is one component probe outcome.
type Result struct {
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Overall is the aggregate reported by /health and /health/ready.
type Overall struct {
	Status    Status            `json:"status"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]Result `json:"checks"`
}

// Checker probes one component. Critical checkers gate readiness;
// their failure marks the whole process unhealthy.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
	Timeout() time.Duration
	Critical() bool
}

// Manager runs registered checkers and caches their results.
type Manager struct {
	checkers  []Checker
	startTime time.Time
	version   string

	mu       sync.RWMutex
	cached   map[string]Result
	cacheTTL time.Duration
}

func NewManager(version string, checkers ...Checker) *Manager {
	return &Manager{
		checkers:  checkers,
		startTime: time.Now(),
		version:   version,
		cached:    make(map[string]Result),
		cacheTTL:  resultCacheTTL,
	}
}

func (m *Manager) Add(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// CheckHealth runs every checker in parallel. A critical failure makes
// the aggregate unhealthy; any other failure or degradation makes it
// degraded.
func (m *Manager) CheckHealth(ctx context.Context) Overall {
	results := make(map[string]Result, len(m.checkers))
	overall := StatusHealthy

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, checker := range m.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			result, ok := m.cachedResult(c.Name())
			if !ok {
				checkCtx, cancel := context.WithTimeout(ctx, c.Timeout())
				result = c.Check(checkCtx)
				cancel()
				m.storeResult(c.Name(), result)
			}

			mu.Lock()
			results[c.Name()] = result
			switch {
			case result.Status == StatusUnhealthy && c.Critical():
				overall = StatusUnhealthy
			case result.Status != StatusHealthy && overall == StatusHealthy:
				overall = StatusDegraded
			}
			mu.Unlock()
		}(checker)
	}
	wg.Wait()

	return m.overall(overall, results)
}

// CheckReadiness probes only critical checkers, stopping at the first
// failure. Cached results are ignored so readiness reflects right now.
func (m *Manager) CheckReadiness(ctx context.Context) Overall {
	results := make(map[string]Result)
	overall := StatusHealthy

	for _, checker := range m.checkers {
		if !checker.Critical() {
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, checker.Timeout())
		result := checker.Check(checkCtx)
		cancel()

		results[checker.Name()] = result
		if result.Status == StatusUnhealthy {
			overall = StatusUnhealthy
			break
		}
	}

	return m.overall(overall, results)
}

func (m *Manager) overall(status Status, results map[string]Result) Overall {
	return Overall{
		Status:    status,
		Version:   m.version,
		Uptime:    time.Since(m.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
		Checks:    results,
	}
}

func (m *Manager) cachedResult(name string) (Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result, ok := m.cached[name]
	if !ok || time.Since(result.Timestamp) >= m.cacheTTL {
		return Result{}, false
	}
	return result, true
}

func (m *Manager) storeResult(name string, result Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached[name] = result
}

func (m *Manager) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()

		health := m.CheckHealth(ctx)
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, health)
	}
}

func (m *Manager) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		readiness := m.CheckReadiness(ctx)
		code := http.StatusOK
		if readiness.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, readiness)
	}
}

func (m *Manager) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    StatusHealthy,
			"timestamp": time.Now(),
			"uptime":    time.Since(m.startTime).Round(time.Second).String(),
		})
	}
}

// DatabaseChecker pings postgres and inspects the connection pool.
type DatabaseChecker struct {
	db *sql.DB
}

func NewDatabaseChecker(db *sql.DB) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (d *DatabaseChecker) Name() string           { return "database" }
func (d *DatabaseChecker) Timeout() time.Duration { return 5 * time.Second }
func (d *DatabaseChecker) Critical() bool         { return true }

func (d *DatabaseChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if err := d.db.PingContext(ctx); err != nil {
		return Result{
			Status:    StatusUnhealthy,
			Message:   "Database ping failed",
			Duration:  time.Since(start),
			Timestamp: time.Now(),
			Error:     err.Error(),
		}
	}

	stats := d.db.Stats()
	status := StatusHealthy
	message := "Database is healthy"
	if stats.WaitCount > 0 {
		status = StatusDegraded
		message = fmt.Sprintf("Database has connection waits: %d", stats.WaitCount)
	}
	if stats.MaxOpenConnections > 0 && stats.OpenConnections == stats.MaxOpenConnections {
		status = StatusDegraded
		message = "Database connection pool at maximum capacity"
	}

	return Result{
		Status:    status,
		Message:   message,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
		},
	}
}

// RedisChecker round-trips a key through redis. Redis backs the PKCE
// store, revocation pub/sub and auth lockout counters; those paths
// degrade rather than fail without it, so the checker is non-critical.
type RedisChecker struct {
	cache *cache.RedisCache
}

func NewRedisChecker(c *cache.RedisCache) *RedisChecker {
	return &RedisChecker{cache: c}
}

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) Timeout() time.Duration { return 3 * time.Second }
func (r *RedisChecker) Critical() bool         { return false }

func (r *RedisChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if err := r.cache.Ping(ctx); err != nil {
		return Result{
			Status:    StatusUnhealthy,
			Message:   "Redis ping failed",
			Duration:  time.Since(start),
			Timestamp: time.Now(),
			Error:     err.Error(),
		}
	}

	probe := "health:check"
	if err := r.cache.Set(ctx, probe, time.Now().Format(time.RFC3339), 30*time.Second); err != nil {
		return Result{
			Status:    StatusDegraded,
			Message:   "Redis write failed",
			Duration:  time.Since(start),
			Timestamp: time.Now(),
			Error:     err.Error(),
		}
	}
	if _, err := r.cache.Get(ctx, probe); err != nil {
		return Result{
			Status:    StatusDegraded,
			Message:   "Redis read failed",
			Duration:  time.Since(start),
			Timestamp: time.Now(),
			Error:     err.Error(),
		}
	}
	r.cache.Del(ctx, probe)

	return Result{
		Status:    StatusHealthy,
		Message:   "Redis is healthy",
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}
}

// SigningChecker reports on the signing key registry. Verification of
// external tokens works without local keys, but issuance and the
// internal JWKS endpoint do not, so a missing active key degrades the
// process while an uninitialized registry fails it.
type SigningChecker struct {
	registry *signing.Registry
}

func NewSigningChecker(registry *signing.Registry) *SigningChecker {
	return &SigningChecker{registry: registry}
}

func (s *SigningChecker) Name() string           { return "signing" }
func (s *SigningChecker) Timeout() time.Duration { return time.Second }
func (s *SigningChecker) Critical() bool         { return true }

func (s *SigningChecker) Check(ctx context.Context) Result {
	start := time.Now()
	status := s.registry.Status()

	metadata := map[string]interface{}{
		"active_kid":        status.ActiveKID,
		"verification_keys": status.VerificationKeys,
		"last_refresh":      status.LastRefresh,
	}

	switch {
	case !status.Initialized:
		return Result{
			Status:    StatusUnhealthy,
			Message:   "Signing key cache not initialized",
			Duration:  time.Since(start),
			Timestamp: time.Now(),
			Metadata:  metadata,
		}
	case status.ActiveKID == "":
		return Result{
			Status:    StatusDegraded,
			Message:   "No active signing key",
			Duration:  time.Since(start),
			Timestamp: time.Now(),
			Metadata:  metadata,
		}
	}

	return Result{
		Status:    StatusHealthy,
		Message:   "Signing keys loaded",
		Duration:  time.Since(start),
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// MemoryChecker surfaces runtime memory stats, for ops visibility
// only.
type MemoryChecker struct {
	degradedAllocMB float64
}

func NewMemoryChecker(degradedAllocMB float64) *MemoryChecker {
	if degradedAllocMB <= 0 {
		degradedAllocMB = 1024
	}
	return &MemoryChecker{degradedAllocMB: degradedAllocMB}
}

func (m *MemoryChecker) Name() string           { return "memory" }
func (m *MemoryChecker) Timeout() time.Duration { return time.Second }
func (m *MemoryChecker) Critical() bool         { return false }

func (m *MemoryChecker) Check(ctx context.Context) Result {
	start := time.Now()

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	allocMB := float64(stats.Alloc) / 1024 / 1024

	status := StatusHealthy
	message := "Memory usage is normal"
	if allocMB > m.degradedAllocMB {
		status = StatusDegraded
		message = fmt.Sprintf("High memory usage: %.0f MB", allocMB)
	}

	return Result{
		Status:    status,
		Message:   message,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"alloc_mb":   allocMB,
			"gc_count":   stats.NumGC,
			"goroutines": runtime.NumGoroutine(),
		},
	}
}
