package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mwistrand/aussie-sub004/internal/logging"
)

func rateLimitedRouter(t *testing.T, cfg RateLimitConfig) *gin.Engine {
	t.Helper()
	rl := NewRateLimiter(cfg, logging.NewTestLogger())
	t.Cleanup(rl.Stop)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler(logging.NewTestLogger()), rl.Middleware())
	r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func adminRequest(r *gin.Engine, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiterEnforcesBurst(t *testing.T) {
	r := rateLimitedRouter(t, RateLimitConfig{RequestsPerSecond: 1, Burst: 2})

	for i := 0; i < 2; i++ {
		if w := adminRequest(r, "10.0.0.1:5000"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}

	w := adminRequest(r, "10.0.0.1:5000")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want %q", got, "1")
	}
	if code := errorCode(t, w); code != "RATE_LIMITED" {
		t.Errorf("error code = %q, want RATE_LIMITED", code)
	}
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	r := rateLimitedRouter(t, RateLimitConfig{RequestsPerSecond: 1, Burst: 1})

	adminRequest(r, "10.0.0.1:5000")
	if w := adminRequest(r, "10.0.0.1:5000"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("exhausted client: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	if w := adminRequest(r, "10.0.0.2:5000"); w.Code != http.StatusOK {
		t.Errorf("fresh client: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRateLimiterEvictsAtCapacity(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, MaxClients: 2}, logging.NewTestLogger())
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("client-%d", i))

		rl.mu.Lock()
		size := len(rl.entries)
		rl.mu.Unlock()
		if size > 2 {
			t.Fatalf("limiter table holds %d entries, cap is 2", size)
		}
	}
}

func TestRateLimiterStopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{}, logging.NewTestLogger())
	rl.Stop()
	rl.Stop()
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		perSecond float64
		want      int
	}{
		{25, 1},
		{1, 1},
		{0.5, 2},
		{0.1, 10},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.perSecond); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.perSecond, got, tt.want)
		}
	}
}
