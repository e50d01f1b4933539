package revocation

import (
	"fmt"
	"testing"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/config"
)

func testCacheConfig() config.RevocationCacheConfig {
	return config.RevocationCacheConfig{
		Enabled: true,
		MaxSize: 100,
		TTL:     5 * time.Minute,
	}
}

func TestLocalCacheJTIRoundTrip(t *testing.T) {
	c := NewLocalCache(testCacheConfig())
	c.RememberJTI("jti-1", time.Now().Add(time.Hour))

	if !c.LookupJTI("jti-1") {
		t.Error("LookupJTI(jti-1) = false after RememberJTI")
	}
	if c.LookupJTI("jti-2") {
		t.Error("LookupJTI(jti-2) = true for absent entry")
	}
}

func TestLocalCachePurgesExpiredRecordOnRead(t *testing.T) {
	c := NewLocalCache(testCacheConfig())
	c.RememberJTI("stale", time.Now().Add(-time.Minute))

	if c.LookupJTI("stale") {
		t.Error("LookupJTI(stale) = true for expired revocation")
	}
	if jtis, _ := c.Len(); jtis != 0 {
		t.Errorf("Len() = %d after expired read, want 0", jtis)
	}
}

func TestLocalCacheTTLBound(t *testing.T) {
	cfg := testCacheConfig()
	cfg.TTL = time.Minute
	c := NewLocalCache(cfg)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.RememberJTI("jti-1", base.Add(time.Hour))

	if !c.LookupJTI("jti-1") {
		t.Fatal("LookupJTI(jti-1) = false within TTL")
	}

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if c.LookupJTI("jti-1") {
		t.Error("LookupJTI(jti-1) = true past the cache TTL")
	}
}

func TestLocalCacheUserIssuedBefore(t *testing.T) {
	c := NewLocalCache(testCacheConfig())
	cutoff := time.Now()
	c.RememberUser("user-1", cutoff, cutoff.Add(time.Hour))

	tests := []struct {
		name     string
		userID   string
		issuedAt time.Time
		want     bool
	}{
		{"issued before cutoff", "user-1", cutoff.Add(-time.Minute), true},
		{"issued after cutoff", "user-1", cutoff.Add(time.Minute), false},
		{"unknown user", "user-2", cutoff.Add(-time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.LookupUser(tt.userID, tt.issuedAt); got != tt.want {
				t.Errorf("LookupUser(%s) = %v, want %v", tt.userID, got, tt.want)
			}
		})
	}
}

func TestLocalCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cfg := testCacheConfig()
	cfg.MaxSize = 2
	c := NewLocalCache(cfg)
	exp := time.Now().Add(time.Hour)

	c.RememberJTI("a", exp)
	c.RememberJTI("b", exp)
	if !c.LookupJTI("a") {
		t.Fatal("LookupJTI(a) = false")
	}
	c.RememberJTI("c", exp)

	if c.LookupJTI("b") {
		t.Error("LookupJTI(b) = true, want least recently used entry evicted")
	}
	if !c.LookupJTI("a") {
		t.Error("LookupJTI(a) = false, recently used entry was evicted")
	}
	if !c.LookupJTI("c") {
		t.Error("LookupJTI(c) = false for newest entry")
	}
}

func TestLocalCacheRememberUpdatesExisting(t *testing.T) {
	c := NewLocalCache(testCacheConfig())
	c.RememberJTI("jti-1", time.Now().Add(-time.Minute))
	c.RememberJTI("jti-1", time.Now().Add(time.Hour))

	if !c.LookupJTI("jti-1") {
		t.Error("LookupJTI(jti-1) = false after re-remember with later expiry")
	}
	if jtis, _ := c.Len(); jtis != 1 {
		t.Errorf("Len() = %d, want 1", jtis)
	}
}

func TestLocalCachePurge(t *testing.T) {
	c := NewLocalCache(testCacheConfig())
	base := time.Now()
	c.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		c.RememberJTI(fmt.Sprintf("expiring-%d", i), base.Add(time.Minute))
	}
	c.RememberJTI("durable", base.Add(time.Hour))
	c.RememberUser("user-1", base, base.Add(time.Minute))

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	c.Purge()

	jtis, users := c.Len()
	if jtis != 1 {
		t.Errorf("jti entries after Purge() = %d, want 1", jtis)
	}
	if users != 0 {
		t.Errorf("user entries after Purge() = %d, want 0", users)
	}
	if !c.LookupJTI("durable") {
		t.Error("LookupJTI(durable) = false, Purge removed a live entry")
	}
}
