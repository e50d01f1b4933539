package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/cache"
	"github.com/mwistrand/aussie-sub004/internal/config"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/testutil"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

func testRevocationConfig() config.RevocationConfig {
	return config.RevocationConfig{
		Enabled:             true,
		CheckThreshold:      30 * time.Second,
		CheckUserRevocation: true,
		Bloom: config.BloomConfig{
			Enabled:                  true,
			ExpectedInsertions:       1000,
			FalsePositiveProbability: 0.001,
			RebuildInterval:          time.Hour,
		},
		Cache: config.RevocationCacheConfig{
			Enabled: true,
			MaxSize: 100,
			TTL:     5 * time.Minute,
		},
		PubSubEnabled: true,
	}
}

type revocationFixture struct {
	service *Service
	repo    *testutil.MockTokenRevocationRepository
	cache   *testutil.MockCache
}

func newRevocationFixture(t *testing.T, mutate func(*config.RevocationConfig)) *revocationFixture {
	t.Helper()
	cfg := testRevocationConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	repo := testutil.NewMockTokenRevocationRepository()
	mc := testutil.NewMockCache()
	return &revocationFixture{
		service: NewService(cfg, repo, mc, logging.NewTestLogger()),
		repo:    repo,
		cache:   mc,
	}
}

func TestIsRevokedDisabled(t *testing.T) {
	fx := newRevocationFixture(t, func(cfg *config.RevocationConfig) { cfg.Enabled = false })
	ctx := context.Background()

	if err := fx.repo.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if fx.service.IsRevoked(ctx, "jti-1", "user-1", time.Now().Add(-time.Minute), time.Now().Add(time.Hour)) {
		t.Error("IsRevoked() = true with revocation checking disabled")
	}
}

func TestIsRevokedTTLShortcut(t *testing.T) {
	fx := newRevocationFixture(t, nil)
	ctx := context.Background()

	// The token is revoked, but it expires inside the check threshold
	// so the shortcut skips every lookup.
	if err := fx.service.RevokeToken(ctx, "jti-short", time.Now().Add(10*time.Second)); err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}
	if fx.service.IsRevoked(ctx, "jti-short", "", time.Now(), time.Now().Add(10*time.Second)) {
		t.Error("IsRevoked() = true for token expiring inside the check threshold")
	}
}

func TestIsRevokedBloomShortCircuits(t *testing.T) {
	fx := newRevocationFixture(t, nil)
	ctx := context.Background()

	fx.service.Start(ctx)
	defer fx.service.Stop()

	repoCalled := false
	fx.repo.GetRevokedTokenFn = func(context.Context, string) (*types.RevokedToken, error) {
		repoCalled = true
		return nil, nil
	}

	if fx.service.IsRevoked(ctx, "unknown-jti", "unknown-user", time.Now(), time.Now().Add(time.Hour)) {
		t.Error("IsRevoked() = true for token absent from every tier")
	}
	if repoCalled {
		t.Error("repository consulted despite a definitive bloom miss")
	}
}

func TestIsRevokedUninitializedBloomFallsThrough(t *testing.T) {
	fx := newRevocationFixture(t, nil)
	ctx := context.Background()

	// No Start, so the bloom filter has never been built. The check
	// must reach the repository instead of trusting an empty filter.
	if err := fx.repo.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if !fx.service.IsRevoked(ctx, "jti-1", "", time.Now(), time.Now().Add(time.Hour)) {
		t.Error("IsRevoked() = false, uninitialized bloom filter short-circuited the check")
	}
}

func TestRevokeTokenWritesAllTiers(t *testing.T) {
	fx := newRevocationFixture(t, nil)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	if err := fx.service.RevokeToken(ctx, "jti-1", exp); err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}

	rec, err := fx.repo.GetRevokedToken(ctx, "jti-1")
	if err != nil || rec == nil {
		t.Fatalf("GetRevokedToken() = %v, %v, want record", rec, err)
	}
	if !fx.service.bloom.MightContainJTI("jti-1") {
		t.Error("bloom filter missing revoked jti")
	}
	if !fx.service.local.LookupJTI("jti-1") {
		t.Error("local cache missing revoked jti")
	}

	if len(fx.cache.Published) != 1 {
		t.Fatalf("published %d messages, want 1", len(fx.cache.Published))
	}
	msg := fx.cache.Published[0]
	if msg.Channel != cache.RevocationChannel {
		t.Errorf("published on %q, want %q", msg.Channel, cache.RevocationChannel)
	}
	evt, err := ParseEvent(msg.Payload)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if evt.Type != EventJTIRevoked || evt.JTI != "jti-1" || evt.ExpiresAt != exp.Unix() {
		t.Errorf("event = %+v, want jti_revoked for jti-1 at %d", evt, exp.Unix())
	}
}

func TestRevokeUserCoverage(t *testing.T) {
	fx := newRevocationFixture(t, nil)
	ctx := context.Background()
	cutoff := time.Now()

	if err := fx.service.RevokeUser(ctx, "user-1", cutoff, cutoff.Add(time.Hour)); err != nil {
		t.Fatalf("RevokeUser() error = %v", err)
	}

	if !fx.service.IsRevoked(ctx, "some-jti", "user-1", cutoff.Add(-10*time.Minute), cutoff.Add(time.Hour)) {
		t.Error("IsRevoked() = false for token issued before the user cutoff")
	}
	if fx.service.IsRevoked(ctx, "other-jti", "user-1", cutoff.Add(10*time.Minute), cutoff.Add(2*time.Hour)) {
		t.Error("IsRevoked() = true for token issued after the user cutoff")
	}
}

func TestRevokeValidation(t *testing.T) {
	fx := newRevocationFixture(t, nil)
	ctx := context.Background()

	if err := fx.service.RevokeToken(ctx, "", time.Time{}); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("RevokeToken(\"\") error = %v, want validation error", err)
	}
	if err := fx.service.RevokeUser(ctx, "", time.Time{}, time.Time{}); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("RevokeUser(\"\") error = %v, want validation error", err)
	}
}

func TestRevokeTokenDefaultExpiry(t *testing.T) {
	fx := newRevocationFixture(t, nil)
	ctx := context.Background()

	if err := fx.service.RevokeToken(ctx, "jti-1", time.Time{}); err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}
	rec, err := fx.repo.GetRevokedToken(ctx, "jti-1")
	if err != nil || rec == nil {
		t.Fatalf("GetRevokedToken() = %v, %v, want record", rec, err)
	}
	want := time.Now().Add(defaultRevocationWindow)
	if diff := rec.ExpiresAt.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Errorf("default expiry = %v, want about %v", rec.ExpiresAt, want)
	}
}

func TestIsRevokedFailsOpen(t *testing.T) {
	fx := newRevocationFixture(t, func(cfg *config.RevocationConfig) {
		cfg.Bloom.Enabled = false
		cfg.Cache.Enabled = false
	})
	ctx := context.Background()

	fx.repo.GetRevokedTokenFn = func(context.Context, string) (*types.RevokedToken, error) {
		return nil, apperrors.ErrDatabaseUnavailable
	}
	if fx.service.IsRevoked(ctx, "jti-1", "", time.Now(), time.Now().Add(time.Hour)) {
		t.Error("IsRevoked() = true on repository failure, want fail open")
	}
}

func TestEventPropagationBetweenInstances(t *testing.T) {
	shared := testutil.NewMockCache()
	logger := logging.NewTestLogger()

	source := NewService(testRevocationConfig(), testutil.NewMockTokenRevocationRepository(), shared, logger)
	sink := NewService(testRevocationConfig(), testutil.NewMockTokenRevocationRepository(), shared, logger)

	ctx := context.Background()
	source.Start(ctx)
	defer source.Stop()
	sink.Start(ctx)
	defer sink.Stop()

	// The sink's repository never sees the revocation; only the event
	// can make it visible there. Republish until the subscriber loop
	// has picked it up.
	exp := time.Now().Add(time.Hour)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := source.RevokeToken(ctx, "jti-shared", exp); err != nil {
			t.Fatalf("RevokeToken() error = %v", err)
		}
		if sink.IsRevoked(ctx, "jti-shared", "", time.Now(), exp) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("revocation event never reached the second instance")
}

func TestSubscribeEventsWithoutPubSub(t *testing.T) {
	fx := newRevocationFixture(t, func(cfg *config.RevocationConfig) { cfg.PubSubEnabled = false })
	ctx := context.Background()

	events, cancel := fx.service.SubscribeEvents()
	defer cancel()

	if err := fx.service.RevokeToken(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}

	select {
	case evt := <-events:
		if evt.Type != EventJTIRevoked || evt.JTI != "jti-1" {
			t.Errorf("event = %+v, want jti_revoked for jti-1", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered to listener")
	}
}

func TestSubscribeEventsCancelClosesChannel(t *testing.T) {
	fx := newRevocationFixture(t, nil)

	events, cancel := fx.service.SubscribeEvents()
	cancel()

	if _, ok := <-events; ok {
		t.Error("listener channel still open after cancel")
	}
	// A second cancel must not panic.
	cancel()
}

func TestServiceStatus(t *testing.T) {
	fx := newRevocationFixture(t, nil)
	ctx := context.Background()

	st := fx.service.Status()
	if !st.Enabled || !st.BloomEnabled || st.BloomInitialized {
		t.Errorf("Status() before Start = %+v", st)
	}

	fx.service.Start(ctx)
	defer fx.service.Stop()

	if err := fx.service.RevokeToken(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}

	st = fx.service.Status()
	if !st.BloomInitialized {
		t.Error("Status().BloomInitialized = false after Start")
	}
	if st.CachedJTIs != 1 {
		t.Errorf("Status().CachedJTIs = %d, want 1", st.CachedJTIs)
	}
}

func TestMaintenanceLoopCleansAndRebuilds(t *testing.T) {
	fx := newRevocationFixture(t, func(cfg *config.RevocationConfig) {
		cfg.Bloom.RebuildInterval = 20 * time.Millisecond
	})
	ctx := context.Background()

	// Seed an already expired row directly; the maintenance tick should
	// delete it and rebuild the filter without it.
	if err := fx.repo.Revoke(ctx, "jti-expired", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	fx.service.Start(ctx)
	defer fx.service.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := fx.repo.GetRevokedToken(ctx, "jti-expired")
		if err != nil {
			t.Fatalf("GetRevokedToken() error = %v", err)
		}
		if rec == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expired revocation row never cleaned up")
}
