package signing

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/testutil"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

var (
	sharedPair     *KeyPair
	sharedPairOnce sync.Once
)

// testPair generates one RSA key pair and reuses it across tests; key
// generation dominates test time otherwise.
func testPair(t *testing.T) *KeyPair {
	t.Helper()
	sharedPairOnce.Do(func() {
		pair, err := GenerateKeyPair(2048)
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}
		sharedPair = pair
	})
	return sharedPair
}

func testKey(t *testing.T, kid string, status types.KeyStatus, createdAt time.Time) *types.SigningKey {
	t.Helper()
	pair := testPair(t)
	return &types.SigningKey{
		KID:        kid,
		Algorithm:  AlgorithmRS256,
		PrivatePEM: pair.PrivatePEM,
		PublicPEM:  pair.PublicPEM,
		Status:     status,
		CreatedAt:  createdAt,
	}
}

func newTestRegistry(t *testing.T) (*Registry, *testutil.MockSigningKeyRepository) {
	t.Helper()
	repo := testutil.NewMockSigningKeyRepository()
	return NewRegistry(repo, 2048, logging.NewTestLogger()), repo
}

func TestNewKIDFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^k-\d{4}-q[1-4]-[0-9a-f]{8}$`)

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"january is q1", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), "k-2026-q1-"},
		{"march is q1", time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), "k-2026-q1-"},
		{"april is q2", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), "k-2026-q2-"},
		{"december is q4", time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), "k-2025-q4-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kid, err := NewKID(tt.at)
			if err != nil {
				t.Fatalf("NewKID: %v", err)
			}
			if !pattern.MatchString(kid) {
				t.Errorf("NewKID() = %q, does not match %s", kid, pattern)
			}
			if kid[:len(tt.want)] != tt.want {
				t.Errorf("NewKID() = %q, want prefix %q", kid, tt.want)
			}
		})
	}
}

func TestGenerateKeyPairRejectsSmallKeys(t *testing.T) {
	if _, err := GenerateKeyPair(1024); err == nil {
		t.Error("GenerateKeyPair(1024) should be rejected")
	}
}

func TestKeyPairPEMRoundTrip(t *testing.T) {
	pair := testPair(t)

	private, err := ParsePrivateKeyPEM(pair.PrivatePEM)
	if err != nil {
		t.Fatalf("ParsePrivateKeyPEM: %v", err)
	}
	public, err := ParsePublicKeyPEM(pair.PublicPEM)
	if err != nil {
		t.Fatalf("ParsePublicKeyPEM: %v", err)
	}
	if private.PublicKey.N.Cmp(public.N) != 0 {
		t.Error("parsed public key does not match private key")
	}
}

func TestParsePEMRejectsGarbage(t *testing.T) {
	if _, err := ParsePrivateKeyPEM("not a pem"); err == nil {
		t.Error("ParsePrivateKeyPEM should reject non-PEM input")
	}
	if _, err := ParsePublicKeyPEM(""); err == nil {
		t.Error("ParsePublicKeyPEM should reject empty input")
	}
}

func TestRegistryCurrentSigningWithoutActiveKey(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.CurrentSigning()
	if !apperrors.Is(err, apperrors.ErrNoActiveKey) {
		t.Errorf("CurrentSigning() error = %v, want ErrNoActiveKey", err)
	}
}

func TestRegistryGenerateAndRegister(t *testing.T) {
	registry, repo := newTestRegistry(t)
	ctx := context.Background()

	key, err := registry.GenerateAndRegister(ctx)
	if err != nil {
		t.Fatalf("GenerateAndRegister: %v", err)
	}

	if key.Status != types.KeyStatusPending {
		t.Errorf("new key status = %s, want PENDING", key.Status)
	}
	if key.Algorithm != AlgorithmRS256 {
		t.Errorf("new key algorithm = %s, want %s", key.Algorithm, AlgorithmRS256)
	}

	stored, err := repo.GetByKID(ctx, key.KID)
	if err != nil {
		t.Fatalf("GetByKID after register: %v", err)
	}
	if stored.Status != types.KeyStatusPending {
		t.Errorf("stored status = %s, want PENDING", stored.Status)
	}

	// A PENDING key must not serve signing or verification.
	if _, err := registry.CurrentSigning(); err == nil {
		t.Error("CurrentSigning() should fail with only a PENDING key")
	}
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	if _, err := registry.Verification(key.KID); err == nil {
		t.Error("Verification() should not return a PENDING key")
	}
}

func TestRegistryActivateDeprecatesCurrentActive(t *testing.T) {
	registry, repo := newTestRegistry(t)
	ctx := context.Background()

	old := testKey(t, "k-2026-q1-aaaaaaaa", types.KeyStatusActive, time.Now().Add(-time.Hour))
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("Create old: %v", err)
	}
	next := testKey(t, "k-2026-q2-bbbbbbbb", types.KeyStatusPending, time.Now())
	if err := repo.Create(ctx, next); err != nil {
		t.Fatalf("Create next: %v", err)
	}

	if err := registry.Activate(ctx, next.KID); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	storedOld, _ := repo.GetByKID(ctx, old.KID)
	if storedOld.Status != types.KeyStatusDeprecated {
		t.Errorf("old key status = %s, want DEPRECATED", storedOld.Status)
	}
	storedNext, _ := repo.GetByKID(ctx, next.KID)
	if storedNext.Status != types.KeyStatusActive {
		t.Errorf("new key status = %s, want ACTIVE", storedNext.Status)
	}

	signing, err := registry.CurrentSigning()
	if err != nil {
		t.Fatalf("CurrentSigning: %v", err)
	}
	if signing.KID() != next.KID {
		t.Errorf("CurrentSigning() kid = %s, want %s", signing.KID(), next.KID)
	}

	// Both keys still verify.
	for _, kid := range []string{old.KID, next.KID} {
		if _, err := registry.Verification(kid); err != nil {
			t.Errorf("Verification(%s): %v", kid, err)
		}
	}
}

func TestRegistryActivateIsIdempotent(t *testing.T) {
	registry, repo := newTestRegistry(t)
	ctx := context.Background()

	key := testKey(t, "k-2026-q1-cccccccc", types.KeyStatusActive, time.Now())
	if err := repo.Create(ctx, key); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := registry.Activate(ctx, key.KID); err != nil {
		t.Errorf("Activate on already-active key = %v, want nil", err)
	}

	stored, _ := repo.GetByKID(ctx, key.KID)
	if stored.Status != types.KeyStatusActive {
		t.Errorf("status = %s, want ACTIVE", stored.Status)
	}
}

func TestRegistryLifecycleViolations(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		from types.KeyStatus
		op   func(*Registry, string) error
	}{
		{"activate retired", types.KeyStatusRetired, func(r *Registry, kid string) error {
			return r.Activate(ctx, kid)
		}},
		{"activate deprecated", types.KeyStatusDeprecated, func(r *Registry, kid string) error {
			return r.Activate(ctx, kid)
		}},
		{"deprecate pending", types.KeyStatusPending, func(r *Registry, kid string) error {
			return r.Deprecate(ctx, kid)
		}},
		{"retire active", types.KeyStatusActive, func(r *Registry, kid string) error {
			return r.Retire(ctx, kid)
		}},
		{"delete active", types.KeyStatusActive, func(r *Registry, kid string) error {
			return r.Delete(ctx, kid)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, repo := newTestRegistry(t)
			key := testKey(t, "k-2026-q1-deadbeef", tt.from, time.Now())
			if err := repo.Create(ctx, key); err != nil {
				t.Fatalf("Create: %v", err)
			}

			err := tt.op(registry, key.KID)
			if !apperrors.Is(err, apperrors.ErrStateViolation) {
				t.Errorf("got %v, want ErrStateViolation", err)
			}
		})
	}
}

func TestRegistryRetireRemovesFromVerification(t *testing.T) {
	registry, repo := newTestRegistry(t)
	ctx := context.Background()

	key := testKey(t, "k-2025-q4-11111111", types.KeyStatusDeprecated, time.Now())
	if err := repo.Create(ctx, key); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	if _, err := registry.Verification(key.KID); err != nil {
		t.Fatalf("Verification before retire: %v", err)
	}

	if err := registry.Retire(ctx, key.KID); err != nil {
		t.Fatalf("Retire: %v", err)
	}

	if _, err := registry.Verification(key.KID); !apperrors.Is(err, apperrors.ErrKeyNotFound) {
		t.Errorf("Verification after retire = %v, want ErrKeyNotFound", err)
	}

	// Retired keys can be deleted.
	if err := registry.Delete(ctx, key.KID); err != nil {
		t.Errorf("Delete retired key: %v", err)
	}
}

func TestRegistryPendingKeyRetiresDirectly(t *testing.T) {
	registry, repo := newTestRegistry(t)
	ctx := context.Background()

	key := testKey(t, "k-2026-q1-22222222", types.KeyStatusPending, time.Now())
	if err := repo.Create(ctx, key); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := registry.Retire(ctx, key.KID); err != nil {
		t.Errorf("Retire pending key: %v", err)
	}
	stored, _ := repo.GetByKID(ctx, key.KID)
	if stored.Status != types.KeyStatusRetired {
		t.Errorf("status = %s, want RETIRED", stored.Status)
	}
}

func TestRegistryPublicJWKS(t *testing.T) {
	registry, repo := newTestRegistry(t)
	ctx := context.Background()

	active := testKey(t, "k-2026-q1-33333333", types.KeyStatusActive, time.Now())
	deprecated := testKey(t, "k-2025-q4-44444444", types.KeyStatusDeprecated, time.Now().Add(-time.Hour))
	pending := testKey(t, "k-2026-q2-55555555", types.KeyStatusPending, time.Now())
	for _, k := range []*types.SigningKey{active, deprecated, pending} {
		if err := repo.Create(ctx, k); err != nil {
			t.Fatalf("Create %s: %v", k.KID, err)
		}
	}
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	set := registry.PublicJWKS()
	if len(set.Keys) != 2 {
		t.Fatalf("JWKS has %d keys, want 2", len(set.Keys))
	}

	kids := map[string]bool{}
	for _, k := range set.Keys {
		kids[k.KeyID] = true
		if k.Use != "sig" {
			t.Errorf("key %s use = %q, want sig", k.KeyID, k.Use)
		}
		if k.Algorithm != AlgorithmRS256 {
			t.Errorf("key %s alg = %q, want %s", k.KeyID, k.Algorithm, AlgorithmRS256)
		}
	}
	if !kids[active.KID] || !kids[deprecated.KID] {
		t.Errorf("JWKS kids = %v, want active and deprecated", kids)
	}
}

func TestRegistryStatus(t *testing.T) {
	registry, repo := newTestRegistry(t)
	ctx := context.Background()

	status := registry.Status()
	if status.Initialized {
		t.Error("fresh registry should not report initialized")
	}

	key := testKey(t, "k-2026-q1-66666666", types.KeyStatusActive, time.Now())
	if err := repo.Create(ctx, key); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	status = registry.Status()
	if !status.Initialized {
		t.Error("registry should report initialized after refresh")
	}
	if status.ActiveKID != key.KID {
		t.Errorf("ActiveKID = %s, want %s", status.ActiveKID, key.KID)
	}
	if status.VerificationKeys != 1 {
		t.Errorf("VerificationKeys = %d, want 1", status.VerificationKeys)
	}
}
