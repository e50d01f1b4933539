package apikeys

import (
	"context"
	"encoding/base64"
	"regexp"
	"testing"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/config"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/testutil"
)

func newKeyService(cfg config.APIKeyConfig) (*Service, *testutil.MockAPIKeyRepository) {
	repo := testutil.NewMockAPIKeyRepository()
	return NewService(cfg, repo, logging.NewTestLogger()), repo
}

func ttlPtr(d time.Duration) *time.Duration { return &d }

func TestGenerateKeyFormat(t *testing.T) {
	a, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if len(a) != 43 {
		t.Errorf("len(key) = %d, want 43", len(a))
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("key is not unpadded base64url: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("decoded key = %d bytes, want 32", len(raw))
	}

	b, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if a == b {
		t.Error("two generated keys are identical")
	}
}

func TestNewKeyIDFormat(t *testing.T) {
	id, err := NewKeyID()
	if err != nil {
		t.Fatalf("NewKeyID() error = %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{8}$`).MatchString(id) {
		t.Errorf("NewKeyID() = %q, want 8 lowercase hex characters", id)
	}
}

func TestHashKey(t *testing.T) {
	const want = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	if got := HashKey("test"); got != want {
		t.Errorf("HashKey(test) = %s, want %s", got, want)
	}
}

func TestCreateReturnsPlaintextOnce(t *testing.T) {
	svc, _ := newKeyService(config.APIKeyConfig{})
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{Name: "ci", Permissions: []string{"deploy"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(created.Plaintext) != 43 {
		t.Errorf("plaintext length = %d, want 43", len(created.Plaintext))
	}
	if created.Key.KeyHash != HashKey(created.Plaintext) {
		t.Error("stored hash does not match the returned plaintext")
	}
	if !regexp.MustCompile(`^[0-9a-f]{8}$`).MatchString(created.Key.KeyID) {
		t.Errorf("KeyID = %q, want 8 hex characters", created.Key.KeyID)
	}

	got, err := svc.Validate(ctx, created.Plaintext)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.KeyID != created.Key.KeyID {
		t.Errorf("Validate() returned key %s, want %s", got.KeyID, created.Key.KeyID)
	}
}

func TestCreateRequiresName(t *testing.T) {
	svc, _ := newKeyService(config.APIKeyConfig{})

	if _, err := svc.Create(context.Background(), CreateRequest{}); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Create() without name error = %v, want validation error", err)
	}
}

func TestTTLPolicy(t *testing.T) {
	tests := []struct {
		name    string
		maxTTL  time.Duration
		ttl     *time.Duration
		wantErr bool
		expires bool
	}{
		{"no policy, no ttl", 0, nil, false, false},
		{"no policy, with ttl", 0, ttlPtr(time.Hour), false, true},
		{"no policy, negative ttl", 0, ttlPtr(-time.Hour), true, false},
		{"policy requires ttl", time.Hour, nil, true, false},
		{"policy rejects long ttl", time.Hour, ttlPtr(2 * time.Hour), true, false},
		{"policy accepts short ttl", time.Hour, ttlPtr(30 * time.Minute), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newKeyService(config.APIKeyConfig{MaxTTL: tt.maxTTL})
			created, err := svc.Create(context.Background(), CreateRequest{Name: "k", TTL: tt.ttl})
			if tt.wantErr {
				if !apperrors.Is(err, apperrors.ErrValidation) {
					t.Fatalf("Create() error = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if got := created.Key.ExpiresAt != nil; got != tt.expires {
				t.Errorf("ExpiresAt set = %v, want %v", got, tt.expires)
			}
		})
	}
}

func TestValidateRejectsBadKeys(t *testing.T) {
	svc, _ := newKeyService(config.APIKeyConfig{})
	ctx := context.Background()

	if _, err := svc.Validate(ctx, ""); !apperrors.Is(err, apperrors.ErrAuthInvalid) {
		t.Errorf("Validate(\"\") error = %v, want auth error", err)
	}
	if _, err := svc.Validate(ctx, "no-such-key-material-at-all-1234567890123"); !apperrors.Is(err, apperrors.ErrAuthInvalid) {
		t.Errorf("Validate(unknown) error = %v, want auth error", err)
	}

	created, err := svc.Create(ctx, CreateRequest{Name: "doomed"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := svc.Revoke(ctx, created.Key.KeyID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := svc.Validate(ctx, created.Plaintext); !apperrors.Is(err, apperrors.ErrAuthInvalid) {
		t.Errorf("Validate(revoked) error = %v, want auth error", err)
	}

	expiring, err := svc.Create(ctx, CreateRequest{Name: "brief", TTL: ttlPtr(time.Millisecond)})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := svc.Validate(ctx, expiring.Plaintext); !apperrors.Is(err, apperrors.ErrAuthInvalid) {
		t.Errorf("Validate(expired) error = %v, want auth error", err)
	}
}

func TestValidateUpdatesLastUsed(t *testing.T) {
	svc, repo := newKeyService(config.APIKeyConfig{})
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{Name: "ci"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.Validate(ctx, created.Plaintext); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	stored, err := repo.GetByKeyID(ctx, created.Key.KeyID)
	if err != nil {
		t.Fatalf("GetByKeyID() error = %v", err)
	}
	if stored.LastUsedAt == nil {
		t.Error("LastUsedAt not recorded by Validate()")
	}
}

func TestRevokeUnknownKey(t *testing.T) {
	svc, _ := newKeyService(config.APIKeyConfig{})

	if err := svc.Revoke(context.Background(), "deadbeef"); !apperrors.Is(err, apperrors.ErrAPIKeyNotFound) {
		t.Errorf("Revoke(unknown) error = %v, want not found", err)
	}
	if err := svc.Revoke(context.Background(), ""); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Revoke(\"\") error = %v, want validation error", err)
	}
}

func TestCreateWithKeyLengthFloor(t *testing.T) {
	svc, _ := newKeyService(config.APIKeyConfig{})
	ctx := context.Background()

	if _, err := svc.CreateWithKey(ctx, "too-short", CreateRequest{Name: "k"}); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("CreateWithKey(short) error = %v, want validation error", err)
	}

	plaintext := "exactly-thirty-two-characters-ok"
	if len(plaintext) != 32 {
		t.Fatalf("fixture plaintext is %d characters", len(plaintext))
	}
	created, err := svc.CreateWithKey(ctx, plaintext, CreateRequest{Name: "imported"})
	if err != nil {
		t.Fatalf("CreateWithKey() error = %v", err)
	}
	if created.Plaintext != plaintext {
		t.Error("CreateWithKey() did not preserve the supplied plaintext")
	}
}
