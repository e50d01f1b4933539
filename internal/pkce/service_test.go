package pkce

import (
	"context"
	"encoding/base64"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/mwistrand/aussie-sub004/internal/config"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/testutil"
)

func testPKCEConfig() config.PKCEConfig {
	return config.PKCEConfig{
		Enabled:      true,
		ChallengeTTL: 10 * time.Minute,
	}
}

func newPKCEService(store Store) *Service {
	return NewService(testPKCEConfig(), store, logging.NewTestLogger())
}

// Verifier and challenge from RFC 7636 appendix B.
const (
	rfcVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	rfcChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cw"
)

func TestComputeChallengeMatchesRFCVector(t *testing.T) {
	if got := ComputeChallenge(rfcVerifier); got != rfcChallenge {
		t.Errorf("ComputeChallenge() = %s, want %s", got, rfcChallenge)
	}
}

func TestGenerateVerifierFormat(t *testing.T) {
	a, err := GenerateVerifier()
	if err != nil {
		t.Fatalf("GenerateVerifier() error = %v", err)
	}
	if len(a) != 86 {
		t.Errorf("len(verifier) = %d, want 86", len(a))
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("verifier is not unpadded base64url: %v", err)
	}
	if len(raw) != 64 {
		t.Errorf("decoded verifier = %d bytes, want 64", len(raw))
	}

	b, err := GenerateVerifier()
	if err != nil {
		t.Fatalf("GenerateVerifier() error = %v", err)
	}
	if a == b {
		t.Error("two generated verifiers are identical")
	}
}

func TestValidateMethod(t *testing.T) {
	if err := ValidateMethod(MethodS256); err != nil {
		t.Errorf("ValidateMethod(S256) error = %v", err)
	}
	for _, method := range []string{"plain", "", "s256", "S512"} {
		if err := ValidateMethod(method); !apperrors.Is(err, apperrors.ErrValidation) {
			t.Errorf("ValidateMethod(%q) error = %v, want validation error", method, err)
		}
	}
}

func TestStoreChallengeValidation(t *testing.T) {
	svc := newPKCEService(NewMemoryStore())
	ctx := context.Background()

	if err := svc.StoreChallenge(ctx, "", rfcChallenge); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("StoreChallenge(no state) error = %v, want validation error", err)
	}
	if err := svc.StoreChallenge(ctx, "state-1", ""); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("StoreChallenge(no challenge) error = %v, want validation error", err)
	}
}

func TestVerifyChallengeAcrossStores(t *testing.T) {
	stores := []struct {
		name  string
		store Store
	}{
		{"memory", NewMemoryStore()},
		{"redis", NewRedisStore(testutil.NewMockCache())},
		{"database", NewDatabaseStore(testutil.NewMockPKCEChallengeRepository())},
	}
	for _, tt := range stores {
		t.Run(tt.name, func(t *testing.T) {
			svc := newPKCEService(tt.store)
			ctx := context.Background()

			if err := svc.StoreChallenge(ctx, "state-1", rfcChallenge); err != nil {
				t.Fatalf("StoreChallenge() error = %v", err)
			}
			if !svc.VerifyChallenge(ctx, "state-1", rfcVerifier) {
				t.Fatal("VerifyChallenge() = false for matching verifier")
			}
			// One-time use: the same state cannot verify twice.
			if svc.VerifyChallenge(ctx, "state-1", rfcVerifier) {
				t.Error("VerifyChallenge() = true for already consumed state")
			}
		})
	}
}

func TestVerifyChallengeMismatchStillConsumes(t *testing.T) {
	svc := newPKCEService(NewMemoryStore())
	ctx := context.Background()

	if err := svc.StoreChallenge(ctx, "state-1", rfcChallenge); err != nil {
		t.Fatalf("StoreChallenge() error = %v", err)
	}
	if svc.VerifyChallenge(ctx, "state-1", "wrong-verifier") {
		t.Fatal("VerifyChallenge() = true for wrong verifier")
	}
	if svc.VerifyChallenge(ctx, "state-1", rfcVerifier) {
		t.Error("VerifyChallenge() = true after a failed attempt consumed the challenge")
	}
}

func TestVerifyChallengeEdgeCases(t *testing.T) {
	svc := newPKCEService(NewMemoryStore())
	ctx := context.Background()

	if svc.VerifyChallenge(ctx, "never-stored", rfcVerifier) {
		t.Error("VerifyChallenge() = true for unknown state")
	}
	if svc.VerifyChallenge(ctx, "", rfcVerifier) {
		t.Error("VerifyChallenge() = true for blank state")
	}
	if svc.VerifyChallenge(ctx, "state-1", "") {
		t.Error("VerifyChallenge() = true for blank verifier")
	}
}

func TestVerifyChallengeExpired(t *testing.T) {
	cfg := testPKCEConfig()
	cfg.ChallengeTTL = 10 * time.Millisecond
	svc := NewService(cfg, NewMemoryStore(), logging.NewTestLogger())
	ctx := context.Background()

	if err := svc.StoreChallenge(ctx, "state-1", rfcChallenge); err != nil {
		t.Fatalf("StoreChallenge() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if svc.VerifyChallenge(ctx, "state-1", rfcVerifier) {
		t.Error("VerifyChallenge() = true for expired challenge")
	}
}

func TestVerifyChallengeConsumesExactlyOnce(t *testing.T) {
	svc := newPKCEService(NewMemoryStore())
	ctx := context.Background()

	if err := svc.StoreChallenge(ctx, "state-1", rfcChallenge); err != nil {
		t.Fatalf("StoreChallenge() error = %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- svc.VerifyChallenge(ctx, "state-1", rfcVerifier)
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for ok := range results {
		if ok {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Errorf("%d of %d concurrent verifications succeeded, want exactly 1", succeeded, workers)
	}
}

func TestAuthCodeOptionsCarryChallenge(t *testing.T) {
	conf := oauth2.Config{
		ClientID: "gateway",
		Endpoint: oauth2.Endpoint{AuthURL: "https://idp.example.com/authorize"},
	}
	url := conf.AuthCodeURL("state-1", AuthCodeOptions(rfcChallenge)...)

	if !strings.Contains(url, "code_challenge="+rfcChallenge) {
		t.Errorf("authorize URL missing code_challenge: %s", url)
	}
	if !strings.Contains(url, "code_challenge_method=S256") {
		t.Errorf("authorize URL missing code_challenge_method: %s", url)
	}
}

func TestExchangeOptionsCarryVerifier(t *testing.T) {
	opts := ExchangeOptions(rfcVerifier)
	if len(opts) != 1 {
		t.Fatalf("got %d options, want 1", len(opts))
	}
	want := oauth2.SetAuthURLParam("code_verifier", rfcVerifier)
	if !reflect.DeepEqual(opts[0], want) {
		t.Errorf("ExchangeOptions() = %#v, want code_verifier param", opts[0])
	}
}
