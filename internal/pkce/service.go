// Package pkce implements the S256 proof-key flow around authorization
// code exchanges: verifier generation, challenge storage keyed by OAuth
// state, and atomic one-time verification.
package pkce

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"time"

	"golang.org/x/oauth2"

	"github.com/mwistrand/aussie-sub004/internal/config"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/monitoring"
)

// MethodS256 is the only supported code challenge method.
const MethodS256 = "S256"

const (
	verifierBytes       = 64
	defaultChallengeTTL = 10 * time.Minute
)

// ValidateMethod rejects every challenge method except S256. The plain
// method defeats the point of PKCE and is refused outright.
func ValidateMethod(method string) error {
	if method != MethodS256 {
		return apperrors.ErrValidation.WithMessage("unsupported code challenge method, only S256 is accepted").WithDetails(map[string]interface{}{
			"method": method,
		})
	}
	return nil
}

// GenerateVerifier returns a fresh high-entropy code verifier.
func GenerateVerifier() (string, error) {
	buf := make([]byte, verifierBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", apperrors.ErrInternal.WithMessage("failed to generate code verifier").WithError(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ComputeChallenge derives the S256 challenge from a verifier.
func ComputeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// AuthCodeOptions returns the authorize-leg parameters for a challenge.
func AuthCodeOptions(challenge string) []oauth2.AuthCodeOption {
	return []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", MethodS256),
	}
}

// ExchangeOptions returns the token-leg parameter carrying the verifier.
func ExchangeOptions(verifier string) []oauth2.AuthCodeOption {
	return []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_verifier", verifier),
	}
}

// Service stores and verifies challenges through a pluggable Store.
type Service struct {
	cfg    config.PKCEConfig
	store  Store
	logger logging.Logger
}

func NewService(cfg config.PKCEConfig, store Store, logger logging.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		logger: logger.WithField("component", "pkce"),
	}
}

func (s *Service) Enabled() bool {
	return s.cfg.Enabled
}

// Required reports whether exchanges without a PKCE challenge must be
// rejected.
func (s *Service) Required() bool {
	return s.cfg.Enabled && s.cfg.Required
}

// ChallengeTTL is the effective challenge lifetime.
func (s *Service) ChallengeTTL() time.Duration {
	if s.cfg.ChallengeTTL > 0 {
		return s.cfg.ChallengeTTL
	}
	return defaultChallengeTTL
}

// StoreChallenge saves a challenge under the OAuth state for the
// configured TTL.
func (s *Service) StoreChallenge(ctx context.Context, state, challenge string) error {
	if state == "" {
		return apperrors.ErrValidation.WithMessage("state is required")
	}
	if challenge == "" {
		return apperrors.ErrValidation.WithMessage("code challenge is required")
	}

	if err := s.store.Store(ctx, state, challenge, s.ChallengeTTL()); err != nil {
		return err
	}
	s.logger.Debug(ctx, "Stored PKCE challenge", logging.String("state", state))
	return nil
}

// VerifyChallenge consumes the challenge stored for state and checks
// the verifier against it. The challenge is gone after this call
// whether or not the verifier matched; failures of any kind report
// false rather than an error.
func (s *Service) VerifyChallenge(ctx context.Context, state, verifier string) bool {
	if state == "" || verifier == "" {
		monitoring.RecordPKCEVerification(false)
		return false
	}

	stored, found, err := s.store.Consume(ctx, state)
	if err != nil {
		s.logger.Warn(ctx, "PKCE challenge lookup failed",
			logging.String("state", state),
			logging.Error("error", err))
		monitoring.RecordPKCEVerification(false)
		return false
	}
	if !found {
		monitoring.RecordPKCEVerification(false)
		return false
	}

	computed := ComputeChallenge(verifier)
	ok := subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1
	if !ok {
		s.logger.Warn(ctx, "PKCE verifier mismatch", logging.String("state", state))
	}
	monitoring.RecordPKCEVerification(ok)
	return ok
}
