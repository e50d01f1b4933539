// Package apikeys manages gateway API keys: random plaintext shown
// once at creation, SHA-256 hash at rest, validation by hash lookup.
package apikeys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/config"
	"github.com/mwistrand/aussie-sub004/internal/db"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/monitoring"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

const (
	// keyBytes of randomness per plaintext key, 43 characters once
	// base64url encoded.
	keyBytes = 32
	// keyIDBytes of randomness per display id, 8 hex characters.
	keyIDBytes = 4
	// minSuppliedKeyLen is the floor for operator-supplied plaintexts.
	minSuppliedKeyLen = 32
)

// GenerateKey returns a fresh plaintext API key.
func GenerateKey() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", apperrors.ErrInternal.WithMessage("failed to generate API key").WithError(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewKeyID returns a random 8 character hex display id.
func NewKeyID() (string, error) {
	buf := make([]byte, keyIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", apperrors.ErrInternal.WithMessage("failed to generate key id").WithError(err)
	}
	return hex.EncodeToString(buf), nil
}

// HashKey returns the hex SHA-256 digest stored in place of the
// plaintext.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// CreateRequest describes a key to mint. A nil TTL means no expiration
// where policy allows it.
type CreateRequest struct {
	Name        string
	Permissions []string
	TTL         *time.Duration
	CreatedBy   string
}

// CreatedKey pairs the stored record with the plaintext. The plaintext
// exists only in this value and is never retrievable again.
type CreatedKey struct {
	Key       *types.APIKey `json:"key"`
	Plaintext string        `json:"plaintext"`
}

// Service implements API key lifecycle and validation.
type Service struct {
	cfg    config.APIKeyConfig
	repo   db.APIKeyRepositoryInterface
	logger logging.Logger
}

func NewService(cfg config.APIKeyConfig, repo db.APIKeyRepositoryInterface, logger logging.Logger) *Service {
	return &Service{
		cfg:    cfg,
		repo:   repo,
		logger: logger.WithField("component", "apikeys"),
	}
}

// Create mints a key with generated plaintext.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreatedKey, error) {
	plaintext, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	return s.create(ctx, plaintext, req)
}

// CreateWithKey stores an operator-supplied plaintext, used by
// bootstrap and key import. The plaintext must be long enough to
// resist guessing.
func (s *Service) CreateWithKey(ctx context.Context, plaintext string, req CreateRequest) (*CreatedKey, error) {
	if len(plaintext) < minSuppliedKeyLen {
		return nil, apperrors.ErrValidation.WithMessage("supplied API key must be at least 32 characters")
	}
	return s.create(ctx, plaintext, req)
}

func (s *Service) create(ctx context.Context, plaintext string, req CreateRequest) (*CreatedKey, error) {
	if req.Name == "" {
		return nil, apperrors.ErrValidation.WithMessage("API key name is required")
	}
	expiresAt, err := s.resolveExpiry(req.TTL)
	if err != nil {
		return nil, err
	}

	key := &types.APIKey{
		Name:        req.Name,
		KeyHash:     HashKey(plaintext),
		Permissions: append([]string(nil), req.Permissions...),
		CreatedBy:   req.CreatedBy,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   expiresAt,
	}

	// The 8 hex chars can collide; retry with a fresh id rather than
	// surfacing a unique violation to the caller.
	for attempt := 0; ; attempt++ {
		key.KeyID, err = NewKeyID()
		if err != nil {
			return nil, err
		}
		err = s.repo.Create(ctx, key)
		if err == nil {
			break
		}
		if attempt < 3 && (apperrors.IsUniqueViolation(err) || apperrors.Is(err, apperrors.ErrAlreadyExists)) {
			continue
		}
		return nil, err
	}

	s.logger.Info(ctx, "API key created",
		logging.String("key_id", key.KeyID),
		logging.String("name", key.Name),
		logging.Bool("expires", key.ExpiresAt != nil))
	return &CreatedKey{Key: key, Plaintext: plaintext}, nil
}

func (s *Service) resolveExpiry(ttl *time.Duration) (*time.Time, error) {
	if s.cfg.MaxTTL > 0 {
		if ttl == nil {
			return nil, apperrors.ErrValidation.WithMessage("API key expiration is required by policy").WithDetails(map[string]interface{}{
				"max_ttl": s.cfg.MaxTTL.String(),
			})
		}
		if *ttl > s.cfg.MaxTTL {
			return nil, apperrors.ErrValidation.WithMessage("requested API key lifetime exceeds the allowed maximum").WithDetails(map[string]interface{}{
				"max_ttl": s.cfg.MaxTTL.String(),
			})
		}
	}
	if ttl == nil {
		return nil, nil
	}
	if *ttl <= 0 {
		return nil, apperrors.ErrValidation.WithMessage("API key lifetime must be positive")
	}
	at := time.Now().UTC().Add(*ttl)
	return &at, nil
}

// Validate authenticates a plaintext key. The same generic error comes
// back for unknown, revoked and expired keys.
func (s *Service) Validate(ctx context.Context, plaintext string) (*types.APIKey, error) {
	if plaintext == "" {
		monitoring.RecordAPIKeyValidation(false)
		return nil, apperrors.ErrAuthInvalid.WithMessage("invalid API key")
	}

	key, err := s.repo.GetByHash(ctx, HashKey(plaintext))
	if err != nil {
		monitoring.RecordAPIKeyValidation(false)
		if apperrors.Is(err, apperrors.ErrAPIKeyNotFound) {
			return nil, apperrors.ErrAuthInvalid.WithMessage("invalid API key")
		}
		return nil, err
	}
	if !key.IsValid(time.Now()) {
		monitoring.RecordAPIKeyValidation(false)
		return nil, apperrors.ErrAuthInvalid.WithMessage("invalid API key")
	}

	monitoring.RecordAPIKeyValidation(true)
	if err := s.repo.UpdateLastUsed(ctx, key.KeyID, time.Now().UTC()); err != nil {
		s.logger.Warn(ctx, "Failed to update API key last-used timestamp",
			logging.String("key_id", key.KeyID),
			logging.Error("error", err))
	}
	return key, nil
}

// Get returns one key record by display id.
func (s *Service) Get(ctx context.Context, keyID string) (*types.APIKey, error) {
	return s.repo.GetByKeyID(ctx, keyID)
}

// List returns all key records, revoked ones included.
func (s *Service) List(ctx context.Context) ([]*types.APIKey, error) {
	return s.repo.List(ctx)
}

// Revoke marks the key revoked. Revocation is permanent.
func (s *Service) Revoke(ctx context.Context, keyID string) error {
	if keyID == "" {
		return apperrors.ErrValidation.WithMessage("key id is required")
	}
	if err := s.repo.MarkRevoked(ctx, keyID); err != nil {
		return err
	}
	s.logger.Info(ctx, "API key revoked", logging.String("key_id", keyID))
	return nil
}
