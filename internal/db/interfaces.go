package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/types"
)

// DBTX is an interface that both *sql.DB and *sql.Tx satisfy.
// This allows repositories to work with either a direct database connection
// or within a transaction context.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Ensure *sql.DB and *sql.Tx implement DBTX at compile time
var (
	_ DBTX = (*sql.DB)(nil)
	_ DBTX = (*sql.Tx)(nil)
)

// SigningKeyRepositoryInterface persists internal JWS signing keys.
// PrivatePEM is stored encrypted when an encryption key is configured.
type SigningKeyRepositoryInterface interface {
	Create(ctx context.Context, key *types.SigningKey) error
	GetActive(ctx context.Context) (*types.SigningKey, error)
	GetByKID(ctx context.Context, kid string) (*types.SigningKey, error)
	ListByStatus(ctx context.Context, status types.KeyStatus) ([]*types.SigningKey, error)
	ListAll(ctx context.Context) ([]*types.SigningKey, error)
	// ListForVerification returns keys whose signatures are still accepted
	// (ACTIVE and DEPRECATED).
	ListForVerification(ctx context.Context) ([]*types.SigningKey, error)
	UpdateStatus(ctx context.Context, kid string, status types.KeyStatus, at time.Time) error
	Delete(ctx context.Context, kid string) error
}

// TokenRevocationRepositoryInterface is the authoritative revocation store.
// Lookups return the matching record (nil when absent) so callers can cache
// the real expiry bounds.
type TokenRevocationRepositoryInterface interface {
	GetRevokedToken(ctx context.Context, jti string) (*types.RevokedToken, error)
	GetUserRevocation(ctx context.Context, userID string) (*types.UserRevocation, error)
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	RevokeUser(ctx context.Context, userID string, issuedBefore, expiresAt time.Time) error
	// StreamRevokedTokens and StreamUserRevocations enumerate current
	// (unexpired) revocations for bloom filter rebuilds. The callback is
	// invoked once per row; returning an error aborts the stream.
	StreamRevokedTokens(ctx context.Context, fn func(types.RevokedToken) error) error
	StreamUserRevocations(ctx context.Context, fn func(types.UserRevocation) error) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// APIKeyRepositoryInterface stores hashed API keys.
type APIKeyRepositoryInterface interface {
	Create(ctx context.Context, key *types.APIKey) error
	GetByHash(ctx context.Context, keyHash string) (*types.APIKey, error)
	GetByKeyID(ctx context.Context, keyID string) (*types.APIKey, error)
	List(ctx context.Context) ([]*types.APIKey, error)
	MarkRevoked(ctx context.Context, keyID string) error
	UpdateLastUsed(ctx context.Context, keyID string, at time.Time) error
	// HasAdminKey reports whether any unrevoked key carries the wildcard or
	// the canonical admin permission. Drives the bootstrap decision.
	HasAdminKey(ctx context.Context) (bool, error)
}

// FailedAttemptRepositoryInterface tracks windowed failure counters and
// lockouts per tracking key.
type FailedAttemptRepositoryInterface interface {
	// IncrementAttempts bumps the counter for key, resetting it first when
	// the stored window started before windowStart. Returns the new count.
	IncrementAttempts(ctx context.Context, key string, now, windowStart time.Time) (int, error)
	GetAttempts(ctx context.Context, key string) (*types.FailedAttempt, error)
	ClearAttempts(ctx context.Context, key string) error
	GetLockout(ctx context.Context, key string) (*types.Lockout, error)
	// UpsertLockout stores the lockout row; the caller supplies the new
	// LockoutCount, which replaces the stored one.
	UpsertLockout(ctx context.Context, lockout *types.Lockout) error
	ClearLockout(ctx context.Context, key string) error
	// ListLockouts returns lockouts still in force at now.
	ListLockouts(ctx context.Context, now time.Time) ([]*types.Lockout, error)
}

// PKCEChallengeRepositoryInterface is the database-backed challenge store.
type PKCEChallengeRepositoryInterface interface {
	Store(ctx context.Context, challenge *types.PKCEChallenge) error
	// Consume atomically removes and returns the challenge for state.
	// Returns nil when absent or already consumed.
	Consume(ctx context.Context, state string) (*types.PKCEChallenge, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// RoleRepositoryInterface stores role to permission mappings.
type RoleRepositoryInterface interface {
	Create(ctx context.Context, role *types.Role) error
	GetByID(ctx context.Context, id string) (*types.Role, error)
	List(ctx context.Context) ([]*types.Role, error)
	Update(ctx context.Context, role *types.Role) error
	Delete(ctx context.Context, id string) error
	// GetAllMappings returns the full id -> permissions map for the local
	// expansion snapshot.
	GetAllMappings(ctx context.Context) (map[string][]string, error)
}

// GroupRepositoryInterface stores group to permission mappings. Rows are
// encrypted at rest; the repository owns serialization and encryption.
type GroupRepositoryInterface interface {
	Create(ctx context.Context, group *types.Group) error
	GetByID(ctx context.Context, id string) (*types.Group, error)
	List(ctx context.Context) ([]*types.Group, error)
	Update(ctx context.Context, group *types.Group) error
	Delete(ctx context.Context, id string) error
	GetAllMappings(ctx context.Context) (map[string][]string, error)
}

// TranslationConfigRepositoryInterface stores per-issuer claim name
// configuration for the mapped claims provider.
type TranslationConfigRepositoryInterface interface {
	// GetByIssuer returns (nil, nil) when the issuer has no stored
	// configuration.
	GetByIssuer(ctx context.Context, issuer string) (*types.TranslationConfig, error)
	List(ctx context.Context) ([]*types.TranslationConfig, error)
	Upsert(ctx context.Context, cfg *types.TranslationConfig) error
	Delete(ctx context.Context, issuer string) error
}

// RotationAuditRepositoryInterface records the signing key audit trail.
type RotationAuditRepositoryInterface interface {
	Create(ctx context.Context, entry *types.RotationAudit) error
	ListRecent(ctx context.Context, limit int) ([]*types.RotationAudit, error)
	ListByKID(ctx context.Context, kid string, limit int) ([]*types.RotationAudit, error)
}

// Compile-time checks that the Postgres implementations satisfy the
// repository contracts consumed by the services.
var (
	_ SigningKeyRepositoryInterface        = (*SigningKeyRepository)(nil)
	_ TokenRevocationRepositoryInterface   = (*TokenRevocationRepository)(nil)
	_ APIKeyRepositoryInterface            = (*APIKeyRepository)(nil)
	_ FailedAttemptRepositoryInterface     = (*FailedAttemptRepository)(nil)
	_ PKCEChallengeRepositoryInterface     = (*PKCEChallengeRepository)(nil)
	_ RoleRepositoryInterface              = (*RoleRepository)(nil)
	_ GroupRepositoryInterface             = (*GroupRepository)(nil)
	_ TranslationConfigRepositoryInterface = (*TranslationConfigRepository)(nil)
	_ RotationAuditRepositoryInterface     = (*RotationAuditRepository)(nil)
)
