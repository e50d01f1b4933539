package db

import (
	"context"
	"time"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// TokenRevocationRepository is the authoritative revocation store backing
// the bloom filter and local cache tiers.
type TokenRevocationRepository struct {
	db DBTX
}

func NewTokenRevocationRepository(db DBTX) *TokenRevocationRepository {
	return &TokenRevocationRepository{db: db}
}

// GetRevokedToken returns the revocation record for jti, or nil when the
// token has not been revoked (or the record has already expired).
func (r *TokenRevocationRepository) GetRevokedToken(ctx context.Context, jti string) (*types.RevokedToken, error) {
	query := `SELECT jti, expires_at, revoked_at FROM revoked_tokens
		WHERE jti = $1 AND expires_at > NOW()`

	rec := &types.RevokedToken{}
	err := r.db.QueryRowContext(ctx, query, jti).Scan(&rec.JTI, &rec.ExpiresAt, &rec.RevokedAt)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, apperrors.WrapDBError(err, nil)
	}
	return rec, nil
}

// GetUserRevocation returns the active revocation rule for userID, or nil.
func (r *TokenRevocationRepository) GetUserRevocation(ctx context.Context, userID string) (*types.UserRevocation, error) {
	query := `SELECT user_id, issued_before, expires_at, revoked_at FROM user_revocations
		WHERE user_id = $1 AND expires_at > NOW()`

	rec := &types.UserRevocation{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&rec.UserID, &rec.IssuedBefore, &rec.ExpiresAt, &rec.RevokedAt)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, apperrors.WrapDBError(err, nil)
	}
	return rec, nil
}

// Revoke records a single token revocation. Revoking an already revoked
// token extends its record.
func (r *TokenRevocationRepository) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	query := `
		INSERT INTO revoked_tokens (jti, expires_at, revoked_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (jti) DO UPDATE SET expires_at = GREATEST(revoked_tokens.expires_at, EXCLUDED.expires_at)
	`
	if _, err := r.db.ExecContext(ctx, query, jti, expiresAt); err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	return nil
}

// RevokeUser invalidates every token userID obtained before issuedBefore.
// A newer rule replaces an older one.
func (r *TokenRevocationRepository) RevokeUser(ctx context.Context, userID string, issuedBefore, expiresAt time.Time) error {
	query := `
		INSERT INTO user_revocations (user_id, issued_before, expires_at, revoked_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			issued_before = GREATEST(user_revocations.issued_before, EXCLUDED.issued_before),
			expires_at = GREATEST(user_revocations.expires_at, EXCLUDED.expires_at),
			revoked_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, userID, issuedBefore, expiresAt); err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	return nil
}

// StreamRevokedTokens enumerates all unexpired token revocations.
func (r *TokenRevocationRepository) StreamRevokedTokens(ctx context.Context, fn func(types.RevokedToken) error) error {
	query := `SELECT jti, expires_at, revoked_at FROM revoked_tokens WHERE expires_at > NOW()`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	defer rows.Close()

	for rows.Next() {
		var rec types.RevokedToken
		if err := rows.Scan(&rec.JTI, &rec.ExpiresAt, &rec.RevokedAt); err != nil {
			return apperrors.WrapDBError(err, nil)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	return nil
}

// StreamUserRevocations enumerates all unexpired user revocation rules.
func (r *TokenRevocationRepository) StreamUserRevocations(ctx context.Context, fn func(types.UserRevocation) error) error {
	query := `SELECT user_id, issued_before, expires_at, revoked_at FROM user_revocations WHERE expires_at > NOW()`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	defer rows.Close()

	for rows.Next() {
		var rec types.UserRevocation
		if err := rows.Scan(&rec.UserID, &rec.IssuedBefore, &rec.ExpiresAt, &rec.RevokedAt); err != nil {
			return apperrors.WrapDBError(err, nil)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	return nil
}

// DeleteExpired reclaims revocation rows whose enforcement window has
// passed. Returns the number of rows removed.
func (r *TokenRevocationRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	result, err := r.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, apperrors.WrapDBError(err, nil)
	}
	if n, err := result.RowsAffected(); err == nil {
		total += n
	}

	result, err = r.db.ExecContext(ctx, `DELETE FROM user_revocations WHERE expires_at <= $1`, before)
	if err != nil {
		return total, apperrors.WrapDBError(err, nil)
	}
	if n, err := result.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}
