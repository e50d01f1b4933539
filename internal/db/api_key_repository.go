package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// APIKeyRepository stores gateway API keys. Only the SHA-256 hash of the
// plaintext ever reaches this layer.
type APIKeyRepository struct {
	db DBTX
}

func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

const apiKeyColumns = `key_id, name, key_hash, permissions, created_by, created_at, expires_at, last_used_at, revoked`

func (r *APIKeyRepository) Create(ctx context.Context, key *types.APIKey) error {
	query := `
		INSERT INTO api_keys (key_id, name, key_hash, permissions, created_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		key.KeyID, key.Name, key.KeyHash, pq.Array(key.Permissions),
		nullableString(key.CreatedBy), key.CreatedAt, key.ExpiresAt)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	return nil
}

// GetByHash looks up an unrevoked key by its hash. Expiry is checked by
// the caller so the reason can be distinguished.
func (r *APIKeyRepository) GetByHash(ctx context.Context, keyHash string) (*types.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1 AND revoked = FALSE`
	key, err := scanAPIKey(r.db.QueryRowContext(ctx, query, keyHash))
	if err != nil {
		return nil, apperrors.WrapDBError(err, apperrors.ErrAPIKeyNotFound)
	}
	return key, nil
}

func (r *APIKeyRepository) GetByKeyID(ctx context.Context, keyID string) (*types.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_id = $1`
	key, err := scanAPIKey(r.db.QueryRowContext(ctx, query, keyID))
	if err != nil {
		return nil, apperrors.WrapDBError(err, apperrors.ErrAPIKeyNotFound)
	}
	return key, nil
}

func (r *APIKeyRepository) List(ctx context.Context) ([]*types.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	defer rows.Close()

	var keys []*types.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, apperrors.WrapDBError(err, nil)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	return keys, nil
}

func (r *APIKeyRepository) MarkRevoked(ctx context.Context, keyID string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE api_keys SET revoked = TRUE WHERE key_id = $1`, keyID)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	if affected == 0 {
		return apperrors.ErrAPIKeyNotFound
	}
	return nil
}

func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, keyID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE key_id = $2`, at, keyID)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	return nil
}

// HasAdminKey reports whether any live key carries the wildcard or the
// canonical admin permission.
func (r *APIKeyRepository) HasAdminKey(ctx context.Context) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM api_keys
			WHERE revoked = FALSE
			  AND (expires_at IS NULL OR expires_at > NOW())
			  AND permissions && $1
		)
	`
	var exists bool
	err := r.db.QueryRowContext(ctx, query,
		pq.Array([]string{types.PermissionWildcard, types.PermissionAdmin})).Scan(&exists)
	if err != nil {
		return false, apperrors.WrapDBError(err, nil)
	}
	return exists, nil
}

func scanAPIKey(row rowScanner) (*types.APIKey, error) {
	key := &types.APIKey{}
	var createdBy sql.NullString
	var expiresAt, lastUsedAt sql.NullTime

	err := row.Scan(&key.KeyID, &key.Name, &key.KeyHash, pq.Array(&key.Permissions),
		&createdBy, &key.CreatedAt, &expiresAt, &lastUsedAt, &key.Revoked)
	if err != nil {
		return nil, err
	}

	if createdBy.Valid {
		key.CreatedBy = createdBy.String
	}
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		key.LastUsedAt = &lastUsedAt.Time
	}
	return key, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
