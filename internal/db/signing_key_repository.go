package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/crypto"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// SigningKeyRepository persists signing keys with the private PEM sealed
// by the configured encryptor.
type SigningKeyRepository struct {
	db        DBTX
	encryptor *crypto.Encryptor
}

func NewSigningKeyRepository(db DBTX, encryptor *crypto.Encryptor) *SigningKeyRepository {
	return &SigningKeyRepository{db: db, encryptor: encryptor}
}

const signingKeyColumns = `kid, algorithm, private_pem, public_pem, status, created_at, activated_at, deprecated_at, retired_at`

func (r *SigningKeyRepository) Create(ctx context.Context, key *types.SigningKey) error {
	sealed, err := r.encryptor.EncryptString(key.PrivatePEM)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO signing_keys (kid, algorithm, private_pem, public_pem, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.ExecContext(ctx, query,
		key.KID, key.Algorithm, sealed, key.PublicPEM, key.Status, key.CreatedAt)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	return nil
}

func (r *SigningKeyRepository) GetActive(ctx context.Context) (*types.SigningKey, error) {
	query := `SELECT ` + signingKeyColumns + ` FROM signing_keys WHERE status = 'ACTIVE'`
	key, err := r.scanKey(r.db.QueryRowContext(ctx, query))
	if err != nil {
		return nil, apperrors.WrapDBError(err, apperrors.ErrKeyNotFound)
	}
	return key, nil
}

func (r *SigningKeyRepository) GetByKID(ctx context.Context, kid string) (*types.SigningKey, error) {
	query := `SELECT ` + signingKeyColumns + ` FROM signing_keys WHERE kid = $1`
	key, err := r.scanKey(r.db.QueryRowContext(ctx, query, kid))
	if err != nil {
		return nil, apperrors.WrapDBError(err, apperrors.ErrKeyNotFound)
	}
	return key, nil
}

func (r *SigningKeyRepository) ListByStatus(ctx context.Context, status types.KeyStatus) ([]*types.SigningKey, error) {
	query := `SELECT ` + signingKeyColumns + ` FROM signing_keys WHERE status = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	return r.collectKeys(rows)
}

func (r *SigningKeyRepository) ListAll(ctx context.Context) ([]*types.SigningKey, error) {
	query := `SELECT ` + signingKeyColumns + ` FROM signing_keys ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	return r.collectKeys(rows)
}

func (r *SigningKeyRepository) ListForVerification(ctx context.Context) ([]*types.SigningKey, error) {
	query := `SELECT ` + signingKeyColumns + ` FROM signing_keys
		WHERE status IN ('ACTIVE', 'DEPRECATED') ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	return r.collectKeys(rows)
}

// UpdateStatus moves a key to the given state, stamping the matching
// lifecycle timestamp column.
func (r *SigningKeyRepository) UpdateStatus(ctx context.Context, kid string, status types.KeyStatus, at time.Time) error {
	var query string
	switch status {
	case types.KeyStatusActive:
		query = `UPDATE signing_keys SET status = $1, activated_at = $2 WHERE kid = $3`
	case types.KeyStatusDeprecated:
		query = `UPDATE signing_keys SET status = $1, deprecated_at = $2 WHERE kid = $3`
	case types.KeyStatusRetired:
		query = `UPDATE signing_keys SET status = $1, retired_at = $2 WHERE kid = $3`
	default:
		return apperrors.ErrValidation.WithMessage("cannot transition a key back to " + string(status))
	}

	result, err := r.db.ExecContext(ctx, query, status, at, kid)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	if affected == 0 {
		return apperrors.ErrKeyNotFound
	}
	return nil
}

func (r *SigningKeyRepository) Delete(ctx context.Context, kid string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM signing_keys WHERE kid = $1`, kid)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	if affected == 0 {
		return apperrors.ErrKeyNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *SigningKeyRepository) scanKey(row rowScanner) (*types.SigningKey, error) {
	key := &types.SigningKey{}
	var sealed string
	var activatedAt, deprecatedAt, retiredAt sql.NullTime

	err := row.Scan(&key.KID, &key.Algorithm, &sealed, &key.PublicPEM, &key.Status,
		&key.CreatedAt, &activatedAt, &deprecatedAt, &retiredAt)
	if err != nil {
		return nil, err
	}

	pem, err := r.encryptor.DecryptString(sealed)
	if err != nil {
		return nil, err
	}
	key.PrivatePEM = pem

	if activatedAt.Valid {
		key.ActivatedAt = &activatedAt.Time
	}
	if deprecatedAt.Valid {
		key.DeprecatedAt = &deprecatedAt.Time
	}
	if retiredAt.Valid {
		key.RetiredAt = &retiredAt.Time
	}
	return key, nil
}

func (r *SigningKeyRepository) collectKeys(rows *sql.Rows) ([]*types.SigningKey, error) {
	defer rows.Close()

	var keys []*types.SigningKey
	for rows.Next() {
		key, err := r.scanKey(rows)
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
