package db

import (
	"context"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// TranslationConfigRepository stores the per-issuer claim name overrides
// used by the mapped claims translation provider.
type TranslationConfigRepository struct {
	db DBTX
}

func NewTranslationConfigRepository(db DBTX) *TranslationConfigRepository {
	return &TranslationConfigRepository{db: db}
}

const translationConfigColumns = `issuer, roles_claim, groups_claim, permissions_claim, created_at, updated_at`

func (r *TranslationConfigRepository) GetByIssuer(ctx context.Context, issuer string) (*types.TranslationConfig, error) {
	query := `SELECT ` + translationConfigColumns + ` FROM translation_configs WHERE issuer = $1`

	cfg := &types.TranslationConfig{}
	err := r.db.QueryRowContext(ctx, query, issuer).Scan(
		&cfg.Issuer, &cfg.RolesClaim, &cfg.GroupsClaim, &cfg.PermissionsClaim,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, apperrors.WrapDBError(err, nil)
	}
	return cfg, nil
}

func (r *TranslationConfigRepository) List(ctx context.Context) ([]*types.TranslationConfig, error) {
	query := `SELECT ` + translationConfigColumns + ` FROM translation_configs ORDER BY issuer`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	defer rows.Close()

	var configs []*types.TranslationConfig
	for rows.Next() {
		cfg := &types.TranslationConfig{}
		if err := rows.Scan(&cfg.Issuer, &cfg.RolesClaim, &cfg.GroupsClaim,
			&cfg.PermissionsClaim, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
			return nil, apperrors.WrapDBError(err, nil)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	return configs, nil
}

func (r *TranslationConfigRepository) Upsert(ctx context.Context, cfg *types.TranslationConfig) error {
	query := `
		INSERT INTO translation_configs (issuer, roles_claim, groups_claim, permissions_claim, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (issuer) DO UPDATE SET
			roles_claim = EXCLUDED.roles_claim,
			groups_claim = EXCLUDED.groups_claim,
			permissions_claim = EXCLUDED.permissions_claim,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		cfg.Issuer, cfg.RolesClaim, cfg.GroupsClaim, cfg.PermissionsClaim,
		cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	return nil
}

func (r *TranslationConfigRepository) Delete(ctx context.Context, issuer string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM translation_configs WHERE issuer = $1`, issuer)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	if affected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
