package db

import (
	"context"

	"github.com/mwistrand/aussie-sub004/internal/crypto"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// GroupRepository stores group to permission mappings. Each row is a
// single encrypted blob; only the group id stays queryable in clear.
type GroupRepository struct {
	db        DBTX
	encryptor *crypto.Encryptor
}

func NewGroupRepository(db DBTX, encryptor *crypto.Encryptor) *GroupRepository {
	return &GroupRepository{db: db, encryptor: encryptor}
}

func (r *GroupRepository) Create(ctx context.Context, group *types.Group) error {
	sealed, err := r.encryptor.EncryptGroup(group)
	if err != nil {
		return err
	}

	query := `INSERT INTO groups (id, data, created_at, updated_at) VALUES ($1, $2, $3, $4)`
	_, err = r.db.ExecContext(ctx, query, group.ID, sealed, group.CreatedAt, group.UpdatedAt)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	return nil
}

func (r *GroupRepository) GetByID(ctx context.Context, id string) (*types.Group, error) {
	var sealed string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM groups WHERE id = $1`, id).Scan(&sealed)
	if err != nil {
		return nil, apperrors.WrapDBError(err, apperrors.ErrGroupNotFound)
	}
	return r.encryptor.DecryptGroup(sealed)
}

func (r *GroupRepository) List(ctx context.Context) ([]*types.Group, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT data FROM groups ORDER BY id`)
	if err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	defer rows.Close()

	var groups []*types.Group
	for rows.Next() {
		var sealed string
		if err := rows.Scan(&sealed); err != nil {
			return nil, apperrors.WrapDBError(err, nil)
		}
		group, err := r.encryptor.DecryptGroup(sealed)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	return groups, nil
}

func (r *GroupRepository) Update(ctx context.Context, group *types.Group) error {
	sealed, err := r.encryptor.EncryptGroup(group)
	if err != nil {
		return err
	}

	query := `UPDATE groups SET data = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, sealed, group.UpdatedAt, group.ID)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	if affected == 0 {
		return apperrors.ErrGroupNotFound
	}
	return nil
}

func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	if affected == 0 {
		return apperrors.ErrGroupNotFound
	}
	return nil
}

// GetAllMappings decrypts every row and returns the id -> permissions map
// for the expansion snapshot. Group tables are small (directory groups,
// not users), so a full scan per snapshot refresh is fine.
func (r *GroupRepository) GetAllMappings(ctx context.Context) (map[string][]string, error) {
	groups, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	mappings := make(map[string][]string, len(groups))
	for _, g := range groups {
		mappings[g.ID] = g.Permissions
	}
	return mappings, nil
}
