package db

import (
	"context"

	"github.com/lib/pq"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// RoleRepository stores role to permission mappings.
type RoleRepository struct {
	db DBTX
}

func NewRoleRepository(db DBTX) *RoleRepository {
	return &RoleRepository{db: db}
}

const roleColumns = `id, description, permissions, created_at, updated_at`

func (r *RoleRepository) Create(ctx context.Context, role *types.Role) error {
	query := `
		INSERT INTO roles (id, description, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		role.ID, role.Description, pq.Array(role.Permissions), role.CreatedAt, role.UpdatedAt)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	return nil
}

func (r *RoleRepository) GetByID(ctx context.Context, id string) (*types.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`
	role, err := scanRole(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, apperrors.WrapDBError(err, apperrors.ErrRoleNotFound)
	}
	return role, nil
}

func (r *RoleRepository) List(ctx context.Context) ([]*types.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	defer rows.Close()

	var roles []*types.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, apperrors.WrapDBError(err, nil)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	return roles, nil
}

func (r *RoleRepository) Update(ctx context.Context, role *types.Role) error {
	query := `UPDATE roles SET description = $1, permissions = $2, updated_at = $3 WHERE id = $4`
	result, err := r.db.ExecContext(ctx, query,
		role.Description, pq.Array(role.Permissions), role.UpdatedAt, role.ID)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	if affected == 0 {
		return apperrors.ErrRoleNotFound
	}
	return nil
}

func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	if affected == 0 {
		return apperrors.ErrRoleNotFound
	}
	return nil
}

// GetAllMappings returns the full id -> permissions map in one query for
// the expansion snapshot.
func (r *RoleRepository) GetAllMappings(ctx context.Context) (map[string][]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, permissions FROM roles`)
	if err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	defer rows.Close()

	mappings := make(map[string][]string)
	for rows.Next() {
		var id string
		var permissions []string
		if err := rows.Scan(&id, pq.Array(&permissions)); err != nil {
			return nil, apperrors.WrapDBError(err, nil)
		}
		mappings[id] = permissions
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	return mappings, nil
}

func scanRole(row rowScanner) (*types.Role, error) {
	role := &types.Role{}
	err := row.Scan(&role.ID, &role.Description, pq.Array(&role.Permissions),
		&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return role, nil
}
