package db

import (
	"context"
	"database/sql"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// RotationAuditRepository records the signing key lifecycle audit trail.
type RotationAuditRepository struct {
	db DBTX
}

func NewRotationAuditRepository(db DBTX) *RotationAuditRepository {
	return &RotationAuditRepository{db: db}
}

const rotationAuditColumns = `id, kid, operation, triggered_by, reason, created_at`

func (r *RotationAuditRepository) Create(ctx context.Context, entry *types.RotationAudit) error {
	query := `
		INSERT INTO rotation_audit (id, kid, operation, triggered_by, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.KID, entry.Operation, entry.Trigger, entry.Reason, entry.CreatedAt)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	return nil
}

func (r *RotationAuditRepository) ListRecent(ctx context.Context, limit int) ([]*types.RotationAudit, error) {
	query := `SELECT ` + rotationAuditColumns + ` FROM rotation_audit
		ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	return collectRotationAudit(rows)
}

func (r *RotationAuditRepository) ListByKID(ctx context.Context, kid string, limit int) ([]*types.RotationAudit, error) {
	query := `SELECT ` + rotationAuditColumns + ` FROM rotation_audit
		WHERE kid = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, kid, limit)
	if err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	return collectRotationAudit(rows)
}

func collectRotationAudit(rows *sql.Rows) ([]*types.RotationAudit, error) {
	defer rows.Close()

	var entries []*types.RotationAudit
	for rows.Next() {
		entry := &types.RotationAudit{}
		if err := rows.Scan(&entry.ID, &entry.KID, &entry.Operation,
			&entry.Trigger, &entry.Reason, &entry.CreatedAt); err != nil {
			return nil, apperrors.WrapDBError(err, nil)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	return entries, nil
}
