package db

import (
	"context"
	"time"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// FailedAttemptRepository tracks windowed authentication failure counters
// and the lockouts they trigger, keyed by tracking key (ip:<addr>,
// user:<id> or apikey:<prefix>).
type FailedAttemptRepository struct {
	db DBTX
}

func NewFailedAttemptRepository(db DBTX) *FailedAttemptRepository {
	return &FailedAttemptRepository{db: db}
}

// IncrementAttempts bumps the failure counter for key and returns the new
// count. A counter whose window started before windowStart is reset to 1
// with a fresh window. The whole operation is a single upsert so two
// concurrent failures never lose an increment.
func (r *FailedAttemptRepository) IncrementAttempts(ctx context.Context, key string, now, windowStart time.Time) (int, error) {
	query := `
		INSERT INTO failed_attempts (key, attempts, window_start, last_attempt)
		VALUES ($1, 1, $2, $2)
		ON CONFLICT (key) DO UPDATE SET
			attempts = CASE
				WHEN failed_attempts.window_start < $3 THEN 1
				ELSE failed_attempts.attempts + 1
			END,
			window_start = CASE
				WHEN failed_attempts.window_start < $3 THEN $2
				ELSE failed_attempts.window_start
			END,
			last_attempt = $2
		RETURNING attempts
	`
	var count int
	err := r.db.QueryRowContext(ctx, query, key, now, windowStart).Scan(&count)
	if err != nil {
		return 0, apperrors.WrapDBError(err, nil)
	}
	return count, nil
}

func (r *FailedAttemptRepository) GetAttempts(ctx context.Context, key string) (*types.FailedAttempt, error) {
	query := `SELECT key, attempts, window_start, last_attempt FROM failed_attempts WHERE key = $1`

	rec := &types.FailedAttempt{}
	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&rec.Key, &rec.Attempts, &rec.WindowStart, &rec.LastAttempt)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, apperrors.WrapDBError(err, nil)
	}
	return rec, nil
}

func (r *FailedAttemptRepository) ClearAttempts(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM failed_attempts WHERE key = $1`, key); err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	return nil
}

// GetLockout returns the lockout row for key, or nil when none exists.
// Expired rows are returned as well; their LockoutCount still drives the
// progressive duration of the next lockout.
func (r *FailedAttemptRepository) GetLockout(ctx context.Context, key string) (*types.Lockout, error) {
	query := `SELECT key, reason, lockout_count, created_at, expires_at FROM lockouts WHERE key = $1`

	rec := &types.Lockout{}
	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&rec.Key, &rec.Reason, &rec.LockoutCount, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, apperrors.WrapDBError(err, nil)
	}
	return rec, nil
}

// UpsertLockout stores the lockout row. The caller supplies the new
// LockoutCount, which replaces the stored one.
func (r *FailedAttemptRepository) UpsertLockout(ctx context.Context, lockout *types.Lockout) error {
	query := `
		INSERT INTO lockouts (key, reason, lockout_count, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			reason = EXCLUDED.reason,
			lockout_count = EXCLUDED.lockout_count,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`
	_, err := r.db.ExecContext(ctx, query,
		lockout.Key, lockout.Reason, lockout.LockoutCount, lockout.CreatedAt, lockout.ExpiresAt)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	return nil
}

func (r *FailedAttemptRepository) ClearLockout(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM lockouts WHERE key = $1`, key); err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	return nil
}

// ListLockouts returns lockouts that are still in force, most recent first.
func (r *FailedAttemptRepository) ListLockouts(ctx context.Context, now time.Time) ([]*types.Lockout, error) {
	query := `SELECT key, reason, lockout_count, created_at, expires_at FROM lockouts
		WHERE expires_at > $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	defer rows.Close()

	var lockouts []*types.Lockout
	for rows.Next() {
		rec := &types.Lockout{}
		if err := rows.Scan(&rec.Key, &rec.Reason, &rec.LockoutCount, &rec.CreatedAt, &rec.ExpiresAt); err != nil {
			return nil, apperrors.WrapDBError(err, nil)
		}
		lockouts = append(lockouts, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WrapDBError(err, nil)
	}
	return lockouts, nil
}
