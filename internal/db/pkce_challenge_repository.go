package db

import (
	"context"
	"time"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// PKCEChallengeRepository is the database-backed challenge store. Consume
// relies on DELETE ... RETURNING so the one-time-use guarantee holds even
// with multiple gateway instances sharing the table.
type PKCEChallengeRepository struct {
	db DBTX
}

func NewPKCEChallengeRepository(db DBTX) *PKCEChallengeRepository {
	return &PKCEChallengeRepository{db: db}
}

func (r *PKCEChallengeRepository) Store(ctx context.Context, challenge *types.PKCEChallenge) error {
	query := `
		INSERT INTO pkce_challenges (state, challenge, method, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (state) DO UPDATE SET
			challenge = EXCLUDED.challenge,
			method = EXCLUDED.method,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`
	_, err := r.db.ExecContext(ctx, query,
		challenge.State, challenge.Challenge, challenge.Method, challenge.CreatedAt, challenge.ExpiresAt)
	if err != nil {
		return apperrors.WrapDBError(err, nil)
	}
	return nil
}

// Consume atomically removes and returns the unexpired challenge for
// state. Returns nil when absent, expired, or already consumed.
func (r *PKCEChallengeRepository) Consume(ctx context.Context, state string) (*types.PKCEChallenge, error) {
	query := `
		DELETE FROM pkce_challenges
		WHERE state = $1 AND expires_at > NOW()
		RETURNING state, challenge, method, created_at, expires_at
	`
	rec := &types.PKCEChallenge{}
	err := r.db.QueryRowContext(ctx, query, state).Scan(
		&rec.State, &rec.Challenge, &rec.Method, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, apperrors.WrapDBError(err, nil)
	}
	return rec, nil
}

func (r *PKCEChallengeRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pkce_challenges WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, apperrors.WrapDBError(err, nil)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.WrapDBError(err, nil)
	}
	return n, nil
}
