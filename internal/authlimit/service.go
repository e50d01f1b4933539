// Package authlimit implements progressive lockout for failed
// authentication attempts, tracked independently per source IP and per
// presented identity (username or API key prefix).
package authlimit

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/config"
	"github.com/mwistrand/aussie-sub004/internal/db"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/monitoring"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// apiKeyPrefixLen bounds how much of a presented API key lands in a
// tracking key. Eight characters identify the key for rate limiting
// without persisting anything a thief could use.
const apiKeyPrefixLen = 8

// IPKey builds the tracking key for a client address.
func IPKey(addr string) string {
	if addr == "" {
		return ""
	}
	return "ip:" + addr
}

// UserKey builds the tracking key for a username or subject.
func UserKey(identifier string) string {
	if identifier == "" {
		return ""
	}
	return "user:" + identifier
}

// APIKeyKey builds the tracking key for a presented API key, keeping
// only a short prefix of the plaintext.
func APIKeyKey(plaintext string) string {
	if plaintext == "" {
		return ""
	}
	prefix := plaintext
	if len(prefix) > apiKeyPrefixLen {
		prefix = prefix[:apiKeyPrefixLen]
	}
	return "apikey:" + prefix
}

// Decision is the outcome of a pre-authentication limit check.
type Decision struct {
	Allowed           bool      `json:"allowed"`
	Key               string    `json:"key,omitempty"`
	RetryAfterSeconds int64     `json:"retry_after_seconds,omitempty"`
	LockoutExpiresAt  time.Time `json:"lockout_expires_at,omitempty"`
}

var allow = Decision{Allowed: true}

// AttemptResult reports where a tracking key stands after a recorded
// failure.
type AttemptResult struct {
	Locked            bool      `json:"locked"`
	Key               string    `json:"key,omitempty"`
	Attempts          int       `json:"attempts"`
	Remaining         int       `json:"remaining"`
	RetryAfterSeconds int64     `json:"retry_after_seconds,omitempty"`
	LockoutExpiresAt  time.Time `json:"lockout_expires_at,omitempty"`
}

// Service enforces the failed-attempt policy. Lookups fail open: if
// the repository is unreachable the caller proceeds to normal
// credential checking, which still rejects bad credentials.
type Service struct {
	cfg    config.RateLimitConfig
	repo   db.FailedAttemptRepositoryInterface
	logger logging.Logger
}

func NewService(cfg config.RateLimitConfig, repo db.FailedAttemptRepositoryInterface, logger logging.Logger) *Service {
	return &Service{
		cfg:    cfg,
		repo:   repo,
		logger: logger.WithField("component", "authlimit"),
	}
}

func (s *Service) Enabled() bool {
	return s.cfg.Enabled
}

// Check gates an authentication attempt. The IP axis is consulted
// first and short-circuits; either key may be empty to skip that axis.
func (s *Service) Check(ctx context.Context, ipKey, identifierKey string) Decision {
	if !s.cfg.Enabled {
		return allow
	}

	now := time.Now()
	if s.cfg.TrackByIP && ipKey != "" {
		if d := s.checkKey(ctx, ipKey, now); !d.Allowed {
			return d
		}
	}
	if s.cfg.TrackByIdentifier && identifierKey != "" {
		if d := s.checkKey(ctx, identifierKey, now); !d.Allowed {
			return d
		}
	}
	return allow
}

func (s *Service) checkKey(ctx context.Context, key string, now time.Time) Decision {
	lockout, err := s.repo.GetLockout(ctx, key)
	if err != nil {
		s.logger.Warn(ctx, "Lockout lookup failed, allowing attempt",
			logging.String("key", key),
			logging.Error("error", err))
		return allow
	}
	if lockout == nil || !lockout.Active(now) {
		return allow
	}
	return Decision{
		Allowed:           false,
		Key:               key,
		RetryAfterSeconds: lockout.RetryAfter(now),
		LockoutExpiresAt:  lockout.ExpiresAt,
	}
}

// RecordFailure counts a failed attempt against both axes and locks
// whichever crossed the threshold. When both axes respond, a locked
// result wins; otherwise the higher attempt count is reported.
func (s *Service) RecordFailure(ctx context.Context, ipKey, identifierKey, reason string) AttemptResult {
	if !s.cfg.Enabled {
		return AttemptResult{}
	}

	now := time.Now()
	var results []AttemptResult
	if s.cfg.TrackByIP && ipKey != "" {
		results = append(results, s.recordKey(ctx, ipKey, reason, now))
	}
	if s.cfg.TrackByIdentifier && identifierKey != "" {
		results = append(results, s.recordKey(ctx, identifierKey, reason, now))
	}

	var merged AttemptResult
	for _, r := range results {
		if r.Locked && !merged.Locked {
			merged = r
			continue
		}
		if !merged.Locked && r.Attempts > merged.Attempts {
			merged = r
		}
	}
	return merged
}

func (s *Service) recordKey(ctx context.Context, key, reason string, now time.Time) AttemptResult {
	count, err := s.repo.IncrementAttempts(ctx, key, now, now.Add(-s.cfg.FailedAttemptWindow))
	if err != nil {
		s.logger.Warn(ctx, "Failed to record authentication failure",
			logging.String("key", key),
			logging.Error("error", err))
		return AttemptResult{Key: key}
	}
	monitoring.RecordFailedAttempt(axisOf(key))

	if count < s.cfg.MaxFailedAttempts {
		return AttemptResult{
			Key:       key,
			Attempts:  count,
			Remaining: s.cfg.MaxFailedAttempts - count,
		}
	}

	prior := 0
	if existing, err := s.repo.GetLockout(ctx, key); err != nil {
		s.logger.Warn(ctx, "Lockout history lookup failed, using base duration",
			logging.String("key", key),
			logging.Error("error", err))
	} else if existing != nil {
		prior = existing.LockoutCount
	}

	duration := s.lockoutDuration(prior)
	lockout := &types.Lockout{
		Key:          key,
		Reason:       reason,
		LockoutCount: prior + 1,
		CreatedAt:    now,
		ExpiresAt:    now.Add(duration),
	}
	if err := s.repo.UpsertLockout(ctx, lockout); err != nil {
		s.logger.Error(ctx, "Failed to store lockout",
			logging.String("key", key),
			logging.Error("error", err))
		return AttemptResult{Key: key, Attempts: count}
	}
	// The counter is consumed by the lockout; the next window starts
	// fresh once the lockout lifts.
	if err := s.repo.ClearAttempts(ctx, key); err != nil {
		s.logger.Warn(ctx, "Failed to clear attempts after lockout",
			logging.String("key", key),
			logging.Error("error", err))
	}

	monitoring.RecordLockout(axisOf(key))
	s.logger.Warn(ctx, "Authentication lockout triggered",
		logging.String("key", key),
		logging.String("reason", reason),
		logging.Int("lockout_count", lockout.LockoutCount),
		logging.Duration("duration", duration))

	return AttemptResult{
		Locked:            true,
		Key:               key,
		Attempts:          count,
		RetryAfterSeconds: lockout.RetryAfter(now),
		LockoutExpiresAt:  lockout.ExpiresAt,
	}
}

// lockoutDuration computes min(base * multiplier^prior, max). A
// multiplier at or below 1 disables progression.
func (s *Service) lockoutDuration(prior int) time.Duration {
	base := s.cfg.LockoutDuration
	if s.cfg.ProgressiveLockoutMultiplier <= 1 || prior <= 0 {
		return base
	}
	scaled := float64(base) * math.Pow(s.cfg.ProgressiveLockoutMultiplier, float64(prior))
	max := s.cfg.MaxLockoutDuration
	if max > 0 && (scaled > float64(max) || math.IsInf(scaled, 1)) {
		return max
	}
	return time.Duration(scaled)
}

// ClearFailures resets the counters for both axes after a successful
// authentication. Lockouts are left alone.
func (s *Service) ClearFailures(ctx context.Context, ipKey, identifierKey string) {
	if !s.cfg.Enabled {
		return
	}
	for _, key := range []string{ipKey, identifierKey} {
		if key == "" {
			continue
		}
		if err := s.repo.ClearAttempts(ctx, key); err != nil {
			s.logger.Warn(ctx, "Failed to clear attempt counter",
				logging.String("key", key),
				logging.Error("error", err))
		}
	}
}

// ClearLockout lifts the lockout for key and resets its counter so the
// subject starts clean. Used by admins; clearing an absent lockout is
// not an error.
func (s *Service) ClearLockout(ctx context.Context, key string) error {
	if key == "" {
		return apperrors.ErrValidation.WithMessage("lockout key is required")
	}
	if err := s.repo.ClearLockout(ctx, key); err != nil {
		return err
	}
	if err := s.repo.ClearAttempts(ctx, key); err != nil {
		return err
	}
	s.logger.Info(ctx, "Lockout cleared", logging.String("key", key))
	return nil
}

// GetLockout returns the lockout in force for key. Absent or expired
// lockouts report not found.
func (s *Service) GetLockout(ctx context.Context, key string) (*types.Lockout, error) {
	if key == "" {
		return nil, apperrors.ErrValidation.WithMessage("lockout key is required")
	}
	lockout, err := s.repo.GetLockout(ctx, key)
	if err != nil {
		return nil, err
	}
	if lockout == nil || !lockout.Active(time.Now()) {
		return nil, apperrors.ErrLockoutNotFound
	}
	return lockout, nil
}

// ListLockouts returns the lockouts currently in force.
func (s *Service) ListLockouts(ctx context.Context) ([]*types.Lockout, error) {
	return s.repo.ListLockouts(ctx, time.Now())
}

func axisOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "unknown"
}
