package rotation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mwistrand/aussie-sub004/internal/config"
	"github.com/mwistrand/aussie-sub004/internal/db"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/monitoring"
	"github.com/mwistrand/aussie-sub004/internal/signing"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// Audit trail operation and trigger names.
const (
	OpRotate    = "rotate"
	OpActivate  = "activate"
	OpDeprecate = "deprecate"
	OpRetire    = "retire"
	OpDelete    = "delete"

	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerLifecycle = "lifecycle"
	TriggerStartup   = "startup"
)

// Escrow stores a copy of newly generated private keys outside the
// database, for disaster recovery. Implementations must encrypt.
type Escrow interface {
	StoreKey(ctx context.Context, key *types.SigningKey) error
}

// Service drives the signing key lifecycle on behalf of the scheduler
// and the admin API. Every mutation appends to the rotation audit trail.
type Service struct {
	registry *signing.Registry
	keys     db.SigningKeyRepositoryInterface
	audits   db.RotationAuditRepositoryInterface
	escrow   Escrow
	cfg      config.RotationConfig
	logger   logging.Logger

	auditQueue chan *types.RotationAudit
}

// NewService creates a rotation service. escrow may be nil when key
// backup is not configured.
func NewService(
	registry *signing.Registry,
	keys db.SigningKeyRepositoryInterface,
	audits db.RotationAuditRepositoryInterface,
	escrow Escrow,
	cfg config.RotationConfig,
	logger logging.Logger,
) *Service {
	return &Service{
		registry:   registry,
		keys:       keys,
		audits:     audits,
		escrow:     escrow,
		cfg:        cfg,
		logger:     logger,
		auditQueue: make(chan *types.RotationAudit, 256),
	}
}

// Start launches the audit trail writer. It returns when ctx is done.
func (s *Service) Start(ctx context.Context) {
	go s.processAudits(ctx)
}

// Enabled reports whether scheduled rotation is configured.
func (s *Service) Enabled() bool {
	return s.cfg.Enabled
}

// Rotate generates and registers a new key. With a zero or negative
// grace period the key activates immediately; otherwise it stays PENDING
// until the lifecycle job promotes it. Called on the rotation schedule.
func (s *Service) Rotate(ctx context.Context) error {
	key, err := s.registerNewKey(ctx, TriggerScheduled, "scheduled rotation")
	if err != nil {
		monitoring.RecordKeyRotation(TriggerScheduled, false)
		return err
	}

	if s.cfg.GracePeriod <= 0 {
		if err := s.activate(ctx, key.KID, TriggerScheduled, "scheduled rotation, no grace period"); err != nil {
			monitoring.RecordKeyRotation(TriggerScheduled, false)
			return err
		}
	}

	monitoring.RecordKeyRotation(TriggerScheduled, true)
	return nil
}

// TriggerRotation generates, registers and activates a new key in one
// step. Unlike the scheduled path it surfaces every failure to the
// caller.
func (s *Service) TriggerRotation(ctx context.Context, triggeredBy, reason string) (*types.SigningKey, error) {
	if !s.cfg.Enabled {
		return nil, apperrors.ErrRotationDisabled
	}

	key, err := s.registerNewKey(ctx, TriggerManual, reason)
	if err != nil {
		monitoring.RecordKeyRotation(TriggerManual, false)
		return nil, err
	}
	if err := s.activateAs(ctx, key.KID, TriggerManual, triggeredBy, reason); err != nil {
		monitoring.RecordKeyRotation(TriggerManual, false)
		return nil, err
	}

	monitoring.RecordKeyRotation(TriggerManual, true)
	return s.registry.Get(ctx, key.KID)
}

// EnsureActiveKey rotates at startup when no key can sign. Issuance
// cannot work until this succeeds.
func (s *Service) EnsureActiveKey(ctx context.Context) error {
	if _, err := s.registry.CurrentSigning(); err == nil {
		return nil
	}
	if !s.cfg.Enabled {
		return apperrors.ErrNoActiveKey.WithMessage(
			"no active signing key and rotation is disabled")
	}

	key, err := s.registerNewKey(ctx, TriggerStartup, "no active signing key at startup")
	if err != nil {
		monitoring.RecordKeyRotation(TriggerStartup, false)
		return err
	}
	if err := s.activate(ctx, key.KID, TriggerStartup, "no active signing key at startup"); err != nil {
		monitoring.RecordKeyRotation(TriggerStartup, false)
		return err
	}

	monitoring.RecordKeyRotation(TriggerStartup, true)
	return nil
}

// ProcessLifecycle runs the three lifecycle steps in parallel. Each step
// logs and swallows its own failures so one step cannot starve the
// others; the scheduled caller has nothing useful to do with an error.
func (s *Service) ProcessLifecycle(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if err := s.activateEligible(ctx); err != nil {
			s.logger.Error(ctx, "Lifecycle activation step failed", logging.Error("error", err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.retireExpired(ctx); err != nil {
			s.logger.Error(ctx, "Lifecycle retirement step failed", logging.Error("error", err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.deleteExpired(ctx); err != nil {
			s.logger.Error(ctx, "Lifecycle deletion step failed", logging.Error("error", err))
		}
	}()

	wg.Wait()
}

// Activate promotes a key on behalf of an operator.
func (s *Service) Activate(ctx context.Context, kid, triggeredBy string) error {
	return s.activateAs(ctx, kid, TriggerManual, triggeredBy, "")
}

// Deprecate retires a key from signing duty on behalf of an operator.
func (s *Service) Deprecate(ctx context.Context, kid, triggeredBy string) error {
	if err := s.registry.Deprecate(ctx, kid); err != nil {
		return err
	}
	s.recordAudit(ctx, kid, OpDeprecate, TriggerManual, triggeredBy, "")
	return nil
}

// Retire stops accepting a key's signatures on behalf of an operator.
func (s *Service) Retire(ctx context.Context, kid, triggeredBy string) error {
	if err := s.registry.Retire(ctx, kid); err != nil {
		return err
	}
	s.recordAudit(ctx, kid, OpRetire, TriggerManual, triggeredBy, "")
	return nil
}

// Delete removes a retired key on behalf of an operator.
func (s *Service) Delete(ctx context.Context, kid, triggeredBy string) error {
	if err := s.registry.Delete(ctx, kid); err != nil {
		return err
	}
	s.recordAudit(ctx, kid, OpDelete, TriggerManual, triggeredBy, "")
	return nil
}

// History returns the recent audit trail, optionally filtered by kid.
func (s *Service) History(ctx context.Context, kid string, limit int) ([]*types.RotationAudit, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if kid != "" {
		return s.audits.ListByKID(ctx, kid, limit)
	}
	return s.audits.ListRecent(ctx, limit)
}

func (s *Service) registerNewKey(ctx context.Context, trigger, reason string) (*types.SigningKey, error) {
	key, err := s.registry.GenerateAndRegister(ctx)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, key.KID, OpRotate, trigger, "", reason)

	if s.escrow != nil {
		if err := s.escrow.StoreKey(ctx, key); err != nil {
			// The key is already persisted and usable; escrow is recovery
			// insurance, not a gate.
			s.logger.Error(ctx, "Failed to escrow signing key",
				logging.String("kid", key.KID),
				logging.Error("error", err))
		}
	}
	return key, nil
}

func (s *Service) activate(ctx context.Context, kid, trigger, reason string) error {
	return s.activateAs(ctx, kid, trigger, "", reason)
}

func (s *Service) activateAs(ctx context.Context, kid, trigger, triggeredBy, reason string) error {
	if err := s.registry.Activate(ctx, kid); err != nil {
		return err
	}
	s.recordAudit(ctx, kid, OpActivate, trigger, triggeredBy, reason)
	return nil
}

// activateEligible promotes the most recently created PENDING key whose
// grace period has elapsed.
func (s *Service) activateEligible(ctx context.Context) error {
	pending, err := s.keys.ListByStatus(ctx, types.KeyStatusPending)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.cfg.GracePeriod)
	var eligible []*types.SigningKey
	for _, key := range pending {
		if key.CreatedAt.Before(cutoff) {
			eligible = append(eligible, key)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CreatedAt.After(eligible[j].CreatedAt)
	})

	kid := eligible[0].KID
	if err := s.activate(ctx, kid, TriggerLifecycle, "grace period elapsed"); err != nil {
		return err
	}
	s.logger.Info(ctx, "Promoted pending signing key", logging.String("kid", kid))
	return nil
}

// retireExpired retires DEPRECATED keys past the deprecation period.
func (s *Service) retireExpired(ctx context.Context) error {
	deprecated, err := s.keys.ListByStatus(ctx, types.KeyStatusDeprecated)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.cfg.DeprecationPeriod)
	for _, key := range deprecated {
		if key.DeprecatedAt == nil || !key.DeprecatedAt.Before(cutoff) {
			continue
		}
		if err := s.registry.Retire(ctx, key.KID); err != nil {
			return err
		}
		s.recordAudit(ctx, key.KID, OpRetire, TriggerLifecycle, "", "deprecation period elapsed")
	}
	return nil
}

// deleteExpired removes RETIRED keys past the retention period.
func (s *Service) deleteExpired(ctx context.Context) error {
	retired, err := s.keys.ListByStatus(ctx, types.KeyStatusRetired)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.cfg.RetentionPeriod)
	for _, key := range retired {
		if key.RetiredAt == nil || !key.RetiredAt.Before(cutoff) {
			continue
		}
		if err := s.registry.Delete(ctx, key.KID); err != nil {
			return err
		}
		s.recordAudit(ctx, key.KID, OpDelete, TriggerLifecycle, "", "retention period elapsed")
	}
	return nil
}

// recordAudit enqueues an audit row for the background writer, falling
// back to a synchronous write when the queue is full.
func (s *Service) recordAudit(ctx context.Context, kid, operation, trigger, triggeredBy, reason string) {
	entry := &types.RotationAudit{
		ID:        uuid.New().String(),
		KID:       kid,
		Operation: operation,
		Trigger:   trigger,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	if triggeredBy != "" {
		entry.Trigger = trigger + ":" + triggeredBy
	}

	select {
	case s.auditQueue <- entry:
	default:
		s.writeAudit(ctx, entry)
	}
}

func (s *Service) processAudits(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case entry := <-s.auditQueue:
					s.writeAudit(context.Background(), entry)
				default:
					return
				}
			}
		case entry := <-s.auditQueue:
			s.writeAudit(ctx, entry)
		}
	}
}

func (s *Service) writeAudit(ctx context.Context, entry *types.RotationAudit) {
	if err := s.audits.Create(ctx, entry); err != nil {
		// The operation itself succeeded; losing the audit row is logged,
		// not propagated.
		s.logger.Error(ctx, "Failed to write rotation audit entry",
			logging.String("kid", entry.KID),
			logging.String("operation", entry.Operation),
			logging.Error("error", err))
	}
}
