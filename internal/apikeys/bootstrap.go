package apikeys

import (
	"context"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/config"
	"github.com/mwistrand/aussie-sub004/internal/db"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// maxBootstrapTTL caps the bootstrap key lifetime. The key exists to
// mint properly scoped keys and should then age out quickly.
const maxBootstrapTTL = 24 * time.Hour

// Bootstrapper seeds the first admin API key from an operator-supplied
// secret so a fresh or locked-out deployment can reach the admin API.
type Bootstrapper struct {
	cfg     config.BootstrapConfig
	service *Service
	repo    db.APIKeyRepositoryInterface
	logger  logging.Logger
}

func NewBootstrapper(cfg config.BootstrapConfig, service *Service, repo db.APIKeyRepositoryInterface, logger logging.Logger) *Bootstrapper {
	return &Bootstrapper{
		cfg:     cfg,
		service: service,
		repo:    repo,
		logger:  logger.WithField("component", "bootstrap"),
	}
}

// ShouldBootstrap reports whether a bootstrap key must be created:
// bootstrap is enabled and either recovery mode is forced or no admin
// key exists yet.
func (b *Bootstrapper) ShouldBootstrap(ctx context.Context) (bool, error) {
	if !b.cfg.Enabled {
		return false, nil
	}
	if b.cfg.RecoveryMode {
		return true, nil
	}
	hasAdmin, err := b.repo.HasAdminKey(ctx)
	if err != nil {
		return false, err
	}
	return !hasAdmin, nil
}

// Bootstrap creates the admin key from the configured plaintext. The
// plaintext is never logged; the operator already holds it.
func (b *Bootstrapper) Bootstrap(ctx context.Context) (*types.APIKey, error) {
	should, err := b.ShouldBootstrap(ctx)
	if err != nil {
		return nil, err
	}
	if !should {
		return nil, apperrors.ErrStateViolation.WithMessage("bootstrap is not required")
	}
	if len(b.cfg.Key) < minSuppliedKeyLen {
		return nil, apperrors.ErrValidation.WithMessage("bootstrap key must be at least 32 characters")
	}

	ttl := b.cfg.TTL
	if ttl <= 0 || ttl > maxBootstrapTTL {
		ttl = maxBootstrapTTL
	}
	// Respect the site key policy when it is stricter than the cap.
	if max := b.service.cfg.MaxTTL; max > 0 && ttl > max {
		ttl = max
	}

	created, err := b.service.CreateWithKey(ctx, b.cfg.Key, CreateRequest{
		Name:        "bootstrap-admin",
		Permissions: []string{types.PermissionWildcard},
		TTL:         &ttl,
		CreatedBy:   "bootstrap",
	})
	if err != nil {
		return nil, err
	}

	b.logger.Warn(ctx, "Bootstrap admin API key created",
		logging.String("key_id", created.Key.KeyID),
		logging.Duration("ttl", ttl),
		logging.Bool("recovery_mode", b.cfg.RecoveryMode))
	return created.Key, nil
}
