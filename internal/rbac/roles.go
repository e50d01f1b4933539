// Package rbac maps roles and groups from token claims to gateway
// permissions. Role and group mappings live in Postgres and are
// expanded through a short-lived local snapshot; claim translation
// providers normalize identity provider specific claim shapes.
package rbac

import (
	"context"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/db"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// RoleService manages role to permission mappings and expands role ids
// into the permissions they grant.
type RoleService struct {
	repo     db.RoleRepositoryInterface
	logger   logging.Logger
	snapshot *mappingSnapshot
}

// NewRoleService returns a role service whose expansion snapshot is
// refreshed at most every snapshotTTL. A non-positive TTL selects
// DefaultSnapshotTTL.
func NewRoleService(repo db.RoleRepositoryInterface, logger logging.Logger, snapshotTTL time.Duration) *RoleService {
	s := &RoleService{
		repo:   repo,
		logger: logger.WithField("component", "rbac.roles"),
	}
	s.snapshot = newMappingSnapshot(snapshotTTL, repo.GetAllMappings)
	return s
}

func (s *RoleService) Create(ctx context.Context, role *types.Role) error {
	if role == nil || role.ID == "" {
		return apperrors.ErrValidation.WithMessage("role id is required")
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	if err := s.repo.Create(ctx, role); err != nil {
		return err
	}
	s.snapshot.invalidate()
	s.logger.Info(ctx, "Role created",
		logging.String("role_id", role.ID),
		logging.Int("permissions", len(role.Permissions)))
	return nil
}

func (s *RoleService) Get(ctx context.Context, id string) (*types.Role, error) {
	if id == "" {
		return nil, apperrors.ErrValidation.WithMessage("role id is required")
	}
	return s.repo.GetByID(ctx, id)
}

func (s *RoleService) List(ctx context.Context) ([]*types.Role, error) {
	return s.repo.List(ctx)
}

func (s *RoleService) Update(ctx context.Context, role *types.Role) error {
	if role == nil || role.ID == "" {
		return apperrors.ErrValidation.WithMessage("role id is required")
	}
	role.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, role); err != nil {
		return err
	}
	s.snapshot.invalidate()
	s.logger.Info(ctx, "Role updated",
		logging.String("role_id", role.ID),
		logging.Int("permissions", len(role.Permissions)))
	return nil
}

func (s *RoleService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.ErrValidation.WithMessage("role id is required")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.snapshot.invalidate()
	s.logger.Info(ctx, "Role deleted", logging.String("role_id", id))
	return nil
}

// Expand returns the sorted union of permissions granted by the given
// role ids. Unknown ids grant nothing.
func (s *RoleService) Expand(ctx context.Context, ids []string) ([]string, error) {
	return s.snapshot.expand(ctx, ids)
}
