package rbac

import (
	"context"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/db"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// GroupService manages directory group to permission mappings. Group
// rows are encrypted at rest by the repository; the service only sees
// decrypted values.
type GroupService struct {
	repo     db.GroupRepositoryInterface
	logger   logging.Logger
	snapshot *mappingSnapshot
}

func NewGroupService(repo db.GroupRepositoryInterface, logger logging.Logger, snapshotTTL time.Duration) *GroupService {
	s := &GroupService{
		repo:   repo,
		logger: logger.WithField("component", "rbac.groups"),
	}
	s.snapshot = newMappingSnapshot(snapshotTTL, repo.GetAllMappings)
	return s
}

func (s *GroupService) Create(ctx context.Context, group *types.Group) error {
	if group == nil || group.ID == "" {
		return apperrors.ErrValidation.WithMessage("group id is required")
	}
	now := time.Now().UTC()
	group.CreatedAt = now
	group.UpdatedAt = now
	if err := s.repo.Create(ctx, group); err != nil {
		return err
	}
	s.snapshot.invalidate()
	s.logger.Info(ctx, "Group created",
		logging.String("group_id", group.ID),
		logging.Int("permissions", len(group.Permissions)))
	return nil
}

func (s *GroupService) Get(ctx context.Context, id string) (*types.Group, error) {
	if id == "" {
		return nil, apperrors.ErrValidation.WithMessage("group id is required")
	}
	return s.repo.GetByID(ctx, id)
}

func (s *GroupService) List(ctx context.Context) ([]*types.Group, error) {
	return s.repo.List(ctx)
}

func (s *GroupService) Update(ctx context.Context, group *types.Group) error {
	if group == nil || group.ID == "" {
		return apperrors.ErrValidation.WithMessage("group id is required")
	}
	group.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, group); err != nil {
		return err
	}
	s.snapshot.invalidate()
	s.logger.Info(ctx, "Group updated",
		logging.String("group_id", group.ID),
		logging.Int("permissions", len(group.Permissions)))
	return nil
}

func (s *GroupService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.ErrValidation.WithMessage("group id is required")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.snapshot.invalidate()
	s.logger.Info(ctx, "Group deleted", logging.String("group_id", id))
	return nil
}

// Expand returns the sorted union of permissions granted by the given
// group ids. Unknown ids grant nothing.
func (s *GroupService) Expand(ctx context.Context, ids []string) ([]string, error) {
	return s.snapshot.expand(ctx, ids)
}
