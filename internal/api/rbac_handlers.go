package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/middleware"
	"github.com/mwistrand/aussie-sub004/internal/types"
	"github.com/mwistrand/aussie-sub004/internal/validation"
)

func (h *Handler) requireRoles(c *gin.Context) bool {
	if h.svc.Roles == nil {
		middleware.AbortWithAppError(c, apperrors.ErrStateViolation.WithMessage("role mappings are not configured"))
		return false
	}
	return true
}

func (h *Handler) requireGroups(c *gin.Context) bool {
	if h.svc.Groups == nil {
		middleware.AbortWithAppError(c, apperrors.ErrStateViolation.WithMessage("group mappings are not configured"))
		return false
	}
	return true
}

func roleIDParam(c *gin.Context) (string, bool) {
	id, err := validation.ValidatePathParam(c, "roleId", validation.IsSlug, "role id must be a lowercase slug")
	if err != nil {
		middleware.AbortBadRequest(c, err.Error())
		return "", false
	}
	return id, true
}

func groupIDParam(c *gin.Context) (string, bool) {
	id, err := validation.ValidatePathParam(c, "groupId", validation.IsSafeString, "group id contains invalid characters")
	if err != nil {
		middleware.AbortBadRequest(c, err.Error())
		return "", false
	}
	return id, true
}

// ListRoles returns every role mapping.
func (h *Handler) ListRoles(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireRoles(c) {
		return
	}

	roles, err := h.svc.Roles.List(ctx)
	if err != nil {
		h.logger.Error(ctx, "Failed to list roles", logging.Error("error", err))
		abortError(c, err)
		return
	}
	if roles == nil {
		roles = []*types.Role{}
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles})
}

// CreateRole adds a role to permission mapping.
func (h *Handler) CreateRole(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireRoles(c) {
		return
	}

	var req validation.CreateRoleRequest
	if err := validation.BindAndValidate(h.validator, c, &req); err != nil {
		h.abortValidation(c, err)
		return
	}

	role := &types.Role{
		ID:          req.ID,
		Description: req.Description,
		Permissions: req.Permissions,
	}
	if err := h.svc.Roles.Create(ctx, role); err != nil {
		abortError(c, err)
		return
	}

	h.logger.Info(ctx, "Role created via admin API",
		logging.String("role_id", role.ID),
		logging.String("created_by", subjectOf(c)))

	c.JSON(http.StatusCreated, gin.H{"role": role})
}

// GetRole returns one role mapping.
func (h *Handler) GetRole(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireRoles(c) {
		return
	}
	id, ok := roleIDParam(c)
	if !ok {
		return
	}

	role, err := h.svc.Roles.Get(ctx, id)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role})
}

// UpdateRole patches a role's description or permission set. Absent
// fields keep their stored values.
func (h *Handler) UpdateRole(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireRoles(c) {
		return
	}
	id, ok := roleIDParam(c)
	if !ok {
		return
	}

	var req validation.UpdateRoleRequest
	if err := validation.BindAndValidate(h.validator, c, &req); err != nil {
		h.abortValidation(c, err)
		return
	}

	role, err := h.svc.Roles.Get(ctx, id)
	if err != nil {
		abortError(c, err)
		return
	}
	if req.Description != nil {
		role.Description = *req.Description
	}
	if req.Permissions != nil {
		role.Permissions = req.Permissions
	}

	if err := h.svc.Roles.Update(ctx, role); err != nil {
		abortError(c, err)
		return
	}

	h.logger.Info(ctx, "Role updated via admin API",
		logging.String("role_id", id),
		logging.String("updated_by", subjectOf(c)))

	c.JSON(http.StatusOK, gin.H{"role": role})
}

// DeleteRole removes a role mapping. Tokens carrying the role simply
// stop granting its permissions.
func (h *Handler) DeleteRole(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireRoles(c) {
		return
	}
	id, ok := roleIDParam(c)
	if !ok {
		return
	}

	if err := h.svc.Roles.Delete(ctx, id); err != nil {
		abortError(c, err)
		return
	}

	h.logger.Info(ctx, "Role deleted via admin API",
		logging.String("role_id", id),
		logging.String("deleted_by", subjectOf(c)))

	c.Status(http.StatusNoContent)
}

// ListGroups returns every group mapping.
func (h *Handler) ListGroups(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireGroups(c) {
		return
	}

	groups, err := h.svc.Groups.List(ctx)
	if err != nil {
		h.logger.Error(ctx, "Failed to list groups", logging.Error("error", err))
		abortError(c, err)
		return
	}
	if groups == nil {
		groups = []*types.Group{}
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// CreateGroup adds a directory group to permission mapping.
func (h *Handler) CreateGroup(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireGroups(c) {
		return
	}

	var req validation.CreateGroupRequest
	if err := validation.BindAndValidate(h.validator, c, &req); err != nil {
		h.abortValidation(c, err)
		return
	}

	group := &types.Group{
		ID:          req.ID,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Permissions: req.Permissions,
	}
	if err := h.svc.Groups.Create(ctx, group); err != nil {
		abortError(c, err)
		return
	}

	h.logger.Info(ctx, "Group created via admin API",
		logging.String("group_id", group.ID),
		logging.String("created_by", subjectOf(c)))

	c.JSON(http.StatusCreated, gin.H{"group": group})
}

// GetGroup returns one group mapping.
func (h *Handler) GetGroup(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireGroups(c) {
		return
	}
	id, ok := groupIDParam(c)
	if !ok {
		return
	}

	group, err := h.svc.Groups.Get(ctx, id)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

// UpdateGroup patches a group's display name, description or
// permission set.
func (h *Handler) UpdateGroup(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireGroups(c) {
		return
	}
	id, ok := groupIDParam(c)
	if !ok {
		return
	}

	var req validation.UpdateGroupRequest
	if err := validation.BindAndValidate(h.validator, c, &req); err != nil {
		h.abortValidation(c, err)
		return
	}

	group, err := h.svc.Groups.Get(ctx, id)
	if err != nil {
		abortError(c, err)
		return
	}
	if req.DisplayName != nil {
		group.DisplayName = *req.DisplayName
	}
	if req.Description != nil {
		group.Description = *req.Description
	}
	if req.Permissions != nil {
		group.Permissions = req.Permissions
	}

	if err := h.svc.Groups.Update(ctx, group); err != nil {
		abortError(c, err)
		return
	}

	h.logger.Info(ctx, "Group updated via admin API",
		logging.String("group_id", id),
		logging.String("updated_by", subjectOf(c)))

	c.JSON(http.StatusOK, gin.H{"group": group})
}

// DeleteGroup removes a group mapping.
func (h *Handler) DeleteGroup(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireGroups(c) {
		return
	}
	id, ok := groupIDParam(c)
	if !ok {
		return
	}

	if err := h.svc.Groups.Delete(ctx, id); err != nil {
		abortError(c, err)
		return
	}

	h.logger.Info(ctx, "Group deleted via admin API",
		logging.String("group_id", id),
		logging.String("deleted_by", subjectOf(c)))

	c.Status(http.StatusNoContent)
}
