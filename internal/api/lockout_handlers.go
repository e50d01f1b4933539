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

func (h *Handler) requireLimits(c *gin.Context) bool {
	if h.svc.Limits == nil {
		middleware.AbortWithAppError(c, apperrors.ErrStateViolation.WithMessage("auth rate limiting is not configured"))
		return false
	}
	return true
}

func lockoutKeyParam(c *gin.Context) (string, bool) {
	key, err := validation.ValidatePathParam(c, "key", validation.IsLockoutKey, "lockout key must look like ip:..., user:... or apikey:...")
	if err != nil {
		middleware.AbortBadRequest(c, err.Error())
		return "", false
	}
	return key, true
}

// ListLockouts returns every lockout currently in force.
func (h *Handler) ListLockouts(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireLimits(c) {
		return
	}

	lockouts, err := h.svc.Limits.ListLockouts(ctx)
	if err != nil {
		h.logger.Error(ctx, "Failed to list lockouts", logging.Error("error", err))
		abortError(c, err)
		return
	}
	if lockouts == nil {
		lockouts = []*types.Lockout{}
	}
	c.JSON(http.StatusOK, gin.H{"lockouts": lockouts})
}

// GetLockout returns the active lockout for one key.
func (h *Handler) GetLockout(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireLimits(c) {
		return
	}
	key, ok := lockoutKeyParam(c)
	if !ok {
		return
	}

	lockout, err := h.svc.Limits.GetLockout(ctx, key)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lockout": lockout})
}

// ClearLockout lifts a lockout and resets its failure counter, letting
// the subject try again immediately.
func (h *Handler) ClearLockout(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireLimits(c) {
		return
	}
	key, ok := lockoutKeyParam(c)
	if !ok {
		return
	}

	if err := h.svc.Limits.ClearLockout(ctx, key); err != nil {
		abortError(c, err)
		return
	}

	h.logger.Info(ctx, "Lockout cleared via admin API",
		logging.String("key", key),
		logging.String("cleared_by", subjectOf(c)))

	c.Status(http.StatusNoContent)
}
