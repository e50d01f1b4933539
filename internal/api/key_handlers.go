package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/jwks"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/middleware"
	"github.com/mwistrand/aussie-sub004/internal/types"
	"github.com/mwistrand/aussie-sub004/internal/validation"
)

// keyIDParam extracts and validates the :keyId path parameter.
func keyIDParam(c *gin.Context) (string, bool) {
	kid, err := validation.ValidatePathParam(c, "keyId", validation.IsKeyID, "key id must look like k-2025-q3-0a1b2c3d")
	if err != nil {
		middleware.AbortBadRequest(c, err.Error())
		return "", false
	}
	return kid, true
}

func (h *Handler) requireRegistry(c *gin.Context) bool {
	if h.svc.Registry == nil {
		middleware.AbortWithAppError(c, apperrors.ErrStateViolation.WithMessage("signing is not configured"))
		return false
	}
	return true
}

func (h *Handler) requireRotation(c *gin.Context) bool {
	if h.svc.Rotation == nil {
		middleware.AbortWithAppError(c, apperrors.ErrStateViolation.WithMessage("key rotation is not configured"))
		return false
	}
	return true
}

// ListSigningKeys returns every persisted key plus the registry's
// snapshot status.
func (h *Handler) ListSigningKeys(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireRegistry(c) {
		return
	}

	keys, err := h.svc.Registry.All(ctx)
	if err != nil {
		h.logger.Error(ctx, "Failed to list signing keys", logging.Error("error", err))
		abortError(c, err)
		return
	}
	if keys == nil {
		keys = []*types.SigningKey{}
	}

	c.JSON(http.StatusOK, gin.H{
		"keys":   keys,
		"status": h.svc.Registry.Status(),
	})
}

// CreateSigningKey registers a fresh PENDING key pair. Activation is a
// separate step, so an operator can pre-stage a key before cutover.
func (h *Handler) CreateSigningKey(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireRegistry(c) {
		return
	}

	key, err := h.svc.Registry.GenerateAndRegister(ctx)
	if err != nil {
		h.logger.Error(ctx, "Failed to generate signing key", logging.Error("error", err))
		abortError(c, err)
		return
	}

	h.logger.Info(ctx, "Signing key registered",
		logging.String("kid", key.KID),
		logging.String("created_by", subjectOf(c)))

	c.JSON(http.StatusCreated, gin.H{"key": key})
}

// RotateSigningKeys generates and activates a new key in one step,
// deprecating the current one. The optional body carries a reason for
// the audit trail.
func (h *Handler) RotateSigningKeys(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireRotation(c) {
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"max=512"`
	}
	if c.Request.ContentLength > 0 && !middleware.BindJSON(c, &req) {
		return
	}

	key, err := h.svc.Rotation.TriggerRotation(ctx, subjectOf(c), req.Reason)
	if err != nil {
		h.logger.Error(ctx, "Manual key rotation failed", logging.Error("error", err))
		abortError(c, err)
		return
	}

	h.logger.Info(ctx, "Manual key rotation completed",
		logging.String("kid", key.KID),
		logging.String("triggered_by", subjectOf(c)))

	c.JSON(http.StatusOK, gin.H{"key": key})
}

// GetSigningKey returns one key by kid.
func (h *Handler) GetSigningKey(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireRegistry(c) {
		return
	}
	kid, ok := keyIDParam(c)
	if !ok {
		return
	}

	key, err := h.svc.Registry.Get(ctx, kid)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key})
}

// SigningKeyAudit returns the rotation audit trail for one key, newest
// first.
func (h *Handler) SigningKeyAudit(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireRotation(c) {
		return
	}
	kid, ok := keyIDParam(c)
	if !ok {
		return
	}

	raw, err := validation.ValidateQueryParam(c, "limit", "100", func(s string) bool {
		n, convErr := strconv.Atoi(s)
		return convErr == nil && n > 0 && n <= 500
	}, "limit must be between 1 and 500")
	if err != nil {
		middleware.AbortBadRequest(c, err.Error())
		return
	}
	limit, _ := strconv.Atoi(raw)

	entries, err := h.svc.Rotation.History(ctx, kid, limit)
	if err != nil {
		h.logger.Error(ctx, "Failed to load rotation audit",
			logging.String("kid", kid),
			logging.Error("error", err))
		abortError(c, err)
		return
	}
	if entries == nil {
		entries = []*types.RotationAudit{}
	}
	c.JSON(http.StatusOK, gin.H{"audit": entries})
}

// ActivateSigningKey promotes a PENDING key to ACTIVE, deprecating the
// previously active key.
func (h *Handler) ActivateSigningKey(c *gin.Context) {
	h.transitionKey(c, "activate", types.KeyStatusActive)
}

// DeprecateSigningKey moves an ACTIVE key to DEPRECATED. It keeps
// verifying existing tokens but signs nothing new.
func (h *Handler) DeprecateSigningKey(c *gin.Context) {
	h.transitionKey(c, "deprecate", types.KeyStatusDeprecated)
}

// RetireSigningKey moves a DEPRECATED key to RETIRED, dropping it from
// the JWKS document.
func (h *Handler) RetireSigningKey(c *gin.Context) {
	h.transitionKey(c, "retire", types.KeyStatusRetired)
}

func (h *Handler) transitionKey(c *gin.Context, operation string, next types.KeyStatus) {
	ctx := c.Request.Context()
	if !h.requireRotation(c) {
		return
	}
	kid, ok := keyIDParam(c)
	if !ok {
		return
	}

	var err error
	switch operation {
	case "activate":
		err = h.svc.Rotation.Activate(ctx, kid, subjectOf(c))
	case "deprecate":
		err = h.svc.Rotation.Deprecate(ctx, kid, subjectOf(c))
	case "retire":
		err = h.svc.Rotation.Retire(ctx, kid, subjectOf(c))
	}
	if err != nil {
		abortError(c, err)
		return
	}

	h.logger.Info(ctx, "Signing key transitioned",
		logging.String("kid", kid),
		logging.String("operation", operation),
		logging.String("triggered_by", subjectOf(c)))

	c.JSON(http.StatusOK, gin.H{"kid": kid, "status": next})
}

// DeleteSigningKey removes a RETIRED key permanently.
func (h *Handler) DeleteSigningKey(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireRotation(c) {
		return
	}
	kid, ok := keyIDParam(c)
	if !ok {
		return
	}

	if err := h.svc.Rotation.Delete(ctx, kid, subjectOf(c)); err != nil {
		abortError(c, err)
		return
	}

	h.logger.Info(ctx, "Signing key deleted",
		logging.String("kid", kid),
		logging.String("triggered_by", subjectOf(c)))

	c.Status(http.StatusNoContent)
}

// JWKSCacheStatus reports every cached upstream JWKS document.
func (h *Handler) JWKSCacheStatus(c *gin.Context) {
	if h.svc.JWKS == nil {
		middleware.AbortWithAppError(c, apperrors.ErrStateViolation.WithMessage("JWKS caching is not configured"))
		return
	}

	entries := h.svc.JWKS.Status()
	if entries == nil {
		entries = []jwks.EntryStatus{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
