package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mwistrand/aussie-sub004/internal/apikeys"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/middleware"
	"github.com/mwistrand/aussie-sub004/internal/types"
	"github.com/mwistrand/aussie-sub004/internal/validation"
)

func (h *Handler) requireAPIKeys(c *gin.Context) bool {
	if h.svc.APIKeys == nil {
		middleware.AbortWithAppError(c, apperrors.ErrStateViolation.WithMessage("API key management is not configured"))
		return false
	}
	return true
}

// ListAPIKeys returns every key record, revoked ones included. Hashes
// never leave the database layer.
func (h *Handler) ListAPIKeys(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireAPIKeys(c) {
		return
	}

	keys, err := h.svc.APIKeys.List(ctx)
	if err != nil {
		h.logger.Error(ctx, "Failed to list API keys", logging.Error("error", err))
		abortError(c, err)
		return
	}
	if keys == nil {
		keys = []*types.APIKey{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

// CreateAPIKey mints a new key. The plaintext appears in this response
// and nowhere else; only its hash is stored.
func (h *Handler) CreateAPIKey(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireAPIKeys(c) {
		return
	}

	var req validation.CreateAPIKeyRequest
	if err := validation.BindAndValidate(h.validator, c, &req); err != nil {
		h.abortValidation(c, err)
		return
	}

	created, err := h.svc.APIKeys.Create(ctx, apikeys.CreateRequest{
		Name:        req.Name,
		Permissions: req.Permissions,
		TTL:         req.TTL(),
		CreatedBy:   subjectOf(c),
	})
	if err != nil {
		h.logger.Error(ctx, "Failed to create API key",
			logging.String("name", req.Name),
			logging.Error("error", err))
		abortError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"key":     created.Key,
		"api_key": created.Plaintext,
	})
}

// RevokeAPIKey permanently disables a key.
func (h *Handler) RevokeAPIKey(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireAPIKeys(c) {
		return
	}

	keyID, err := validation.ValidatePathParam(c, "keyId", validation.IsSafeString, "key id contains invalid characters")
	if err != nil {
		middleware.AbortBadRequest(c, err.Error())
		return
	}

	if err := h.svc.APIKeys.Revoke(ctx, keyID); err != nil {
		abortError(c, err)
		return
	}

	h.logger.Info(ctx, "API key revoked via admin API",
		logging.String("key_id", keyID),
		logging.String("revoked_by", subjectOf(c)))

	c.Status(http.StatusNoContent)
}
