package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/middleware"
	"github.com/mwistrand/aussie-sub004/internal/pkce"
)

// CreatePKCEChallenge stores a client-generated code challenge under
// the OAuth state. The verifier never travels with this request; the
// client holds it until the verify leg.
func (h *Handler) CreatePKCEChallenge(c *gin.Context) {
	ctx := c.Request.Context()

	if h.svc.PKCE == nil || !h.svc.PKCE.Enabled() {
		middleware.AbortWithAppError(c, apperrors.ErrStateViolation.WithMessage("PKCE is disabled"))
		return
	}

	var req struct {
		State     string `json:"state" binding:"required,max=255"`
		Challenge string `json:"challenge" binding:"required,min=43,max=128"`
		Method    string `json:"method"`
	}
	if !middleware.BindJSON(c, &req) {
		return
	}
	if req.Method == "" {
		req.Method = pkce.MethodS256
	}
	if err := pkce.ValidateMethod(req.Method); err != nil {
		abortError(c, err)
		return
	}

	if err := h.svc.PKCE.StoreChallenge(ctx, req.State, req.Challenge); err != nil {
		h.logger.Error(ctx, "Failed to store PKCE challenge", logging.Error("error", err))
		abortError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"state":      req.State,
		"method":     req.Method,
		"expires_in": int(h.svc.PKCE.ChallengeTTL().Seconds()),
	})
}

// VerifyPKCEChallenge consumes the stored challenge for state and
// checks the presented verifier. The challenge is single use either
// way, so a failed verify burns the state.
func (h *Handler) VerifyPKCEChallenge(c *gin.Context) {
	ctx := c.Request.Context()

	if h.svc.PKCE == nil || !h.svc.PKCE.Enabled() {
		middleware.AbortWithAppError(c, apperrors.ErrStateViolation.WithMessage("PKCE is disabled"))
		return
	}

	var req struct {
		State    string `json:"state" binding:"required,max=255"`
		Verifier string `json:"verifier" binding:"required,min=43,max=128"`
	}
	if !middleware.BindJSON(c, &req) {
		return
	}

	if !h.svc.PKCE.VerifyChallenge(ctx, req.State, req.Verifier) {
		middleware.AbortWithAppError(c, apperrors.ErrAuthInvalid.WithMessage("PKCE verification failed"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"verified": true})
}
