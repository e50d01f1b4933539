package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/middleware"
	"github.com/mwistrand/aussie-sub004/internal/token"
	"github.com/mwistrand/aussie-sub004/internal/validation"
)

// TokenExchangeResponse is the OAuth-shaped success body for
// POST /v1/auth/token.
type TokenExchangeResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	ServiceID   string `json:"service_id"`
	Audience    string `json:"audience,omitempty"`
}

// ExchangeToken trades a validated upstream credential for an internal
// token scoped to one service. The auth middleware has already run the
// validation pipeline; this handler only authorizes the optional
// operation and asks the issuer to sign.
func (h *Handler) ExchangeToken(c *gin.Context) {
	ctx := c.Request.Context()

	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		middleware.AbortWithAppError(c, apperrors.ErrAuthInvalid.WithMessage("a valid credential is required to exchange tokens"))
		return
	}

	var req validation.TokenExchangeRequest
	if err := validation.BindAndValidate(h.validator, c, &req); err != nil {
		h.abortValidation(c, err)
		return
	}

	permissions := middleware.PermissionsFrom(c)
	if req.Operation != "" {
		if h.svc.Evaluator == nil || !h.svc.Evaluator.IsAuthorizedForService(req.ServiceID, req.Operation, permissions) {
			middleware.AbortWithAppError(c, apperrors.ErrForbidden.WithDetails(map[string]string{
				"service_id": req.ServiceID,
				"operation":  req.Operation,
			}))
			return
		}
	}

	if h.svc.Issuer == nil || !h.svc.Issuer.Enabled() {
		middleware.AbortWithAppError(c, apperrors.ErrStateViolation.WithMessage("token issuance is disabled"))
		return
	}

	signed, err := h.svc.Issuer.Issue(ctx, token.Request{
		Identity:             identity,
		ServiceID:            req.ServiceID,
		RouteAudience:        req.Audience,
		EffectivePermissions: permissions,
	})
	if err != nil {
		h.logger.Error(ctx, "Token issuance failed",
			logging.String("service_id", req.ServiceID),
			logging.String("subject", identity.Subject),
			logging.Error("error", err))
		abortError(c, err)
		return
	}
	if signed == "" {
		middleware.AbortWithAppError(c, apperrors.ErrNoActiveKey.WithMessage("no signing key is available to issue tokens"))
		return
	}

	h.logger.Info(ctx, "Issued internal token",
		logging.String("service_id", req.ServiceID),
		logging.String("subject", identity.Subject))

	c.JSON(http.StatusOK, TokenExchangeResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.tokenTTL().Seconds()),
		ServiceID:   req.ServiceID,
		Audience:    req.Audience,
	})
}

// tokenTTL mirrors the issuer plugin's clamp so expires_in matches the
// exp claim inside the signed token.
func (h *Handler) tokenTTL() time.Duration {
	ttl := h.cfg.Issuance.TokenTTL
	if h.cfg.Issuance.MaxTokenTTL > 0 && ttl > h.cfg.Issuance.MaxTokenTTL {
		ttl = h.cfg.Issuance.MaxTokenTTL
	}
	return ttl
}

// WellKnownJWKS serves the public half of every verification key. The
// document is cacheable; resource servers poll it on rotation.
func (h *Handler) WellKnownJWKS(c *gin.Context) {
	if h.svc.Registry == nil {
		middleware.AbortWithAppError(c, apperrors.ErrStateViolation.WithMessage("signing is not configured"))
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, h.svc.Registry.PublicJWKS())
}
