// Package api exposes the gateway's HTTP surface: the public token
// exchange and PKCE endpoints, the JWKS document, and the admin API
// for signing keys, API keys, revocations, roles, groups and lockouts.
package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/mwistrand/aussie-sub004/internal/apikeys"
	"github.com/mwistrand/aussie-sub004/internal/authlimit"
	"github.com/mwistrand/aussie-sub004/internal/authz"
	"github.com/mwistrand/aussie-sub004/internal/config"
	"github.com/mwistrand/aussie-sub004/internal/jwks"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/middleware"
	"github.com/mwistrand/aussie-sub004/internal/pkce"
	"github.com/mwistrand/aussie-sub004/internal/rbac"
	"github.com/mwistrand/aussie-sub004/internal/revocation"
	"github.com/mwistrand/aussie-sub004/internal/rotation"
	"github.com/mwistrand/aussie-sub004/internal/signing"
	"github.com/mwistrand/aussie-sub004/internal/token"
	"github.com/mwistrand/aussie-sub004/internal/validation"
)

// Services bundles the domain services the handlers dispatch to. Nil
// members disable the corresponding endpoints with a 409 rather than
// a panic, so partial deployments (for example, no redis) stay up.
type Services struct {
	Registry   *signing.Registry
	Rotation   *rotation.Service
	JWKS       *jwks.Cache
	Issuer     *token.Issuer
	Evaluator  *authz.Evaluator
	Revocation *revocation.Service
	APIKeys    *apikeys.Service
	Limits     *authlimit.Service
	PKCE       *pkce.Service
	Roles      *rbac.RoleService
	Groups     *rbac.GroupService
}

type Handler struct {
	cfg       *config.Config
	svc       Services
	validator *validation.Validator
	logger    logging.Logger
}

func NewHandler(cfg *config.Config, svc Services, logger logging.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		svc:       svc,
		validator: validation.NewValidator(),
		logger:    logger.WithField("component", "api"),
	}
}

// subjectOf names the caller for audit fields. Admin routes sit behind
// authentication, so the fallback only shows up in logs for internal
// calls.
func subjectOf(c *gin.Context) string {
	if identity, ok := middleware.IdentityFrom(c); ok {
		return identity.Subject
	}
	return "anonymous"
}

// abortValidation renders a BindAndValidate failure: field errors get
// the structured details shape, parse errors just the message.
func (h *Handler) abortValidation(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		middleware.AbortValidation(c, verrs.Details())
		return
	}
	middleware.AbortBadRequest(c, err.Error())
}

// abortError forwards a service error to the error handler: AppErrors
// render with their own status, anything else as a 500.
func abortError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
