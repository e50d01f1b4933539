// Package middleware provides the HTTP middleware chain for the
// gateway: authentication (lockout gate, bearer and API key
// validation, permission resolution), permission enforcement, error
// handling, panic recovery, security headers and request rate
// limiting.
package middleware

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mwistrand/aussie-sub004/internal/apikeys"
	"github.com/mwistrand/aussie-sub004/internal/authlimit"
	"github.com/mwistrand/aussie-sub004/internal/authz"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/rbac"
	"github.com/mwistrand/aussie-sub004/internal/token"
)

// Context keys populated by Authenticate.
const (
	IdentityKey    = "auth_identity"
	PermissionsKey = "auth_permissions"
	AuthTypeKey    = "auth_type"
	APIKeyIDKey    = "auth_api_key_id"
)

// Values stored under AuthTypeKey.
const (
	AuthTypeBearer = "bearer"
	AuthTypeAPIKey = "api_key"
)

// APIKeyHeader carries API key credentials. Bearer tokens use the
// standard Authorization header; gateway keys are unprefixed base64,
// so a dedicated header keeps the two credential kinds unambiguous.
const APIKeyHeader = "X-API-Key"

// GatewayServiceID is the service id under which the gateway's own
// admin operations are authorized. Operators may override the default
// admin-only policy with an explicit policy for this id.
const GatewayServiceID = "aussie"

// Authenticator authenticates requests and resolves the caller's
// effective permissions into the request context. Credentials are
// checked against the lockout service before any expensive validation
// runs; failures feed back into it.
type Authenticator struct {
	pipeline   *token.Pipeline
	keys       *apikeys.Service
	limits     *authlimit.Service
	translator *rbac.Translator
	resolver   *rbac.Resolver
	evaluator  *authz.Evaluator
	logger     logging.Logger
}

// NewAuthenticator builds the auth middleware. Every collaborator
// except the pipeline may be nil: a nil limits skips the lockout gate,
// a nil keys rejects API key credentials, nil translator/resolver fall
// back to the token's direct permission claims, and a nil evaluator
// denies every RequirePermission check.
func NewAuthenticator(pipeline *token.Pipeline, keys *apikeys.Service, limits *authlimit.Service,
	translator *rbac.Translator, resolver *rbac.Resolver, evaluator *authz.Evaluator,
	logger logging.Logger) *Authenticator {

	return &Authenticator{
		pipeline:   pipeline,
		keys:       keys,
		limits:     limits,
		translator: translator,
		resolver:   resolver,
		evaluator:  evaluator,
		logger:     logger.WithField("component", "middleware.auth"),
	}
}

// Authenticate resolves the request's credential into an identity and
// effective permission set stored on the gin context. Requests with no
// credential pass through anonymous; RequireAuth and RequirePermission
// decide whether anonymous callers may proceed. Invalid credentials
// and active lockouts abort here.
func (a *Authenticator) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(APIKeyHeader); key != "" {
			a.authenticateAPIKey(c, key)
			return
		}
		a.authenticateBearer(c, bearerToken(c))
	}
}

func (a *Authenticator) authenticateAPIKey(c *gin.Context, plaintext string) {
	ctx := c.Request.Context()
	ipKey := authlimit.IPKey(c.ClientIP())
	keyKey := authlimit.APIKeyKey(plaintext)

	if a.limits != nil {
		if d := a.limits.Check(ctx, ipKey, keyKey); !d.Allowed {
			abortLocked(c, d)
			return
		}
	}

	if a.keys == nil {
		AbortWithAppError(c, apperrors.ErrAuthInvalid.WithMessage("API key authentication is not enabled"))
		return
	}

	key, err := a.keys.Validate(ctx, plaintext)
	if err != nil {
		if a.limits != nil {
			a.limits.RecordFailure(ctx, ipKey, keyKey, "api_key_rejected")
		}
		a.logger.Info(ctx, "API key rejected",
			logging.String("client_ip", c.ClientIP()),
			logging.String("path", c.Request.URL.Path))
		AbortWithAppError(c, apperrors.ErrAuthInvalid.WithMessage("invalid API key"))
		return
	}
	if a.limits != nil {
		a.limits.ClearFailures(ctx, ipKey, keyKey)
	}

	c.Set(AuthTypeKey, AuthTypeAPIKey)
	c.Set(APIKeyIDKey, key.KeyID)
	c.Set(IdentityKey, &token.Identity{
		Subject:  "apikey:" + key.KeyID,
		Provider: "apikey",
		Claims:   map[string]interface{}{"permissions": key.Permissions},
	})
	c.Set(PermissionsKey, key.Permissions)
	c.Next()
}

func (a *Authenticator) authenticateBearer(c *gin.Context, bearer string) {
	ctx := c.Request.Context()

	if bearer == "" {
		c.Next()
		return
	}

	// Only the IP axis can gate here; the subject is unknown until the
	// token validates.
	ipKey := authlimit.IPKey(c.ClientIP())
	if a.limits != nil {
		if d := a.limits.Check(ctx, ipKey, ""); !d.Allowed {
			abortLocked(c, d)
			return
		}
	}

	result := a.pipeline.Validate(ctx, bearer)
	switch result.Status {
	case token.StatusNoToken:
		// Auth is disabled; the request proceeds anonymous.
		c.Next()
		return
	case token.StatusInvalid:
		if a.limits != nil {
			a.limits.RecordFailure(ctx, ipKey, "", result.Reason)
		}
		a.logger.Info(ctx, "Bearer token rejected",
			logging.String("client_ip", c.ClientIP()),
			logging.String("reason", result.Reason),
			logging.String("path", c.Request.URL.Path))
		AbortWithAppError(c, apperrors.ErrAuthInvalid.WithMessage(result.Reason))
		return
	}

	identity := result.Identity
	if a.limits != nil {
		a.limits.ClearFailures(ctx, ipKey, authlimit.UserKey(identity.Subject))
	}

	permissions, err := a.resolvePermissions(ctx, identity)
	if err != nil {
		a.logger.Error(ctx, "Permission resolution failed",
			logging.String("subject", identity.Subject),
			logging.Error("error", err))
		AbortWithAppError(c, apperrors.ErrInternal.WithMessage("permission resolution failed"))
		return
	}

	c.Set(AuthTypeKey, AuthTypeBearer)
	c.Set(IdentityKey, identity)
	c.Set(PermissionsKey, permissions)
	c.Next()
}

// resolvePermissions computes the caller's effective permissions:
// claims translation when enabled, else the token's raw
// roles/groups/permissions claims, expanded through the role and group
// mappings.
func (a *Authenticator) resolvePermissions(ctx context.Context, identity *token.Identity) ([]string, error) {
	translation := &rbac.Translation{
		Roles:       rbac.ClaimStrings(identity.Claims["roles"]),
		Groups:      rbac.ClaimStrings(identity.Claims["groups"]),
		Permissions: rbac.ClaimStrings(identity.Claims["permissions"]),
	}
	if a.translator != nil && a.translator.Enabled() {
		translated, err := a.translator.Translate(ctx, identity.Issuer, identity.Claims)
		if err != nil {
			return nil, err
		}
		translation = translated
	}
	if a.resolver == nil {
		return translation.Permissions, nil
	}
	return a.resolver.EffectivePermissions(ctx, translation)
}

// RequireAuth rejects anonymous requests. Mount after Authenticate on
// surfaces that must not serve unauthenticated callers.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := IdentityFrom(c); !ok {
			AbortWithAppError(c, apperrors.ErrAuthInvalid.WithMessage("authentication required"))
			return
		}
		c.Next()
	}
}

// RequirePermission enforces the named operation against the gateway's
// own service policy. Anonymous callers get 401, authenticated callers
// without the permission 403.
func (a *Authenticator) RequirePermission(operation string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			AbortWithAppError(c, apperrors.ErrAuthInvalid.WithMessage("authentication required"))
			return
		}

		permissions := PermissionsFrom(c)
		if a.evaluator == nil || !a.evaluator.IsAuthorizedForService(GatewayServiceID, operation, permissions) {
			a.logger.Info(c.Request.Context(), "Permission denied",
				logging.String("subject", identity.Subject),
				logging.String("operation", operation),
				logging.String("path", c.Request.URL.Path))
			AbortWithAppError(c, apperrors.ErrForbidden)
			return
		}
		c.Next()
	}
}

// IdentityFrom returns the authenticated identity, false when the
// request is anonymous.
func IdentityFrom(c *gin.Context) (*token.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*token.Identity)
	return identity, ok && identity != nil
}

// PermissionsFrom returns the caller's effective permissions, nil for
// anonymous requests.
func PermissionsFrom(c *gin.Context) []string {
	v, ok := c.Get(PermissionsKey)
	if !ok {
		return nil
	}
	permissions, _ := v.([]string)
	return permissions
}

// AuthTypeFrom reports how the request authenticated, empty for
// anonymous requests.
func AuthTypeFrom(c *gin.Context) string {
	return c.GetString(AuthTypeKey)
}

// bearerToken extracts the token from the Authorization header, empty
// when the header is absent or uses another scheme.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func abortLocked(c *gin.Context, d authlimit.Decision) {
	c.Header("Retry-After", strconv.FormatInt(d.RetryAfterSeconds, 10))
	AbortWithAppError(c, apperrors.Locked(d.Key, d.RetryAfterSeconds, d.LockoutExpiresAt))
}
