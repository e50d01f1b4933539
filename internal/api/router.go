package api

import (
	"github.com/gin-gonic/gin"

	"github.com/mwistrand/aussie-sub004/internal/authz"
	"github.com/mwistrand/aussie-sub004/internal/health"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/middleware"
	"github.com/mwistrand/aussie-sub004/internal/monitoring"
)

// RouterConfig carries the router's collaborators. Health and
// AdminLimiter are optional; a nil limiter leaves the admin surface
// unthrottled, which is what tests want.
type RouterConfig struct {
	Handler      *Handler
	Auth         *middleware.Authenticator
	AdminLimiter *middleware.RateLimiter
	Health       *health.Manager
	Logger       logging.Logger
	// MaxBodyBytes caps request bodies; zero uses the middleware default.
	MaxBodyBytes int64
}

// NewRouter builds the engine with the standard middleware chain and
// every route mounted. Order matters: the request id has to exist
// before the logger runs, and the error handler has to wrap everything
// that can abort with an AppError, the size limiter included.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(
		logging.RequestIDMiddleware(),
		logging.TracingMiddleware(),
		logging.RequestLoggingMiddleware(cfg.Logger),
		monitoring.HTTPMetricsMiddleware(),
		middleware.SecurityHeaders(),
		middleware.Recovery(cfg.Logger),
		middleware.ErrorHandler(cfg.Logger),
		middleware.RequestSizeLimit(cfg.MaxBodyBytes),
	)
	SetupRoutes(router, cfg)
	return router
}

// SetupRoutes mounts the API on router. Split from NewRouter so tests
// can mount onto an engine with a trimmed middleware chain.
func SetupRoutes(router *gin.Engine, cfg RouterConfig) {
	h := cfg.Handler

	if cfg.Health != nil {
		router.GET("/health", cfg.Health.HealthHandler())
		router.GET("/health/live", cfg.Health.LivenessHandler())
		router.GET("/health/ready", cfg.Health.ReadinessHandler())
	}
	router.GET("/metrics", gin.WrapH(monitoring.Handler()))
	router.GET("/.well-known/jwks.json", h.WellKnownJWKS)

	v1 := router.Group("/v1")
	v1.Use(cfg.Auth.Authenticate())
	{
		v1.POST("/auth/token", h.ExchangeToken)
		v1.POST("/pkce/challenge", h.CreatePKCEChallenge)
		v1.POST("/pkce/verify", h.VerifyPKCEChallenge)
	}

	admin := v1.Group("/admin")
	if cfg.AdminLimiter != nil {
		admin.Use(cfg.AdminLimiter.Middleware())
	}
	admin.Use(middleware.RequireAuth())

	read := cfg.Auth.RequirePermission(authz.OpConfigRead)
	create := cfg.Auth.RequirePermission(authz.OpConfigCreate)
	update := cfg.Auth.RequirePermission(authz.OpConfigUpdate)
	remove := cfg.Auth.RequirePermission(authz.OpConfigDelete)

	{
		// Signing key lifecycle
		admin.GET("/signing-keys", read, h.ListSigningKeys)
		admin.POST("/signing-keys", create, h.CreateSigningKey)
		admin.POST("/signing-keys/rotate", update, h.RotateSigningKeys)
		admin.GET("/signing-keys/:keyId", read, h.GetSigningKey)
		admin.GET("/signing-keys/:keyId/audit", read, h.SigningKeyAudit)
		admin.POST("/signing-keys/:keyId/activate", update, h.ActivateSigningKey)
		admin.POST("/signing-keys/:keyId/deprecate", update, h.DeprecateSigningKey)
		admin.POST("/signing-keys/:keyId/retire", update, h.RetireSigningKey)
		admin.DELETE("/signing-keys/:keyId", remove, h.DeleteSigningKey)

		// Upstream JWKS cache
		admin.GET("/jwks-cache", read, h.JWKSCacheStatus)

		// API keys
		admin.GET("/apikeys", read, h.ListAPIKeys)
		admin.POST("/apikeys", create, h.CreateAPIKey)
		admin.DELETE("/apikeys/:keyId", remove, h.RevokeAPIKey)

		// Revocations
		admin.POST("/revocations/token", update, h.RevokeToken)
		admin.POST("/revocations/user", update, h.RevokeUser)
		admin.GET("/revocations/status", read, h.RevocationStatus)
		admin.GET("/revocations/stream", read, h.StreamRevocations)

		// Role mappings
		admin.GET("/roles", read, h.ListRoles)
		admin.POST("/roles", create, h.CreateRole)
		admin.GET("/roles/:roleId", read, h.GetRole)
		admin.PUT("/roles/:roleId", update, h.UpdateRole)
		admin.DELETE("/roles/:roleId", remove, h.DeleteRole)

		// Group mappings
		admin.GET("/groups", read, h.ListGroups)
		admin.POST("/groups", create, h.CreateGroup)
		admin.GET("/groups/:groupId", read, h.GetGroup)
		admin.PUT("/groups/:groupId", update, h.UpdateGroup)
		admin.DELETE("/groups/:groupId", remove, h.DeleteGroup)

		// Lockouts
		admin.GET("/lockouts", read, h.ListLockouts)
		admin.GET("/lockouts/:key", read, h.GetLockout)
		admin.DELETE("/lockouts/:key", remove, h.ClearLockout)
	}
}
