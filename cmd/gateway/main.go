package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/mwistrand/aussie-sub004/internal/api"
	"github.com/mwistrand/aussie-sub004/internal/apikeys"
	"github.com/mwistrand/aussie-sub004/internal/authlimit"
	"github.com/mwistrand/aussie-sub004/internal/authz"
	"github.com/mwistrand/aussie-sub004/internal/backup"
	"github.com/mwistrand/aussie-sub004/internal/cache"
	"github.com/mwistrand/aussie-sub004/internal/config"
	"github.com/mwistrand/aussie-sub004/internal/crypto"
	"github.com/mwistrand/aussie-sub004/internal/db"
	"github.com/mwistrand/aussie-sub004/internal/health"
	"github.com/mwistrand/aussie-sub004/internal/jwks"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/middleware"
	"github.com/mwistrand/aussie-sub004/internal/pkce"
	"github.com/mwistrand/aussie-sub004/internal/rbac"
	"github.com/mwistrand/aussie-sub004/internal/revocation"
	"github.com/mwistrand/aussie-sub004/internal/rotation"
	"github.com/mwistrand/aussie-sub004/internal/signing"
	"github.com/mwistrand/aussie-sub004/internal/token"
)

// version is stamped at build time; dev builds report "dev".
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal("Failed to load configuration: ", err)
	}

	// Setup logging
	logger, err := logging.NewStructuredLogger(&logging.LogConfig{
		Level:          cfg.LogLevel.String(),
		Format:         cfg.LogFormat,
		Output:         "stdout",
		ServiceName:    "aussie-gateway",
		Version:        version,
		Environment:    cfg.Environment,
		TracingEnabled: cfg.Tracing.Enabled,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		TracingSampler: cfg.Tracing.SamplingRate,
	})
	if err != nil {
		logrus.Fatal("Failed to initialize logging: ", err)
	}
	logging.SetLogger(logger)

	// Root context for background services; cancelled on shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	dbCfg := db.DefaultDatabaseConfig()
	dbCfg.URL = cfg.DatabaseURL
	if cfg.DatabaseMaxConns > 0 {
		dbCfg.MaxOpenConns = cfg.DatabaseMaxConns
	}
	manager, err := db.NewDatabaseManager(dbCfg)
	if err != nil {
		logger.Fatal(ctx, "Failed to connect to database", logging.Error("error", err))
	}
	defer manager.Close()

	// Run database migrations
	if err := db.Migrate(manager.GetDB()); err != nil {
		logger.Fatal(ctx, "Failed to run database migrations", logging.Error("error", err))
	}

	// Encryption at rest. An empty key stores values plaintext-tagged;
	// Validate has already refused that in production.
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key, cfg.Encryption.KeyID, logger)
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize encryption", logging.Error("error", err))
	}

	repos := db.NewRepositories(manager.GetDB(), encryptor)

	// Redis is optional: without it revocation pub/sub and the shared
	// PKCE store are unavailable, but the gateway still serves.
	var redis *cache.RedisCache
	if cfg.Redis.Enabled {
		redis, err = cache.NewRedisCache(&cache.CacheConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Warn(ctx, "Redis unavailable, falling back to local caches",
				logging.Error("error", err))
			redis = nil
		}
	}
	var pubsub cache.CacheService
	if redis != nil {
		pubsub = redis
	}

	// Key escrow mirrors new signing keys to object storage.
	var escrow rotation.Escrow
	if cfg.Backup.Enabled {
		client, err := backup.NewClient(ctx, cfg.Backup, encryptor, logger)
		if err != nil {
			logger.Fatal(ctx, "Failed to initialize key escrow", logging.Error("error", err))
		}
		escrow = client
	}

	// Signing key lifecycle
	registry := signing.NewRegistry(repos.SigningKeys, cfg.Rotation.KeySize, logger)
	rotationSvc := rotation.NewService(registry, repos.SigningKeys, repos.RotationAudit,
		escrow, cfg.Rotation, logger)
	rotationSvc.Start(ctx)
	if err := rotationSvc.EnsureActiveKey(ctx); err != nil {
		logger.Fatal(ctx, "No active signing key available", logging.Error("error", err))
	}
	scheduler := rotation.NewScheduler(rotationSvc, registry, cfg.Rotation, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Token revocation
	revocationSvc := revocation.NewService(cfg.Revocation, repos.TokenRevocations, pubsub, logger)
	revocationSvc.Start(ctx)

	// Validation pipeline over the configured external providers
	jwksCache := jwks.NewCache(cfg.JWKS, logger)
	pipeline := token.NewPipeline(cfg.Auth, cfg.Providers, revocationSvc, logger,
		token.NewJWTPlugin(jwksCache, logger),
		token.NewOIDCPlugin(jwksCache, logger))

	// RBAC: roles, groups, claim translation and permission resolution
	roleSvc := rbac.NewRoleService(repos.Roles, logger, 0)
	groupSvc := rbac.NewGroupService(repos.Groups, logger, 0)
	translator := rbac.NewTranslator(cfg.Translation, logger,
		rbac.NewStandardProvider(),
		rbac.NewMappedProvider(repos.TranslationConfigs, logger))
	resolver := rbac.NewResolver(roleSvc, groupSvc)

	// Internal token issuance
	issuer := token.NewIssuer(cfg.Issuance, resolver, logger,
		token.NewJWSPlugin(cfg.Issuance, registry, logger))

	// API keys, with the bootstrap path for a fresh or locked-out install
	apiKeys := apikeys.NewService(cfg.APIKeys, repos.APIKeys, logger)
	bootstrapper := apikeys.NewBootstrapper(cfg.Bootstrap, apiKeys, repos.APIKeys, logger)
	should, err := bootstrapper.ShouldBootstrap(ctx)
	if err != nil {
		logger.Fatal(ctx, "Bootstrap check failed", logging.Error("error", err))
	}
	if should {
		if _, err := bootstrapper.Bootstrap(ctx); err != nil {
			logger.Fatal(ctx, "Bootstrap failed", logging.Error("error", err))
		}
	}

	// Failed attempt tracking and lockouts
	limits := authlimit.NewService(cfg.RateLimit, repos.FailedAttempts, logger)

	// Service authorization policies
	policies := map[string]authz.Policy{}
	if cfg.PoliciesFile != "" {
		policies, err = authz.LoadPolicies(cfg.PoliciesFile, logger)
		if err != nil {
			logger.Fatal(ctx, "Failed to load authorization policies", logging.Error("error", err))
		}
	}
	evaluator := authz.NewEvaluator(policies, logger)

	// PKCE challenge storage
	var store pkce.Store
	switch cfg.PKCE.StorageProvider {
	case "redis":
		if redis == nil {
			logger.Fatal(ctx, "PKCE storage is set to redis but redis is unavailable")
		}
		store = pkce.NewRedisStore(redis)
	case "database":
		store = pkce.NewDatabaseStore(repos.PKCEChallenges)
	default:
		store = pkce.NewMemoryStore()
	}
	pkceSvc := pkce.NewService(cfg.PKCE, store, logger)

	// Health probes
	checkers := []health.Checker{
		health.NewDatabaseChecker(manager.GetDB()),
		health.NewSigningChecker(registry),
		health.NewMemoryChecker(0),
	}
	if redis != nil {
		checkers = append(checkers, health.NewRedisChecker(redis))
	}
	healthManager := health.NewManager(version, checkers...)

	// HTTP surface
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	auth := middleware.NewAuthenticator(pipeline, apiKeys, limits, translator, resolver, evaluator, logger)
	adminLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{}, logger)
	defer adminLimiter.Stop()

	handler := api.NewHandler(cfg, api.Services{
		Registry:   registry,
		Rotation:   rotationSvc,
		JWKS:       jwksCache,
		Issuer:     issuer,
		Evaluator:  evaluator,
		Revocation: revocationSvc,
		APIKeys:    apiKeys,
		Limits:     limits,
		PKCE:       pkceSvc,
		Roles:      roleSvc,
		Groups:     groupSvc,
	}, logger)

	router := api.NewRouter(api.RouterConfig{
		Handler:      handler,
		Auth:         auth,
		AdminLimiter: adminLimiter,
		Health:       healthManager,
		Logger:       logger,
	})

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info(ctx, "Aussie gateway starting",
			logging.String("port", cfg.Port),
			logging.String("environment", cfg.Environment),
			logging.String("version", version),
			logging.Int("providers", len(cfg.Providers)),
			logging.Bool("issuance", cfg.Issuance.Issuer != ""))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "Failed to start server", logging.Error("error", err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "Shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal(shutdownCtx, "Server forced to shutdown", logging.Error("error", err))
	}

	logger.Info(shutdownCtx, "Server exiting")
}
