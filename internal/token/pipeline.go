package token

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/config"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/monitoring"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// ValidatorPlugin verifies a bearer token against one provider's
// configuration. Plugins self-describe so the pipeline can order them
// and skip the ones a provider cannot use.
type ValidatorPlugin interface {
	Name() string
	Priority() int
	// Available reports whether this plugin can serve the given
	// provider (for example, the jwt plugin needs a JWKS URI).
	Available(provider config.Provider) bool
	Validate(ctx context.Context, bearer string, provider config.Provider) Validation
}

// RevocationChecker is the revocation service surface the pipeline
// consults after a token validates.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti, userID string, issuedAt, expiresAt time.Time) bool
}

// Pipeline runs bearer tokens through every configured provider and
// validator plugin until one accepts, then applies the revocation
// check.
type Pipeline struct {
	cfg        config.AuthConfig
	providers  []config.Provider
	plugins    []ValidatorPlugin
	revocation RevocationChecker
	logger     logging.Logger
}

// NewPipeline builds a pipeline. Providers are iterated in ascending
// id order so validation order is deterministic per run; plugins in
// descending priority (name breaks ties).
func NewPipeline(cfg config.AuthConfig, providers []config.Provider, revocation RevocationChecker,
	logger logging.Logger, plugins ...ValidatorPlugin) *Pipeline {

	sorted := append([]config.Provider(nil), providers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	ordered := append([]ValidatorPlugin(nil), plugins...)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Priority() != ordered[j].Priority() {
			return ordered[i].Priority() > ordered[j].Priority()
		}
		return ordered[i].Name() < ordered[j].Name()
	})

	p := &Pipeline{
		cfg:        cfg,
		providers:  sorted,
		plugins:    ordered,
		revocation: revocation,
		logger:     logger.WithField("component", "token.pipeline"),
	}
	if cfg.DangerousNoop {
		p.logger.Warn(context.Background(),
			"Auth running in dangerous-noop mode, every request is accepted with wildcard permissions")
	}
	return p
}

// Validate classifies a bearer token. It never returns an error:
// every expected condition maps to a Validation state.
func (p *Pipeline) Validate(ctx context.Context, bearer string) Validation {
	if !p.cfg.Enabled {
		return NoToken()
	}
	if p.cfg.DangerousNoop {
		return Valid(&Identity{
			Subject:  "anonymous",
			Provider: "noop",
			Claims:   map[string]interface{}{"permissions": []string{types.PermissionWildcard}},
		})
	}
	if bearer == "" {
		return NoToken()
	}

	ctx, span := logging.StartSpan(ctx, "auth.validate_token")
	defer span.End()

	start := time.Now()
	for _, provider := range p.providers {
		for _, plugin := range p.plugins {
			if !plugin.Available(provider) {
				continue
			}
			result := plugin.Validate(ctx, bearer, provider)
			if !result.IsValid() {
				continue
			}

			monitoring.RecordTokenValidationDuration(provider.ID, time.Since(start).Seconds())
			if p.isRevoked(ctx, result.Identity) {
				monitoring.RecordTokenValidation(provider.ID, "revoked")
				logging.SetSpanError(span, errors.New("token revoked"))
				p.logger.Info(ctx, "Rejected revoked token",
					logging.String("provider", provider.ID),
					logging.String("subject", result.Identity.Subject))
				return Invalid("revoked")
			}
			monitoring.RecordTokenValidation(provider.ID, "valid")
			return result
		}
	}

	monitoring.RecordTokenValidation("none", "rejected")
	logging.SetSpanError(span, errors.New("not accepted by any provider"))
	return Invalid("not accepted by any provider")
}

func (p *Pipeline) isRevoked(ctx context.Context, identity *Identity) bool {
	if p.revocation == nil {
		return false
	}
	return p.revocation.IsRevoked(ctx, identity.JTI(), identity.Subject,
		identity.IssuedAt, identity.ExpiresAt)
}
