package token

import (
	"context"
	"sort"

	"github.com/mwistrand/aussie-sub004/internal/config"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/monitoring"
	"github.com/mwistrand/aussie-sub004/internal/rbac"
)

// IssuerPlugin mints an internal token for an authenticated identity.
type IssuerPlugin interface {
	Name() string
	Priority() int
	Available(ctx context.Context) bool
	Issue(ctx context.Context, identity *Identity, audience string) (string, error)
}

// Request carries everything the gateway knows about one exchange.
// EffectivePermissions is optional. When the caller already resolved
// permissions for authorization they flow through unchanged, otherwise
// the issuer expands the identity's roles claim itself.
type Request struct {
	Identity             *Identity
	ServiceID            string
	RouteAudience        string
	EffectivePermissions []string
}

// Issuer exchanges a validated upstream identity for an internal token.
// Issuance is optional. A disabled config or no available plugin yields
// an absent token (empty string, nil error) and the request proceeds
// with the upstream token only.
type Issuer struct {
	cfg      config.IssuanceConfig
	resolver *rbac.Resolver
	plugins  []IssuerPlugin
	logger   logging.Logger
}

func NewIssuer(cfg config.IssuanceConfig, resolver *rbac.Resolver, logger logging.Logger, plugins ...IssuerPlugin) *Issuer {
	sorted := make([]IssuerPlugin, len(plugins))
	copy(sorted, plugins)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority() != sorted[j].Priority() {
			return sorted[i].Priority() > sorted[j].Priority()
		}
		return sorted[i].Name() < sorted[j].Name()
	})

	return &Issuer{
		cfg:      cfg,
		resolver: resolver,
		plugins:  sorted,
		logger:   logger.WithField("component", "token.issuer"),
	}
}

func (i *Issuer) Enabled() bool { return i.cfg.Enabled() }

// Issue returns the signed internal token, or "" when issuance is
// disabled or no plugin is currently able to sign.
func (i *Issuer) Issue(ctx context.Context, req Request) (string, error) {
	if !i.cfg.Enabled() {
		return "", nil
	}
	plugin := i.selectPlugin(ctx)
	if plugin == nil {
		i.logger.Debug(ctx, "No issuer plugin available, skipping token issuance")
		return "", nil
	}

	identity := i.enrich(ctx, req)
	signed, err := plugin.Issue(ctx, identity, i.audience(req))
	if err != nil {
		return "", err
	}

	monitoring.RecordTokenIssued(req.ServiceID)
	return signed, nil
}

func (i *Issuer) selectPlugin(ctx context.Context) IssuerPlugin {
	for _, plugin := range i.plugins {
		if plugin.Available(ctx) {
			return plugin
		}
	}
	return nil
}

// enrich overlays effective_permissions onto the identity claims. The
// caller's resolved permissions win; otherwise the roles and
// permissions claims are expanded through the role mappings.
func (i *Issuer) enrich(ctx context.Context, req Request) *Identity {
	identity := req.Identity
	if identity == nil {
		identity = &Identity{}
	}

	permissions := req.EffectivePermissions
	if permissions == nil && i.resolver != nil {
		resolved, err := i.resolver.EffectivePermissions(ctx, &rbac.Translation{
			Roles:       rbac.ClaimStrings(identity.Claims["roles"]),
			Permissions: rbac.ClaimStrings(identity.Claims["permissions"]),
		})
		if err != nil {
			i.logger.Warn(ctx, "Role expansion failed during issuance",
				logging.String("subject", identity.Subject),
				logging.Error("error", err))
		} else {
			permissions = resolved
		}
	}
	if len(permissions) == 0 {
		return identity
	}

	claims := make(map[string]interface{}, len(identity.Claims)+1)
	for name, value := range identity.Claims {
		claims[name] = value
	}
	claims["effective_permissions"] = permissions

	enriched := *identity
	enriched.Claims = claims
	return &enriched
}

// audience resolves the aud claim as routeAudience, then the configured
// default, then the service ID when an audience is required at all.
func (i *Issuer) audience(req Request) string {
	if req.RouteAudience != "" {
		return req.RouteAudience
	}
	if i.cfg.DefaultAudience != "" {
		return i.cfg.DefaultAudience
	}
	if i.cfg.RequireAudience {
		return req.ServiceID
	}
	return ""
}
