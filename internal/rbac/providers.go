package rbac

import (
	"context"

	"github.com/mwistrand/aussie-sub004/internal/db"
	"github.com/mwistrand/aussie-sub004/internal/logging"
)

// Default claim names read when no per-issuer override exists.
const (
	claimRoles       = "roles"
	claimGroups      = "groups"
	claimPermissions = "permissions"
)

// StandardProvider reads roles, groups and permissions from the
// conventionally named claims. It is always available and acts as the
// registry fallback.
type StandardProvider struct{}

func NewStandardProvider() *StandardProvider { return &StandardProvider{} }

func (p *StandardProvider) Name() string                     { return "standard" }
func (p *StandardProvider) Priority() int                    { return 10 }
func (p *StandardProvider) Available(_ context.Context) bool { return true }

func (p *StandardProvider) Translate(_ context.Context, _ string, claims map[string]interface{}) (*Translation, error) {
	return &Translation{
		Roles:       ClaimStrings(claims[claimRoles]),
		Groups:      ClaimStrings(claims[claimGroups]),
		Permissions: ClaimStrings(claims[claimPermissions]),
	}, nil
}

// MappedProvider reads claim names configured per issuer, for identity
// providers that put roles or groups under nonstandard claims. Issuers
// without a stored mapping fall back to the standard claim names.
type MappedProvider struct {
	repo   db.TranslationConfigRepositoryInterface
	logger logging.Logger
}

func NewMappedProvider(repo db.TranslationConfigRepositoryInterface, logger logging.Logger) *MappedProvider {
	return &MappedProvider{
		repo:   repo,
		logger: logger.WithField("component", "rbac.mapped_provider"),
	}
}

func (p *MappedProvider) Name() string                     { return "mapped" }
func (p *MappedProvider) Priority() int                    { return 50 }
func (p *MappedProvider) Available(_ context.Context) bool { return p.repo != nil }

func (p *MappedProvider) Translate(ctx context.Context, issuer string, claims map[string]interface{}) (*Translation, error) {
	rolesClaim, groupsClaim, permissionsClaim := claimRoles, claimGroups, claimPermissions

	cfg, err := p.repo.GetByIssuer(ctx, issuer)
	if err != nil {
		return nil, err
	}
	// A nil config means no override for this issuer, standard claim
	// names apply.
	if cfg != nil {
		if cfg.RolesClaim != "" {
			rolesClaim = cfg.RolesClaim
		}
		if cfg.GroupsClaim != "" {
			groupsClaim = cfg.GroupsClaim
		}
		if cfg.PermissionsClaim != "" {
			permissionsClaim = cfg.PermissionsClaim
		}
	}

	return &Translation{
		Roles:       ClaimStrings(claims[rolesClaim]),
		Groups:      ClaimStrings(claims[groupsClaim]),
		Permissions: ClaimStrings(claims[permissionsClaim]),
	}, nil
}

var (
	_ Provider = (*StandardProvider)(nil)
	_ Provider = (*MappedProvider)(nil)
)
