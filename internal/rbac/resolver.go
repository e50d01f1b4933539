package rbac

import (
	"context"
)

// Resolver computes the effective permission set for a principal from
// its translated roles, groups and direct permissions.
type Resolver struct {
	roles  *RoleService
	groups *GroupService
}

func NewResolver(roles *RoleService, groups *GroupService) *Resolver {
	return &Resolver{roles: roles, groups: groups}
}

// EffectivePermissions unions role expansion, group expansion and the
// principal's direct permissions into one sorted set.
func (r *Resolver) EffectivePermissions(ctx context.Context, translation *Translation) ([]string, error) {
	if translation == nil {
		return nil, nil
	}

	set := make(map[string]struct{})
	for _, p := range translation.Permissions {
		if p != "" {
			set[p] = struct{}{}
		}
	}

	if r.roles != nil && len(translation.Roles) > 0 {
		expanded, err := r.roles.Expand(ctx, translation.Roles)
		if err != nil {
			return nil, err
		}
		for _, p := range expanded {
			set[p] = struct{}{}
		}
	}

	if r.groups != nil && len(translation.Groups) > 0 {
		expanded, err := r.groups.Expand(ctx, translation.Groups)
		if err != nil {
			return nil, err
		}
		for _, p := range expanded {
			set[p] = struct{}{}
		}
	}

	return sortedSet(set), nil
}
