package rbac

import (
	"context"
	"reflect"
	"testing"
	"time"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/testutil"
)

func newResolverFixture(t *testing.T) *Resolver {
	t.Helper()
	roles, _ := newRoleFixture(t)
	groups := newGroupFixture(t)
	mustCreateRole(t, roles, "dev", "config:read")
	mustCreateRole(t, roles, "admin", "config:read", "config:write")
	mustCreateGroup(t, groups, "platform", "deploy:write")
	return NewResolver(roles, groups)
}

func TestEffectivePermissionsUnion(t *testing.T) {
	ctx := context.Background()
	resolver := newResolverFixture(t)

	tests := []struct {
		name        string
		translation *Translation
		want        []string
	}{
		{
			"roles groups and direct",
			&Translation{
				Roles:       []string{"dev"},
				Groups:      []string{"platform"},
				Permissions: []string{"custom:perm"},
			},
			[]string{"config:read", "custom:perm", "deploy:write"},
		},
		{
			"overlapping grants deduplicate",
			&Translation{Roles: []string{"dev", "admin"}, Permissions: []string{"config:read"}},
			[]string{"config:read", "config:write"},
		},
		{
			"direct only",
			&Translation{Permissions: []string{"b", "a"}},
			[]string{"a", "b"},
		},
		{
			"unknown ids grant nothing",
			&Translation{Roles: []string{"nobody"}, Groups: []string{"nowhere"}},
			nil,
		},
		{
			"empty translation",
			&Translation{},
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.EffectivePermissions(ctx, tt.translation)
			if err != nil {
				t.Fatalf("EffectivePermissions() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("EffectivePermissions() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEffectivePermissionsNilTranslation(t *testing.T) {
	resolver := newResolverFixture(t)
	got, err := resolver.EffectivePermissions(context.Background(), nil)
	if err != nil {
		t.Fatalf("EffectivePermissions(nil) error = %v", err)
	}
	if got != nil {
		t.Errorf("EffectivePermissions(nil) = %v, want nil", got)
	}
}

func TestEffectivePermissionsWithoutServices(t *testing.T) {
	resolver := NewResolver(nil, nil)
	got, err := resolver.EffectivePermissions(context.Background(),
		&Translation{Roles: []string{"dev"}, Permissions: []string{"direct:perm"}})
	if err != nil {
		t.Fatalf("EffectivePermissions() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"direct:perm"}) {
		t.Errorf("EffectivePermissions() = %v, want [direct:perm]", got)
	}
}

func TestEffectivePermissionsPropagatesExpandFailure(t *testing.T) {
	repo := testutil.NewMockRoleRepository()
	repo.GetAllMappingsFn = func(context.Context) (map[string][]string, error) {
		return nil, apperrors.ErrDatabaseUnavailable
	}
	roles := NewRoleService(repo, logging.NewTestLogger(), time.Minute)
	resolver := NewResolver(roles, nil)

	_, err := resolver.EffectivePermissions(context.Background(),
		&Translation{Roles: []string{"dev"}})
	if err == nil {
		t.Error("EffectivePermissions() with failing role expansion returned nil error")
	}
}
