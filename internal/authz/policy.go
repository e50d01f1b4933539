// Package authz evaluates per-service, per-operation permission
// policies. Services without an explicit policy fall back to a default
// that restricts every configuration operation to administrators.
package authz

import (
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// Configuration operations recognized by the default policy.
const (
	OpConfigCreate = "config:create"
	OpConfigRead   = "config:read"
	OpConfigUpdate = "config:update"
	OpConfigDelete = "config:delete"
)

// OperationPermission allows an operation when the caller holds any of
// the listed permissions.
type OperationPermission struct {
	AnyOf []string `yaml:"anyOf" json:"any_of"`
}

// Policy maps operation names to the permissions that may perform
// them. Operations absent from the policy are denied.
type Policy map[string]OperationPermission

// IsAllowed reports whether any of the caller's permissions satisfies
// the operation. Unknown operations are denied.
func (p Policy) IsAllowed(operation string, permissions []string) bool {
	op, ok := p[operation]
	if !ok {
		return false
	}
	for _, required := range op.AnyOf {
		for _, held := range permissions {
			if required == held {
				return true
			}
		}
	}
	return false
}

// DefaultPolicy restricts all configuration operations to holders of
// the admin permission.
func DefaultPolicy() Policy {
	admin := OperationPermission{AnyOf: []string{types.PermissionAdmin}}
	return Policy{
		OpConfigCreate: admin,
		OpConfigRead:   admin,
		OpConfigUpdate: admin,
		OpConfigDelete: admin,
	}
}
