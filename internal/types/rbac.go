package types

import "time"

// Role maps a role identifier carried in token claims to the permissions
// it grants.
type Role struct {
	ID          string    `json:"id"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Group maps a directory group to permissions. Groups are persisted
// encrypted at rest.
type Group struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TranslationConfig tells the mapped claims provider which incoming claim
// names carry roles, groups and permissions for one issuer.
type TranslationConfig struct {
	Issuer           string    `json:"issuer"`
	RolesClaim       string    `json:"roles_claim,omitempty"`
	GroupsClaim      string    `json:"groups_claim,omitempty"`
	PermissionsClaim string    `json:"permissions_claim,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
