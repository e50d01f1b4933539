package types

import "time"

// Permission wildcards and canonical admin permission. A key or identity
// holding PermissionWildcard passes every authorization check.
const (
	PermissionWildcard = "*"
	PermissionAdmin    = "aussie:admin"
)

// APIKey is the stored form of a gateway API key. Only the SHA-256 hash of
// the plaintext is persisted; the plaintext is shown exactly once, at
// creation time.
type APIKey struct {
	KeyID       string     `json:"key_id"`
	Name        string     `json:"name"`
	KeyHash     string     `json:"-"`
	Permissions []string   `json:"permissions"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	Revoked     bool       `json:"revoked"`
}

// IsValid reports whether the key may authenticate at the given instant:
// not revoked, and either non-expiring or not yet expired.
func (k *APIKey) IsValid(now time.Time) bool {
	if k.Revoked {
		return false
	}
	return k.ExpiresAt == nil || k.ExpiresAt.After(now)
}

// IsAdmin reports whether the key carries the wildcard or the canonical
// admin permission.
func (k *APIKey) IsAdmin() bool {
	for _, p := range k.Permissions {
		if p == PermissionWildcard || p == PermissionAdmin {
			return true
		}
	}
	return false
}
