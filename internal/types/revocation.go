package types

import "time"

// RevokedToken records a single revoked token by its JWT ID. The row is
// reclaimable once ExpiresAt passes, since the token would be rejected for
// expiry anyway.
type RevokedToken struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
	RevokedAt time.Time `json:"revoked_at"`
}

// UserRevocation invalidates every token a subject obtained before
// IssuedBefore. ExpiresAt bounds how long the rule has to be enforced,
// typically the maximum token lifetime past the revocation instant.
type UserRevocation struct {
	UserID       string    `json:"user_id"`
	IssuedBefore time.Time `json:"issued_before"`
	ExpiresAt    time.Time `json:"expires_at"`
	RevokedAt    time.Time `json:"revoked_at"`
}

// Covers reports whether a token issued at iat falls under this rule.
func (r *UserRevocation) Covers(iat time.Time) bool {
	return iat.Before(r.IssuedBefore)
}
