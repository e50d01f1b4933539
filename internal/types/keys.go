package types

import "time"

// KeyStatus is the lifecycle state of an internal signing key. Transitions
// are strictly forward: PENDING -> ACTIVE -> DEPRECATED -> RETIRED.
type KeyStatus string

const (
	KeyStatusPending    KeyStatus = "PENDING"
	KeyStatusActive     KeyStatus = "ACTIVE"
	KeyStatusDeprecated KeyStatus = "DEPRECATED"
	KeyStatusRetired    KeyStatus = "RETIRED"
)

// CanVerify reports whether tokens signed by a key in this state are still
// accepted. Only ACTIVE keys sign; ACTIVE and DEPRECATED keys verify.
func (s KeyStatus) CanVerify() bool {
	return s == KeyStatusActive || s == KeyStatusDeprecated
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
// Every legal move is a single step forward, except that a PENDING key
// that never activates may be retired directly.
func (s KeyStatus) CanTransitionTo(next KeyStatus) bool {
	switch s {
	case KeyStatusPending:
		return next == KeyStatusActive || next == KeyStatusRetired
	case KeyStatusActive:
		return next == KeyStatusDeprecated
	case KeyStatusDeprecated:
		return next == KeyStatusRetired
	default:
		return false
	}
}

// SigningKey is the persisted record of an internally generated JWS key
// pair. PrivatePEM is encrypted at rest when an encryption key is
// configured; the plaintext PEM never leaves the signing registry.
type SigningKey struct {
	KID          string     `json:"kid"`
	Algorithm    string     `json:"algorithm"`
	PrivatePEM   string     `json:"-"`
	PublicPEM    string     `json:"public_pem"`
	Status       KeyStatus  `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ActivatedAt  *time.Time `json:"activated_at,omitempty"`
	DeprecatedAt *time.Time `json:"deprecated_at,omitempty"`
	RetiredAt    *time.Time `json:"retired_at,omitempty"`
}

// RotationAudit is one row of the key rotation audit trail.
type RotationAudit struct {
	ID        string    `json:"id"`
	KID       string    `json:"kid"`
	Operation string    `json:"operation"`
	Trigger   string    `json:"trigger"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
