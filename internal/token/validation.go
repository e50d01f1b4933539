// Package token validates incoming bearer tokens against the
// configured identity providers and issues the gateway's own signed
// tokens for downstream services.
package token

import (
	"time"
)

// Status classifies the outcome of bearer validation.
type Status int

const (
	// StatusNoToken means no credential was presented (or auth is
	// disabled); the request is anonymous, not rejected.
	StatusNoToken Status = iota
	// StatusInvalid means a credential was presented and rejected.
	StatusInvalid
	// StatusValid means the credential was accepted by a provider.
	StatusValid
)

func (s Status) String() string {
	switch s {
	case StatusNoToken:
		return "no_token"
	case StatusInvalid:
		return "invalid"
	case StatusValid:
		return "valid"
	default:
		return "unknown"
	}
}

// Identity is the authenticated principal extracted from a valid
// token. Claims hold the mapped claim set keyed by the gateway's
// canonical names.
type Identity struct {
	Subject   string                 `json:"subject"`
	Issuer    string                 `json:"issuer"`
	Provider  string                 `json:"provider"`
	Claims    map[string]interface{} `json:"claims"`
	IssuedAt  time.Time              `json:"issued_at"`
	ExpiresAt time.Time              `json:"expires_at"`
}

// JTI returns the token's unique id claim, empty when absent.
func (i *Identity) JTI() string {
	if i == nil {
		return ""
	}
	jti, _ := i.Claims["jti"].(string)
	return jti
}

// Validation is the sum-type result of the validation pipeline.
// Exactly one of the three states holds; Identity is non-nil iff the
// status is StatusValid.
type Validation struct {
	Status   Status    `json:"status"`
	Reason   string    `json:"reason,omitempty"`
	Identity *Identity `json:"identity,omitempty"`
}

func NoToken() Validation {
	return Validation{Status: StatusNoToken}
}

func Invalid(reason string) Validation {
	return Validation{Status: StatusInvalid, Reason: reason}
}

func Valid(identity *Identity) Validation {
	return Validation{Status: StatusValid, Identity: identity}
}

func (v Validation) IsValid() bool { return v.Status == StatusValid }
