package types

import "time"

// PKCEChallenge is a stored authorization challenge awaiting verification.
// Challenges are single-use: verification consumes the record atomically.
type PKCEChallenge struct {
	State     string    `json:"state"`
	Challenge string    `json:"challenge"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
