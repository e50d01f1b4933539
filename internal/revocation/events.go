package revocation

import (
	"encoding/json"
	"time"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
)

// Event type discriminators on the revocation channel.
const (
	EventJTIRevoked  = "jti_revoked"
	EventUserRevoked = "user_revoked"
)

// Event is the cross-instance revocation record. Timestamps travel as
// epoch seconds so subscribers in any runtime can decode them.
type Event struct {
	Type         string `json:"type"`
	JTI          string `json:"jti,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	IssuedBefore int64  `json:"issued_before,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
}

func NewJTIRevokedEvent(jti string, expiresAt time.Time) Event {
	return Event{
		Type:      EventJTIRevoked,
		JTI:       jti,
		ExpiresAt: expiresAt.Unix(),
	}
}

func NewUserRevokedEvent(userID string, issuedBefore, expiresAt time.Time) Event {
	return Event{
		Type:         EventUserRevoked,
		UserID:       userID,
		IssuedBefore: issuedBefore.Unix(),
		ExpiresAt:    expiresAt.Unix(),
	}
}

// ParseEvent decodes and validates a channel payload.
func ParseEvent(payload []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return Event{}, apperrors.ErrValidation.WithMessage("malformed revocation event").WithError(err)
	}

	switch evt.Type {
	case EventJTIRevoked:
		if evt.JTI == "" {
			return Event{}, apperrors.ErrValidation.WithMessage("revocation event missing jti")
		}
	case EventUserRevoked:
		if evt.UserID == "" {
			return Event{}, apperrors.ErrValidation.WithMessage("revocation event missing user_id")
		}
	default:
		return Event{}, apperrors.ErrValidation.WithMessage("unknown revocation event type").WithDetails(map[string]interface{}{
			"type": evt.Type,
		})
	}
	return evt, nil
}

func (e Event) ExpiresAtTime() time.Time {
	return time.Unix(e.ExpiresAt, 0)
}

func (e Event) IssuedBeforeTime() time.Time {
	return time.Unix(e.IssuedBefore, 0)
}
