package token

import (
	"testing"
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusNoToken, "no_token"},
		{StatusInvalid, "invalid"},
		{StatusValid, "valid"},
		{Status(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestValidationConstructors(t *testing.T) {
	if v := NoToken(); v.Status != StatusNoToken || v.IsValid() {
		t.Errorf("NoToken() = %+v, want no_token status", v)
	}
	if v := Invalid("expired"); v.Status != StatusInvalid || v.Reason != "expired" || v.IsValid() {
		t.Errorf("Invalid() = %+v, want invalid status with reason", v)
	}

	identity := &Identity{Subject: "user-1"}
	v := Valid(identity)
	if !v.IsValid() || v.Identity != identity {
		t.Errorf("Valid() = %+v, want valid status carrying identity", v)
	}
}

func TestIdentityJTI(t *testing.T) {
	tests := []struct {
		name     string
		identity *Identity
		want     string
	}{
		{"nil identity", nil, ""},
		{"no claims", &Identity{}, ""},
		{"string jti", &Identity{Claims: map[string]interface{}{"jti": "tok-1"}}, "tok-1"},
		{"non-string jti", &Identity{Claims: map[string]interface{}{"jti": 7}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.identity.JTI(); got != tt.want {
				t.Errorf("JTI() = %q, want %q", got, tt.want)
			}
		})
	}
}
