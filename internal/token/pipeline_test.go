package token

import (
	"context"
	"testing"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/config"
	"github.com/mwistrand/aussie-sub004/internal/logging"
)

type stubValidator struct {
	name      string
	priority  int
	available func(config.Provider) bool
	validate  func(config.Provider) Validation
	log       *[]string
}

func (s *stubValidator) Name() string  { return s.name }
func (s *stubValidator) Priority() int { return s.priority }

func (s *stubValidator) Available(provider config.Provider) bool {
	if s.available == nil {
		return true
	}
	return s.available(provider)
}

func (s *stubValidator) Validate(ctx context.Context, bearer string, provider config.Provider) Validation {
	if s.log != nil {
		*s.log = append(*s.log, s.name+"/"+provider.ID)
	}
	if s.validate == nil {
		return Invalid("rejected")
	}
	return s.validate(provider)
}

type stubRevocation struct {
	revoked map[string]bool

	gotJTI    string
	gotUserID string
	gotIssued time.Time
	gotExpiry time.Time
}

func (s *stubRevocation) IsRevoked(ctx context.Context, jti, userID string, issuedAt, expiresAt time.Time) bool {
	s.gotJTI = jti
	s.gotUserID = userID
	s.gotIssued = issuedAt
	s.gotExpiry = expiresAt
	return s.revoked[jti]
}

func enabledAuth() config.AuthConfig {
	return config.AuthConfig{Enabled: true}
}

func TestPipelineDisabledReturnsNoToken(t *testing.T) {
	pipeline := NewPipeline(config.AuthConfig{}, nil, nil, logging.NewTestLogger(),
		&stubValidator{name: "jwt", priority: 100})

	if got := pipeline.Validate(context.Background(), "some-token"); got.Status != StatusNoToken {
		t.Errorf("Validate() status = %v, want %v", got.Status, StatusNoToken)
	}
}

func TestPipelineEmptyBearerReturnsNoToken(t *testing.T) {
	pipeline := NewPipeline(enabledAuth(), []config.Provider{{ID: "idp"}}, nil,
		logging.NewTestLogger(), &stubValidator{name: "jwt", priority: 100})

	if got := pipeline.Validate(context.Background(), ""); got.Status != StatusNoToken {
		t.Errorf("Validate() status = %v, want %v", got.Status, StatusNoToken)
	}
}

func TestPipelineDangerousNoopAcceptsEverything(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, DangerousNoop: true}
	pipeline := NewPipeline(cfg, nil, nil, logging.NewTestLogger())

	got := pipeline.Validate(context.Background(), "")
	if !got.IsValid() {
		t.Fatalf("Validate() = %+v, want valid", got)
	}
	if got.Identity.Subject != "anonymous" || got.Identity.Provider != "noop" {
		t.Errorf("identity = %+v, want anonymous/noop", got.Identity)
	}
	permissions, ok := got.Identity.Claims["permissions"].([]string)
	if !ok || len(permissions) != 1 || permissions[0] != "*" {
		t.Errorf("permissions claim = %v, want [*]", got.Identity.Claims["permissions"])
	}
}

func TestPipelineOrdersProvidersAndPlugins(t *testing.T) {
	var calls []string
	low := &stubValidator{name: "oidc", priority: 50, log: &calls}
	high := &stubValidator{name: "jwt", priority: 100, log: &calls}

	providers := []config.Provider{{ID: "zeta"}, {ID: "alpha"}}
	pipeline := NewPipeline(enabledAuth(), providers, nil, logging.NewTestLogger(), low, high)

	got := pipeline.Validate(context.Background(), "token")
	if got.Status != StatusInvalid || got.Reason != "not accepted by any provider" {
		t.Fatalf("Validate() = %+v, want invalid fallthrough", got)
	}

	want := []string{"jwt/alpha", "oidc/alpha", "jwt/zeta", "oidc/zeta"}
	if len(calls) != len(want) {
		t.Fatalf("plugin calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestPipelineSkipsUnavailablePlugins(t *testing.T) {
	var calls []string
	jwtOnly := &stubValidator{
		name:      "jwt",
		priority:  100,
		available: func(p config.Provider) bool { return p.JWKSURI != "" },
		log:       &calls,
	}

	providers := []config.Provider{{ID: "bare"}, {ID: "full", JWKSURI: "https://idp/keys"}}
	pipeline := NewPipeline(enabledAuth(), providers, nil, logging.NewTestLogger(), jwtOnly)
	pipeline.Validate(context.Background(), "token")

	if len(calls) != 1 || calls[0] != "jwt/full" {
		t.Errorf("plugin calls = %v, want [jwt/full]", calls)
	}
}

func TestPipelineFirstValidWins(t *testing.T) {
	var calls []string
	accepting := &stubValidator{
		name:     "jwt",
		priority: 100,
		log:      &calls,
		validate: func(p config.Provider) Validation {
			return Valid(&Identity{Subject: "user-1", Provider: p.ID})
		},
	}
	never := &stubValidator{name: "oidc", priority: 50, log: &calls}

	providers := []config.Provider{{ID: "alpha"}, {ID: "beta"}}
	pipeline := NewPipeline(enabledAuth(), providers, nil, logging.NewTestLogger(), never, accepting)

	got := pipeline.Validate(context.Background(), "token")
	if !got.IsValid() {
		t.Fatalf("Validate() = %+v, want valid", got)
	}
	if got.Identity.Provider != "alpha" {
		t.Errorf("identity provider = %q, want alpha", got.Identity.Provider)
	}
	if len(calls) != 1 {
		t.Errorf("plugin calls = %v, want exactly one", calls)
	}
}

func TestPipelineRejectsRevokedToken(t *testing.T) {
	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	expires := issued.Add(time.Hour)
	accepting := &stubValidator{
		name:     "jwt",
		priority: 100,
		validate: func(p config.Provider) Validation {
			return Valid(&Identity{
				Subject:   "user-1",
				Provider:  p.ID,
				Claims:    map[string]interface{}{"jti": "revoked-jti"},
				IssuedAt:  issued,
				ExpiresAt: expires,
			})
		},
	}
	revocation := &stubRevocation{revoked: map[string]bool{"revoked-jti": true}}

	pipeline := NewPipeline(enabledAuth(), []config.Provider{{ID: "idp"}}, revocation,
		logging.NewTestLogger(), accepting)

	got := pipeline.Validate(context.Background(), "token")
	if got.Status != StatusInvalid || got.Reason != "revoked" {
		t.Fatalf("Validate() = %+v, want invalid/revoked", got)
	}
	if revocation.gotJTI != "revoked-jti" || revocation.gotUserID != "user-1" {
		t.Errorf("revocation saw jti=%q user=%q, want revoked-jti/user-1",
			revocation.gotJTI, revocation.gotUserID)
	}
	if !revocation.gotIssued.Equal(issued) || !revocation.gotExpiry.Equal(expires) {
		t.Errorf("revocation saw issued=%v expiry=%v, want %v/%v",
			revocation.gotIssued, revocation.gotExpiry, issued, expires)
	}
}

func TestPipelineValidWithoutRevocationChecker(t *testing.T) {
	accepting := &stubValidator{
		name:     "jwt",
		priority: 100,
		validate: func(p config.Provider) Validation {
			return Valid(&Identity{Subject: "user-1", Provider: p.ID})
		},
	}

	pipeline := NewPipeline(enabledAuth(), []config.Provider{{ID: "idp"}}, nil,
		logging.NewTestLogger(), accepting)

	if got := pipeline.Validate(context.Background(), "token"); !got.IsValid() {
		t.Errorf("Validate() = %+v, want valid", got)
	}
}
