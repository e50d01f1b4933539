package token

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	jose "github.com/go-jose/go-jose/v4"

	"github.com/mwistrand/aussie-sub004/internal/config"
	"github.com/mwistrand/aussie-sub004/internal/jwks"
	"github.com/mwistrand/aussie-sub004/internal/logging"
)

const wellKnownSuffix = "/.well-known/openid-configuration"

// OIDCPlugin validates bearer tokens for providers configured with an
// OIDC discovery URI. Provider metadata is discovered lazily on first
// use and the resolved verifier is reused for the life of the process.
// Signature keys are still served through the shared JWKS cache, so a
// provider outage degrades to stale keys instead of hard failures.
type OIDCPlugin struct {
	keys   *jwks.Cache
	logger logging.Logger

	mu        sync.Mutex
	verifiers map[string]*oidc.IDTokenVerifier
}

func NewOIDCPlugin(keys *jwks.Cache, logger logging.Logger) *OIDCPlugin {
	return &OIDCPlugin{
		keys:      keys,
		logger:    logger.WithField("component", "token.oidc"),
		verifiers: make(map[string]*oidc.IDTokenVerifier),
	}
}

func (p *OIDCPlugin) Name() string  { return "oidc" }
func (p *OIDCPlugin) Priority() int { return 50 }

// Available reports whether the provider carries a discovery URI.
func (p *OIDCPlugin) Available(provider config.Provider) bool {
	return provider.DiscoveryURI != ""
}

func (p *OIDCPlugin) Validate(ctx context.Context, bearer string, provider config.Provider) Validation {
	verifier, err := p.verifier(ctx, provider)
	if err != nil {
		p.logger.Warn(ctx, "OIDC discovery failed",
			logging.String("provider", provider.ID),
			logging.Error("error", err))
		return Invalid("provider discovery failed")
	}

	idToken, err := verifier.Verify(ctx, bearer)
	if err != nil {
		p.logger.Debug(ctx, "OIDC token rejected",
			logging.String("provider", provider.ID),
			logging.Error("error", err))
		return Invalid(oidcRejectionReason(err))
	}

	if !audienceListAccepted(idToken.Audience, provider.Audiences) {
		return Invalid("audience not accepted")
	}

	claims := map[string]interface{}{}
	if err := idToken.Claims(&claims); err != nil {
		return Invalid("claims decode failed")
	}

	return Valid(&Identity{
		Subject:   idToken.Subject,
		Issuer:    provider.Issuer,
		Provider:  provider.ID,
		Claims:    applyClaimsMapping(claims, provider.ClaimsMapping),
		IssuedAt:  idToken.IssuedAt,
		ExpiresAt: idToken.Expiry,
	})
}

// verifier returns the cached verifier for the provider, running OIDC
// discovery on first use. Failed discovery is not cached, so a provider
// that was down during startup is retried on the next token.
func (p *OIDCPlugin) verifier(ctx context.Context, provider config.Provider) (*oidc.IDTokenVerifier, error) {
	p.mu.Lock()
	if v, ok := p.verifiers[provider.ID]; ok {
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()

	issuer := strings.TrimSuffix(provider.DiscoveryURI, wellKnownSuffix)
	discovered, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, err
	}

	var metadata struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := discovered.Claims(&metadata); err != nil {
		return nil, err
	}
	if metadata.JWKSURI == "" {
		return nil, errors.New("discovery document has no jwks_uri")
	}

	v := oidc.NewVerifier(issuer, &cachedKeySet{keys: p.keys, uri: metadata.JWKSURI}, &oidc.Config{
		SkipClientIDCheck:    true,
		SupportedSigningAlgs: []string{"RS256", "RS384", "RS512"},
	})

	p.mu.Lock()
	p.verifiers[provider.ID] = v
	p.mu.Unlock()
	return v, nil
}

func oidcRejectionReason(err error) string {
	var expired *oidc.TokenExpiredError
	if errors.As(err, &expired) {
		return "token expired"
	}
	return "signature or claims check failed"
}

// audienceListAccepted reports whether any token audience is in the
// provider's accepted set. Providers without an audience list accept
// tokens for any audience.
func audienceListAccepted(audiences []string, accepted []string) bool {
	if len(accepted) == 0 {
		return true
	}
	for _, have := range audiences {
		for _, want := range accepted {
			if have == want {
				return true
			}
		}
	}
	return false
}

// cachedKeySet adapts the gateway JWKS cache to the go-oidc KeySet
// interface so OIDC verification shares key fetching, TTLs and
// stale-serving with the plain JWT path.
type cachedKeySet struct {
	keys *jwks.Cache
	uri  string
}

func (s *cachedKeySet) VerifySignature(ctx context.Context, rawJWT string) ([]byte, error) {
	jws, err := jose.ParseSigned(rawJWT, []jose.SignatureAlgorithm{jose.RS256, jose.RS384, jose.RS512})
	if err != nil {
		return nil, err
	}
	kid := ""
	if len(jws.Signatures) > 0 {
		kid = jws.Signatures[0].Header.KeyID
	}
	key, err := s.keys.Key(ctx, s.uri, kid)
	if err != nil {
		return nil, err
	}
	return jws.Verify(key.Key)
}

var (
	_ ValidatorPlugin = (*OIDCPlugin)(nil)
	_ oidc.KeySet     = (*cachedKeySet)(nil)
)
