package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mwistrand/aussie-sub004/internal/config"
	"github.com/mwistrand/aussie-sub004/internal/jwks"
	"github.com/mwistrand/aussie-sub004/internal/logging"
)

// JWTPlugin validates RS256-family JWTs against a provider's JWKS
// endpoint. It is the primary validator and runs before the oidc
// plugin.
type JWTPlugin struct {
	keys   *jwks.Cache
	logger logging.Logger
}

func NewJWTPlugin(keys *jwks.Cache, logger logging.Logger) *JWTPlugin {
	return &JWTPlugin{
		keys:   keys,
		logger: logger.WithField("component", "token.jwt"),
	}
}

func (p *JWTPlugin) Name() string  { return "jwt" }
func (p *JWTPlugin) Priority() int { return 100 }

func (p *JWTPlugin) Available(provider config.Provider) bool {
	return provider.JWKSURI != ""
}

func (p *JWTPlugin) Validate(ctx context.Context, bearer string, provider config.Provider) Validation {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithIssuer(provider.Issuer),
		jwt.WithExpirationRequired(),
	)

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(bearer, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := p.keys.Key(ctx, provider.JWKSURI, kid)
		if err != nil {
			return nil, fmt.Errorf("resolving signing key: %w", err)
		}
		return key.Key, nil
	})
	if err != nil {
		p.logger.Debug(ctx, "JWT rejected",
			logging.String("provider", provider.ID),
			logging.Error("error", err))
		return Invalid(jwtRejectionReason(err))
	}

	if !audienceAccepted(claims, provider.Audiences) {
		return Invalid("audience not accepted")
	}

	return Valid(identityFromClaims(claims, provider))
}

func jwtRejectionReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "token not valid yet"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer not accepted"
	default:
		return "signature or claims check failed"
	}
}

func audienceAccepted(claims jwt.MapClaims, accepted []string) bool {
	if len(accepted) == 0 {
		return true
	}
	audiences, err := claims.GetAudience()
	if err != nil {
		return false
	}
	return audienceListAccepted(audiences, accepted)
}

// applyClaimsMapping copies the claim set, overlaying the gateway's
// canonical claim names per the provider's mapping
// (canonical name -> incoming name).
func applyClaimsMapping(claims map[string]interface{}, mapping map[string]string) map[string]interface{} {
	mapped := make(map[string]interface{}, len(claims))
	for name, value := range claims {
		mapped[name] = value
	}
	for canonical, incoming := range mapping {
		if value, ok := claims[incoming]; ok {
			mapped[canonical] = value
		}
	}
	return mapped
}

func identityFromClaims(claims jwt.MapClaims, provider config.Provider) *Identity {
	identity := &Identity{
		Issuer:   provider.Issuer,
		Provider: provider.ID,
		Claims:   applyClaimsMapping(claims, provider.ClaimsMapping),
	}
	if sub, err := claims.GetSubject(); err == nil {
		identity.Subject = sub
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		identity.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}
	return identity
}

var _ ValidatorPlugin = (*JWTPlugin)(nil)
