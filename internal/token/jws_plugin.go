package token

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mwistrand/aussie-sub004/internal/config"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/signing"
)

// registered JWT claim names that forwarding must never clobber
var reservedClaims = map[string]bool{
	"iss": true,
	"sub": true,
	"aud": true,
	"iat": true,
	"exp": true,
	"nbf": true,
	"jti": true,
}

// JWSPlugin signs internal tokens with the registry's active RSA key.
type JWSPlugin struct {
	cfg    config.IssuanceConfig
	keys   *signing.Registry
	logger logging.Logger
}

func NewJWSPlugin(cfg config.IssuanceConfig, keys *signing.Registry, logger logging.Logger) *JWSPlugin {
	return &JWSPlugin{
		cfg:    cfg,
		keys:   keys,
		logger: logger.WithField("component", "token.jws"),
	}
}

func (p *JWSPlugin) Name() string  { return "jws" }
func (p *JWSPlugin) Priority() int { return 100 }

// Available reports whether an active signing key is loaded.
func (p *JWSPlugin) Available(ctx context.Context) bool {
	_, err := p.keys.CurrentSigning()
	return err == nil
}

func (p *JWSPlugin) Issue(ctx context.Context, identity *Identity, audience string) (string, error) {
	key, err := p.keys.CurrentSigning()
	if err != nil {
		return "", err
	}
	if p.cfg.KeyID != "" && p.cfg.KeyID != key.KID() {
		p.logger.Warn(ctx, "Configured issuance key is not the active signing key, signing with active key",
			logging.String("configured_kid", p.cfg.KeyID),
			logging.String("active_kid", key.KID()))
	}

	ttl := p.cfg.TokenTTL
	if p.cfg.MaxTokenTTL > 0 && ttl > p.cfg.MaxTokenTTL {
		ttl = p.cfg.MaxTokenTTL
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss": p.cfg.Issuer,
		"sub": identity.Subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": uuid.New().String(),
	}
	if audience != "" {
		claims["aud"] = audience
	}
	for _, name := range p.cfg.ForwardedClaims {
		if reservedClaims[name] {
			continue
		}
		if value, ok := identity.Claims[name]; ok {
			claims[name] = value
		}
	}
	if permissions, ok := identity.Claims["effective_permissions"]; ok {
		claims["effective_permissions"] = permissions
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.KID()
	signed, err := token.SignedString(key.Private)
	if err != nil {
		return "", err
	}

	p.logger.Debug(ctx, "Issued internal token",
		logging.String("subject", identity.Subject),
		logging.String("kid", key.KID()),
		logging.String("audience", audience))
	return signed, nil
}

var _ IssuerPlugin = (*JWSPlugin)(nil)
