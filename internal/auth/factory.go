package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/innovotech/mediadrop/internal/config"
)

// chain tries verifiers in order; the first success wins.
type chain []Verifier

func (c chain) Verify(ctx context.Context, credential string) (*Principal, error) {
	var lastErr error
	for _, v := range c {
		p, err := v.Verify(ctx, credential)
		if err == nil {
			return p, nil
		}
		var invalidErr *InvalidCredentialError
		if lastErr == nil || !errors.As(err, &invalidErr) {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = invalid("", "no verifier configured")
	}
	return nil, lastErr
}

// New builds the verifier selected by cfg.Auth.Mode. It returns nil for
// mode "none".
func New(cfg *config.Config) (Verifier, error) {
	switch cfg.Auth.Mode {
	case "none":
		return nil, nil
	case "", "unkey":
		return NewUnkeyVerifier(&cfg.Unkey)
	case "jwt":
		var c chain
		if cfg.Zitadel.Issuer != "" {
			jwks, err := NewJWKSVerifier(&cfg.Zitadel)
			if err != nil {
				return nil, err
			}
			c = append(c, jwks)
		}
		if cfg.Auth.JWTSecret != "" {
			hmac, err := NewHMACVerifier(cfg.Auth.JWTSecret)
			if err != nil {
				return nil, err
			}
			c = append(c, hmac)
		}
		if len(c) == 0 {
			return nil, fmt.Errorf("auth mode jwt needs ZITADEL_ISSUER or JWT_SECRET")
		}
		if len(c) == 1 {
			return c[0], nil
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
}
