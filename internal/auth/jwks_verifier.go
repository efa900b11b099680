package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/innovotech/mediadrop/internal/config"
)

const discoveryTimeout = 30 * time.Second

// oidcClaims is the part of an OIDC access token a Principal is built from.
type oidcClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWKSVerifier implements Verifier for OIDC access tokens whose signing keys
// are published at the issuer's JWKS endpoint.
type JWKSVerifier struct {
	keys   jwt.Keyfunc
	parser *jwt.Parser
}

// NewJWKSVerifier discovers the issuer's key set and keeps it refreshed in
// the background for the life of the process.
func NewJWKSVerifier(cfg *config.ZitadelConfig) (*JWKSVerifier, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("zitadel issuer is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()

	jwksURL, err := discoverJWKSURL(ctx, &http.Client{Timeout: discoveryTimeout}, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover jwks: %w", err)
	}

	// the refresh goroutine lives as long as this context
	set, err := keyfunc.NewDefaultCtx(context.Background(), []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("load jwks %s: %w", jwksURL, err)
	}

	return newJWKSVerifier(set.Keyfunc, cfg.Issuer, cfg.ClientID), nil
}

func newJWKSVerifier(keys jwt.Keyfunc, issuer, audience string) *JWKSVerifier {
	opts := []jwt.ParserOption{
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "PS256"}),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &JWKSVerifier{keys: keys, parser: jwt.NewParser(opts...)}
}

// discoverJWKSURL reads jwks_uri from the issuer's OIDC discovery document.
func discoverJWKSURL(ctx context.Context, hc *http.Client, issuer string) (string, error) {
	discoveryURL := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned status %d", discoveryURL, resp.StatusCode)
	}

	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("decode discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", errors.New("discovery document has no jwks_uri")
	}
	return doc.JWKSURI, nil
}

// Verify checks signature, issuer, expiry and (when configured) audience.
func (v *JWKSVerifier) Verify(ctx context.Context, tokenString string) (*Principal, error) {
	var claims oidcClaims
	if _, err := v.parser.ParseWithClaims(tokenString, &claims, v.keys); err != nil {
		return nil, invalid("INVALID_TOKEN", err.Error())
	}
	if claims.Subject == "" {
		return nil, invalid("INVALID_TOKEN", "token has no subject")
	}
	return &Principal{Subject: claims.Subject, Method: "jwks", Email: claims.Email}, nil
}
