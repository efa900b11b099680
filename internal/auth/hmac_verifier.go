package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// HMACClaims represents HS256-signed service token claims
type HMACClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// HMACVerifier implements Verifier for tokens signed with a shared secret.
// It backs auth.mode=jwt and local development.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier for tokens signed with secret
func NewHMACVerifier(secret string) (*HMACVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &HMACVerifier{secret: []byte(secret)}, nil
}

// Verify validates an HMAC-signed token
func (v *HMACVerifier) Verify(ctx context.Context, tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &HMACClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, invalid("INVALID_TOKEN", err.Error())
	}

	claims, ok := token.Claims.(*HMACClaims)
	if !ok || !token.Valid {
		return nil, invalid("INVALID_TOKEN", jwt.ErrTokenInvalidClaims.Error())
	}

	subject := claims.UserID
	if subject == "" {
		subject = claims.Subject
	}
	return &Principal{Subject: subject, Method: "jwt", Email: claims.Email}, nil
}

// GenerateToken signs a token for userID (useful for testing)
func (v *HMACVerifier) GenerateToken(userID, email string) (string, error) {
	claims := HMACClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "mediadrop",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
