package auth

import (
	"context"
	"fmt"
)

// Principal identifies a verified caller.
type Principal struct {
	Subject string
	Method  string
	Email   string
}

// Verifier checks a bearer credential. An *InvalidCredentialError means the
// caller presented a bad credential; any other error is a verifier failure.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Principal, error)
}

// InvalidCredentialError is returned for credentials that were checked and rejected.
type InvalidCredentialError struct {
	Code   string
	Reason string
}

func (e *InvalidCredentialError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("invalid credential: %s", e.Reason)
	}
	return fmt.Sprintf("invalid credential (%s): %s", e.Code, e.Reason)
}

func invalid(code, reason string) error {
	return &InvalidCredentialError{Code: code, Reason: reason}
}
