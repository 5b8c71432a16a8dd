package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrTokenExpired signals that the bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the bearer token failed verification for other reasons.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims is the provider-neutral result of a successful verification.
type Claims struct {
	Subject  string
	Email    string
	Provider string
	Custom   map[string]any
}

// TokenVerifier verifies bearer tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// ChainVerifier tries each verifier in order and returns the first success.
type ChainVerifier []TokenVerifier

// Verify reports ErrTokenExpired when any member recognised the token but found it expired.
func (c ChainVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrTokenInvalid
	}
	var (
		expired bool
		errs    []error
	)
	for _, verifier := range c {
		if verifier == nil {
			continue
		}
		claims, err := verifier.Verify(ctx, token)
		if err == nil {
			return claims, nil
		}
		if errors.Is(err, ErrTokenExpired) {
			expired = true
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, errors.New("auth: no token verifier configured")
	}
	if expired {
		return nil, errors.Join(append([]error{ErrTokenExpired}, errs...)...)
	}
	return nil, errors.Join(append([]error{ErrTokenInvalid}, errs...)...)
}
