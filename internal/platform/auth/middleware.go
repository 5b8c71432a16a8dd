package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/httpx"
)

const defaultRoleClaim = "role"

// Authenticator turns a bearer token into an Identity on the request context.
type Authenticator struct {
	verifier     TokenVerifier
	roleClaim    string
	fallbackRole string
	timeout      time.Duration
}

type Option func(*Authenticator)

// WithRoleClaim names the custom claim carrying roles. Defaults to "role".
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithFallbackRole grants role to tokens without one. Unset, such tokens get 403.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) { a.fallbackRole = canonicalRole(role) }
}

func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, roleClaim: defaultRoleClaim, timeout: 5 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth rejects requests without a valid token (401) or without one of roles (403).
// No roles means any authenticated identity with at least one role.
func (a *Authenticator) RequireAuth(roles ...string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = canonicalRole(role); role != "" {
			allowed = append(allowed, role)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, failure := a.authenticate(r)
			if failure == nil && len(allowed) > 0 && !identity.HasAnyRole(allowed...) {
				failure = forbidden("insufficient_role", "identity does not have required role")
			}
			if failure != nil {
				httpx.WriteError(r.Context(), w, *failure)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request) (*Identity, *httpx.Error) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, unauthorized("unauthenticated", "authorization header missing or invalid")
	}
	if a == nil || a.verifier == nil {
		return nil, unauthorized("unauthenticated", "authorization service unavailable")
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()
	claims, err := a.verifier.Verify(ctx, token)
	switch {
	case errors.Is(err, ErrTokenExpired):
		return nil, unauthorized("token_expired", "bearer token expired")
	case err != nil:
		return nil, unauthorized("invalid_token", "bearer token invalid")
	}

	identity := &Identity{
		UID:      strings.TrimSpace(claims.Subject),
		Email:    strings.TrimSpace(claims.Email),
		Roles:    rolesFromClaims(claims.Custom, a.roleClaim),
		Provider: claims.Provider,
	}
	if identity.Email == "" {
		identity.Email, _ = claims.Custom["email"].(string)
	}
	if len(identity.Roles) == 0 && a.fallbackRole != "" {
		identity.Roles = []string{a.fallbackRole}
	}
	if identity.UID == "" {
		return nil, unauthorized("invalid_token", "token subject missing")
	}
	if len(identity.Roles) == 0 {
		return nil, forbidden("missing_role", "no roles associated with identity")
	}
	return identity, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(code, message string) *httpx.Error {
	err := httpx.NewError(code, message, http.StatusUnauthorized)
	return &err
}

func forbidden(code, message string) *httpx.Error {
	err := httpx.NewError(code, message, http.StatusForbidden)
	return &err
}
