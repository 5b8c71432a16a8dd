package auth

import (
	"context"
	"slices"
	"strings"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
)

const (
	RoleSuperAdmin = string(domain.UserRoleSuperAdmin)
	RoleAdmin      = string(domain.UserRoleAdmin)
	RoleEmployee   = string(domain.UserRoleEmployee)
	RoleCustomer   = string(domain.UserRoleCustomer)
)

var knownRoles = []string{RoleSuperAdmin, RoleAdmin, RoleEmployee, RoleCustomer}

// StaffRoles may operate the order API. Customers only receive notifications.
func StaffRoles() []string {
	return []string{RoleEmployee, RoleAdmin, RoleSuperAdmin}
}

// Identity is the verified caller. UID is the user directory ID and is recorded as the
// actor on order history rows.
type Identity struct {
	UID      string
	Email    string
	Roles    []string
	Provider string
}

func (i *Identity) HasRole(role string) bool {
	return i != nil && slices.Contains(i.Roles, canonicalRole(role))
}

func (i *Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}

// ActorFromContext returns the caller's user ID, or nil for anonymous and system calls.
func ActorFromContext(ctx context.Context) *string {
	identity, ok := IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		return nil
	}
	uid := strings.TrimSpace(identity.UID)
	return &uid
}

// canonicalRole maps "Super-Admin" and similar spellings to the directory form.
func canonicalRole(role string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(role)), "-", "_")
}

// rolesFromClaims reads the role claim as a string, a list, or a map of flags. Roles
// outside the user directory are dropped.
func rolesFromClaims(claims map[string]any, key string) []string {
	var raw []string
	switch v := claims[key].(type) {
	case string:
		raw = strings.Split(v, ",")
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case map[string]any:
		for name, flag := range v {
			if on, _ := flag.(bool); on {
				raw = append(raw, name)
			}
		}
	}

	var roles []string
	for _, r := range raw {
		role := canonicalRole(r)
		if slices.Contains(knownRoles, role) && !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	slices.Sort(roles)
	return roles
}
