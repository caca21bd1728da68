package domain

import "time"

// Role is attached to users and checked by role-gated routes.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRoles converts stored role names into roles, skipping blanks.
func ParseRoles(names []string) []Role {
	roles := make([]Role, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		roles = append(roles, Role(name))
	}
	return roles
}

// RoleNames is the inverse of ParseRoles.
func RoleNames(roles []Role) []string {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	return names
}

// RouteAccess declares who may call a route. Resolved by the HTTP layer per
// route and handed to the access gate.
type RouteAccess struct {
	Public        bool
	RequiredRoles []Role
}

// Public marks a route that bypasses token checks.
func Public() RouteAccess {
	return RouteAccess{Public: true}
}

// Authenticated requires a valid, unrevoked token.
func Authenticated() RouteAccess {
	return RouteAccess{}
}

// RequireRoles requires a valid token and one of the given roles.
func RequireRoles(roles ...Role) RouteAccess {
	return RouteAccess{RequiredRoles: roles}
}

// EphemeralKind distinguishes the two single-use token flows.
type EphemeralKind string

const (
	EphemeralVerification EphemeralKind = "verification"
	EphemeralReset        EphemeralKind = "reset"
)

// EphemeralToken is a single-use, time-boxed token for out-of-band confirmation.
// Identifier is a user id for verification tokens and an email for reset tokens.
type EphemeralToken struct {
	Kind       EphemeralKind `json:"kind"`
	Identifier string        `json:"identifier"`
	Token      string        `json:"token"`
	ExpiresAt  time.Time     `json:"expires_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t EphemeralToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
