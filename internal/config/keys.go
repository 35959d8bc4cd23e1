package config

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Key roles reported by KeyRole.
const (
	RoleServiceRole   = "service_role"
	RoleAnon          = "anon"
	RoleAuthenticated = "authenticated"
	RoleUnknown       = "unknown"
)

const (
	secretKeyPrefix      = "sb_secret_"
	publishableKeyPrefix = "sb_publishable_"
)

// KeyRole reports which Postgres role a Supabase API key acts as. Legacy keys
// are JWTs whose "role" claim is read without verifying the signature; the
// newer opaque keys are recognised by prefix.
func KeyRole(key string) string {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return RoleUnknown
	case strings.HasPrefix(key, secretKeyPrefix):
		return RoleServiceRole
	case strings.HasPrefix(key, publishableKeyPrefix):
		return RoleAnon
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(key, claims); err != nil {
		return RoleUnknown
	}
	role, _ := claims["role"].(string)
	switch role {
	case RoleServiceRole, RoleAnon, RoleAuthenticated:
		return role
	default:
		return RoleUnknown
	}
}

// IsAdminKey reports whether key bypasses row-level security.
func IsAdminKey(key string) bool {
	return KeyRole(key) == RoleServiceRole
}
