package testutil

import (
	"testing"

	"github.com/printshop-ops/rlsctl/internal/config"
)

var configEnv = []string{
	config.EnvSupabaseURL,
	config.EnvPublishableDefaultKey,
	config.EnvPublishableKey,
	config.EnvAnonKey,
	config.EnvServiceRoleKey,
	config.EnvSecretKey,
	config.EnvDatabaseURL,
	config.EnvPGHost,
	config.EnvPGPort,
	config.EnvPGDatabase,
	config.EnvPGUser,
	config.EnvPGPassword,
	config.EnvPGSSLMode,
	config.EnvPGAppName,
	config.EnvSupabaseDBPassword,
}

// ClearConfigEnv blanks every variable the config reads for the duration of
// the test, so commands do not pick up the developer's database.
func ClearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnv {
		t.Setenv(k, "")
	}
}
