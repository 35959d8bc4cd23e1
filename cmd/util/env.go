package util

import (
	"github.com/google/uuid"
	"github.com/printshop-ops/rlsctl/internal/config"
	"github.com/printshop-ops/rlsctl/internal/logger"
	"github.com/spf13/cobra"
)

// ConnectionFlags holds the database connection flags shared by every
// command that talks to PostgreSQL.
type ConnectionFlags struct {
	DatabaseURL     string
	Host            string
	Port            int
	DB              string
	User            string
	Password        string
	SSLMode         string
	ApplicationName string
}

// AddConnectionFlags registers the connection flags on cmd. Defaults are left
// empty so that environment variables apply when a flag is not given.
func AddConnectionFlags(cmd *cobra.Command, f *ConnectionFlags) {
	cmd.Flags().StringVar(&f.DatabaseURL, "database-url", "", "PostgreSQL connection URL (overrides DATABASE_URL)")
	cmd.Flags().StringVar(&f.Host, "host", "", "Database server host (env: PGHOST)")
	cmd.Flags().IntVar(&f.Port, "port", 0, "Database server port (env: PGPORT, default 5432)")
	cmd.Flags().StringVar(&f.DB, "db", "", "Database name (env: PGDATABASE)")
	cmd.Flags().StringVar(&f.User, "user", "", "Database user name (env: PGUSER)")
	cmd.Flags().StringVar(&f.Password, "password", "", "Database password (env: PGPASSWORD)")
	cmd.Flags().StringVar(&f.SSLMode, "sslmode", "", "SSL mode (env: PGSSLMODE, default prefer)")
	cmd.Flags().StringVar(&f.ApplicationName, "application-name", "", "Application name for database connection (visible in pg_stat_activity)")
}

// Overrides returns the flags as a config override.
func (f *ConnectionFlags) Overrides() config.DatabaseTarget {
	return config.DatabaseTarget{
		DSN:             f.DatabaseURL,
		Host:            f.Host,
		Port:            f.Port,
		Database:        f.DB,
		User:            f.User,
		Password:        f.Password,
		SSLMode:         f.SSLMode,
		ApplicationName: f.ApplicationName,
	}
}

// Reset restores the zero values, for tests that execute commands repeatedly.
func (f *ConnectionFlags) Reset() {
	*f = ConnectionFlags{}
}

// PreRunEWithConfig creates a PreRunE function that snapshots the
// environment, applies the connection flags on top of it, and validates the
// requirements returned by reqs. The resolved configuration is stored in dst.
// f may be nil for commands without connection flags.
// Validation happens before any network access.
func PreRunEWithConfig(f *ConnectionFlags, dst **config.Config, reqs func() []config.Requirement) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var overrides config.DatabaseTarget
		if f != nil {
			overrides = f.Overrides()
		}
		cfg := config.FromEnv().WithOverrides(overrides)
		if reqs != nil {
			if err := cfg.Validate(reqs()...); err != nil {
				return err
			}
		}
		*dst = cfg
		return nil
	}
}

// NewRunID returns a fresh run identifier and logs it.
func NewRunID() string {
	id := uuid.NewString()
	logger.Get().Debug("starting run", "run_id", id)
	return id
}
