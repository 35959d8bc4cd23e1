package util

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/printshop-ops/rlsctl/internal/catalog"
	"github.com/printshop-ops/rlsctl/internal/config"
	"github.com/printshop-ops/rlsctl/internal/logger"
)

// Session is an open database handle plus the single pinned connection all
// writes go through. Reads for verification use the pool.
type Session struct {
	DB   *sql.DB
	Conn *sql.Conn
}

// Close releases the pinned connection and the pool.
func (s *Session) Close() error {
	var err error
	if s.Conn != nil {
		err = s.Conn.Close()
	}
	if cerr := s.DB.Close(); err == nil {
		err = cerr
	}
	return err
}

// Connect establishes a database connection for target and pins one
// connection. runID, when set, is appended to application_name.
func Connect(ctx context.Context, target config.DatabaseTarget, runID string) (*Session, error) {
	log := logger.Get()

	log.Debug("Attempting database connection",
		"source", target.Source,
		"host", target.Host,
		"port", target.Port,
		"database", target.Database,
		"user", target.User,
		"sslmode", target.SSLMode,
		"application_name", target.ApplicationName,
	)

	connConfig, err := ConnConfig(target, runID)
	if err != nil {
		return nil, err
	}

	db := stdlib.OpenDB(*connConfig)
	db.SetMaxOpenConns(catalog.DefaultConcurrency + 1)

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		log.Debug("Database ping failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	major, err := DetectServerVersion(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to pin connection: %w", err)
	}

	log.Debug("Database connection established successfully", "server_version", major)
	return &Session{DB: db, Conn: conn}, nil
}

// ConnConfig parses target into a pgx configuration.
func ConnConfig(target config.DatabaseTarget, runID string) (*pgx.ConnConfig, error) {
	dsn := target.DSN
	if dsn == "" {
		dsn = buildDSN(target)
	}
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid connection settings from %s: %w", target.Source, err)
	}

	appName := target.ApplicationName
	if appName == "" {
		appName = cfg.RuntimeParams["application_name"]
	}
	if appName == "" {
		appName = config.DefaultApplicationName
	}
	if runID != "" {
		appName += "/" + runID
	}
	cfg.RuntimeParams["application_name"] = appName
	return cfg, nil
}

// buildDSN constructs a PostgreSQL keyword/value connection string
func buildDSN(t config.DatabaseTarget) string {
	var parts []string

	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+quoteDSNValue(value))
		}
	}
	add("host", t.Host)
	if t.Port != 0 {
		add("port", fmt.Sprintf("%d", t.Port))
	}
	add("dbname", t.Database)
	add("user", t.User)
	add("password", t.Password)
	add("sslmode", t.SSLMode)

	return strings.Join(parts, " ")
}

// quoteDSNValue quotes values that contain spaces, quotes or backslashes.
func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
