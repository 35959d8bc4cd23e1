// Package testutil starts throwaway PostgreSQL servers for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var suppressedLogger = log.New(io.Discard, "", 0)

// postgresVersion reads RLSCTL_POSTGRES_VERSION, defaulting to "17".
func postgresVersion() string {
	if version := os.Getenv("RLSCTL_POSTGRES_VERSION"); version != "" {
		return version
	}
	return "17"
}

// Supabase-style roles and helpers that manifests commonly reference.
const supabaseBootstrap = `
DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = 'anon') THEN CREATE ROLE anon NOLOGIN; END IF;
	IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = 'authenticated') THEN CREATE ROLE authenticated NOLOGIN; END IF;
	IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = 'service_role') THEN CREATE ROLE service_role NOLOGIN BYPASSRLS; END IF;
END
$$;
CREATE SCHEMA IF NOT EXISTS auth;
CREATE OR REPLACE FUNCTION auth.uid() RETURNS uuid
	LANGUAGE sql STABLE
	AS $$ SELECT nullif(current_setting('request.jwt.claim.sub', true), '')::uuid $$;
`

// ContainerInfo holds PostgreSQL container connection details
type ContainerInfo struct {
	Container testcontainers.Container
	Host      string
	Port      int
	Database  string
	User      string
	Password  string
	DSN       string
	Conn      *sql.DB
}

// SetupPostgresContainer starts a server with the Supabase roles and the
// auth.uid() helper installed.
func SetupPostgresContainer(ctx context.Context, t *testing.T) *ContainerInfo {
	t.Helper()
	ci := SetupPostgresContainerWithDB(ctx, t, "testdb", "testuser", "testpass")
	ci.Exec(ctx, t, supabaseBootstrap)
	return ci
}

// SetupPostgresContainerWithDB starts a bare server with custom database settings.
func SetupPostgresContainerWithDB(ctx context.Context, t *testing.T, database, username, password string) *ContainerInfo {
	t.Helper()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:"+postgresVersion()+"-alpine",
		postgres.WithDatabase(database),
		postgres.WithUsername(username),
		postgres.WithPassword(password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(suppressedLogger),
	)
	if err != nil {
		t.Fatalf("Failed to start container: %v", err)
	}

	dsn, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return &ContainerInfo{
		Container: postgresContainer,
		Host:      host,
		Port:      port.Int(),
		Database:  database,
		User:      username,
		Password:  password,
		DSN:       dsn,
		Conn:      conn,
	}
}

// Exec runs setup SQL and fails the test on error.
func (ci *ContainerInfo) Exec(ctx context.Context, t *testing.T, query string) {
	t.Helper()
	if _, err := ci.Conn.ExecContext(ctx, query); err != nil {
		t.Fatalf("Failed to execute setup SQL: %v", err)
	}
}

// ConnectionArgs returns the command-line flags that point a command at the
// container.
func (ci *ContainerInfo) ConnectionArgs() []string {
	return []string{
		"--host", ci.Host,
		"--port", fmt.Sprintf("%d", ci.Port),
		"--db", ci.Database,
		"--user", ci.User,
		"--password", ci.Password,
		"--sslmode", "disable",
	}
}

// Terminate cleans up the container and connection
func (ci *ContainerInfo) Terminate(ctx context.Context, t *testing.T) {
	ci.Conn.Close()
	if err := ci.Container.Terminate(ctx); err != nil {
		t.Logf("Failed to terminate container: %v", err)
	}
}
