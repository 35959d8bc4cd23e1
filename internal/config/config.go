// Package config loads rlsctl configuration from the environment once at
// startup and resolves the database and Supabase targets every command uses.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Environment variable names.
const (
	EnvSupabaseURL           = "NEXT_PUBLIC_SUPABASE_URL"
	EnvPublishableDefaultKey = "NEXT_PUBLIC_SUPABASE_PUBLISHABLE_DEFAULT_KEY"
	EnvPublishableKey        = "NEXT_PUBLIC_SUPABASE_PUBLISHABLE_KEY"
	EnvAnonKey               = "NEXT_PUBLIC_SUPABASE_ANON_KEY"
	EnvServiceRoleKey        = "SUPABASE_SERVICE_ROLE_KEY"
	EnvSecretKey             = "SUPABASE_SECRET_KEY"
	EnvDatabaseURL           = "DATABASE_URL"
	EnvPGHost                = "PGHOST"
	EnvPGPort                = "PGPORT"
	EnvPGDatabase            = "PGDATABASE"
	EnvPGUser                = "PGUSER"
	EnvPGPassword            = "PGPASSWORD"
	EnvPGSSLMode             = "PGSSLMODE"
	EnvPGAppName             = "PGAPPNAME"
	EnvSupabaseDBPassword    = "SUPABASE_DB_PASSWORD"
)

// DefaultApplicationName is reported in pg_stat_activity.
const DefaultApplicationName = "rlsctl"

const (
	defaultPort             = 5432
	defaultSSLMode          = "prefer"
	supabaseHostedDomain    = ".supabase.co"
	supabaseDefaultDatabase = "postgres"
	supabaseDefaultUser     = "postgres"
	supabaseDefaultSSLMode  = "require"
)

// Requirement names a set of variables an operation cannot run without.
type Requirement int

const (
	// RequireDatabase needs a direct PostgreSQL connection.
	RequireDatabase Requirement = iota
	// RequireSupabaseAdmin needs the project URL and a secret/service-role key.
	RequireSupabaseAdmin
	// RequireSupabasePublic needs the project URL and a publishable key.
	RequireSupabasePublic
)

// Config is the environment snapshot taken at startup.
type Config struct {
	SupabaseURL        string
	PublishableKey     string
	SecretKey          string
	DatabaseURL        string
	PGHost             string
	PGPort             int
	PGDatabase         string
	PGUser             string
	PGPassword         string
	PGSSLMode          string
	PGAppName          string
	SupabaseDBPassword string

	// invalidPGPort holds a PGPORT value that is not a port number.
	invalidPGPort string
	overrides     DatabaseTarget
}

// DatabaseTarget is a resolved PostgreSQL connection target.
type DatabaseTarget struct {
	DSN             string
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	ApplicationName string
	Source          string
}

// Load reads configuration through lookup. Pass os.Getenv in production.
func Load(lookup func(string) string) *Config {
	get := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(lookup(k)); v != "" {
				return v
			}
		}
		return ""
	}

	port, invalidPort := 0, ""
	if p := get(EnvPGPort); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 && n <= 65535 {
			port = n
		} else {
			invalidPort = p
		}
	}

	return &Config{
		invalidPGPort:      invalidPort,
		SupabaseURL:        strings.TrimRight(get(EnvSupabaseURL), "/"),
		PublishableKey:     get(EnvPublishableDefaultKey, EnvPublishableKey, EnvAnonKey),
		SecretKey:          get(EnvSecretKey, EnvServiceRoleKey),
		DatabaseURL:        get(EnvDatabaseURL),
		PGHost:             get(EnvPGHost),
		PGPort:             port,
		PGDatabase:         get(EnvPGDatabase),
		PGUser:             get(EnvPGUser),
		PGPassword:         get(EnvPGPassword),
		PGSSLMode:          get(EnvPGSSLMode),
		PGAppName:          get(EnvPGAppName),
		SupabaseDBPassword: get(EnvSupabaseDBPassword),
	}
}

// FromEnv loads configuration from the process environment.
func FromEnv() *Config {
	return Load(os.Getenv)
}

// WithOverrides returns a copy of c whose database resolution prefers the
// non-zero fields of o (normally command-line flags).
func (c *Config) WithOverrides(o DatabaseTarget) *Config {
	cp := *c
	cp.overrides = o
	return &cp
}

// ProjectRef extracts the project reference from a hosted Supabase URL
// (https://<ref>.supabase.co). It returns "" for self-hosted URLs.
func (c *Config) ProjectRef() string {
	if c.SupabaseURL == "" {
		return ""
	}
	u, err := url.Parse(c.SupabaseURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if !strings.HasSuffix(host, supabaseHostedDomain) {
		return ""
	}
	ref := strings.TrimSuffix(host, supabaseHostedDomain)
	if ref == "" || strings.Contains(ref, ".") {
		return ""
	}
	return ref
}

// Database resolves the connection target: flags, then DATABASE_URL, then
// PG* variables, then the Supabase-derived direct connection.
func (c *Config) Database() DatabaseTarget {
	o := c.overrides
	appName := first(o.ApplicationName, c.PGAppName, DefaultApplicationName)

	if o.DSN != "" {
		return DatabaseTarget{DSN: o.DSN, ApplicationName: appName, Source: "flags"}
	}
	flagged := o.Host != "" || o.Database != "" || o.User != ""
	if !flagged && c.DatabaseURL != "" {
		return DatabaseTarget{DSN: c.DatabaseURL, ApplicationName: appName, Source: EnvDatabaseURL}
	}

	t := DatabaseTarget{
		Host:            first(o.Host, c.PGHost),
		Port:            firstInt(o.Port, c.PGPort),
		Database:        first(o.Database, c.PGDatabase),
		User:            first(o.User, c.PGUser),
		Password:        first(o.Password, c.PGPassword),
		SSLMode:         first(o.SSLMode, c.PGSSLMode),
		ApplicationName: appName,
		Source:          "PG*",
	}
	if flagged {
		t.Source = "flags"
	}

	if ref := c.ProjectRef(); t.Host == "" && ref != "" && c.SupabaseDBPassword != "" {
		t.Host = "db." + ref + supabaseHostedDomain
		t.Database = first(t.Database, supabaseDefaultDatabase)
		t.User = first(t.User, supabaseDefaultUser)
		t.Password = first(t.Password, c.SupabaseDBPassword)
		t.SSLMode = first(t.SSLMode, supabaseDefaultSSLMode)
		t.Source = "supabase"
	}

	if t.Host == "" && t.Database != "" && t.User != "" {
		t.Host = "localhost"
	}
	if t.Port == 0 {
		t.Port = defaultPort
	}
	if t.SSLMode == "" {
		t.SSLMode = defaultSSLMode
	}
	return t
}

// MissingConfigError lists every variable an operation needed but did not get.
type MissingConfigError struct {
	Missing []string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Missing, "; "))
}

// InvalidConfigError reports a variable whose value cannot be used.
type InvalidConfigError struct {
	Variable string
	Value    string
	Reason   string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Variable, e.Value, e.Reason)
}

// Validate checks that every requirement is satisfied. It never touches the
// network.
func (c *Config) Validate(reqs ...Requirement) error {
	var missing []string
	var invalid []error
	for _, r := range reqs {
		switch r {
		case RequireDatabase:
			t := c.Database()
			if t.DSN != "" {
				continue
			}
			if c.invalidPGPort != "" && c.overrides.Port == 0 {
				invalid = append(invalid, &InvalidConfigError{Variable: EnvPGPort, Value: c.invalidPGPort, Reason: "not a port number"})
			}
			if t.Database == "" {
				missing = append(missing, fmt.Sprintf("database name (--db, %s, %s, or %s with %s)", EnvDatabaseURL, EnvPGDatabase, EnvSupabaseDBPassword, EnvSupabaseURL))
			}
			if t.User == "" {
				missing = append(missing, fmt.Sprintf("database user (--user, %s or %s)", EnvDatabaseURL, EnvPGUser))
			}
		case RequireSupabaseAdmin:
			if c.SupabaseURL == "" {
				missing = append(missing, EnvSupabaseURL)
			}
			if c.SecretKey == "" {
				missing = append(missing, EnvSecretKey+" or "+EnvServiceRoleKey)
			}
		case RequireSupabasePublic:
			if c.SupabaseURL == "" {
				missing = append(missing, EnvSupabaseURL)
			}
			if c.PublishableKey == "" {
				missing = append(missing, EnvPublishableDefaultKey+" or "+EnvPublishableKey)
			}
		}
	}
	if len(missing) > 0 {
		invalid = append([]error{&MissingConfigError{Missing: dedupe(missing)}}, invalid...)
	}
	return errors.Join(invalid...)
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstInt(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
