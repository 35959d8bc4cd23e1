// Package audit finds tables that are exposed without row level security.
package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/printshop-ops/rlsctl/internal/ignore"
	"github.com/printshop-ops/rlsctl/internal/policy"
)

// Issue describes why a table was flagged.
type Issue string

const (
	// IssueRLSDisabled means every role with table privileges sees every row.
	IssueRLSDisabled Issue = "rls_disabled"
	// IssueNoPolicies means RLS is on but nothing is granted, so non-owners see
	// no rows at all.
	IssueNoPolicies Issue = "no_policies"
)

// Entry is one table of the audited schema.
type Entry struct {
	Schema     string `json:"schema"`
	Table      string `json:"table"`
	RLSEnabled bool   `json:"rls_enabled"`
	RLSForced  bool   `json:"rls_forced"`
	Policies   int    `json:"policies"`
	Issue      Issue  `json:"issue,omitempty"`
	Ignored    bool   `json:"ignored"`
}

// QualifiedName returns the display name of the table.
func (e Entry) QualifiedName() string {
	return policy.QualifyTable(e.Schema, e.Table)
}

// Result is the outcome of an audit.
type Result struct {
	Schema string  `json:"schema"`
	Tables []Entry `json:"tables"`
}

// Insecure returns the tables without RLS that are not ignored.
func (r *Result) Insecure() []Entry {
	return r.filter(IssueRLSDisabled)
}

// DenyAll returns the tables with RLS but no policies that are not ignored.
func (r *Result) DenyAll() []Entry {
	return r.filter(IssueNoPolicies)
}

// Failed reports whether any non-ignored table lacks RLS.
func (r *Result) Failed() bool {
	return len(r.Insecure()) > 0
}

func (r *Result) filter(issue Issue) []Entry {
	var out []Entry
	for _, e := range r.Tables {
		if e.Issue == issue && !e.Ignored {
			out = append(out, e)
		}
	}
	return out
}

const tablesQuery = `
SELECT t.tablename,
       t.rowsecurity,
       c.relforcerowsecurity,
       (SELECT count(*)
          FROM pg_catalog.pg_policies p
         WHERE p.schemaname = t.schemaname
           AND p.tablename = t.tablename) AS policies
FROM pg_catalog.pg_tables t
JOIN pg_catalog.pg_namespace n ON n.nspname = t.schemaname
JOIN pg_catalog.pg_class c ON c.relnamespace = n.oid AND c.relname = t.tablename
WHERE t.schemaname = $1
ORDER BY t.tablename`

// Querier is satisfied by *sql.DB and *sql.Conn.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Audit lists every ordinary table in schema and flags the unprotected ones.
func Audit(ctx context.Context, db Querier, schema string, ign *ignore.Config) (*Result, error) {
	if schema == "" {
		schema = policy.DefaultSchema
	}
	rows, err := db.QueryContext(ctx, tablesQuery, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables in schema %s: %w", schema, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e := Entry{Schema: schema}
		if err := rows.Scan(&e.Table, &e.RLSEnabled, &e.RLSForced, &e.Policies); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return Evaluate(schema, entries, ign), nil
}

// Evaluate assigns issues and ignore flags to entries.
func Evaluate(schema string, entries []Entry, ign *ignore.Config) *Result {
	res := &Result{Schema: schema, Tables: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		switch {
		case !e.RLSEnabled:
			e.Issue = IssueRLSDisabled
		case e.Policies == 0:
			e.Issue = IssueNoPolicies
		default:
			e.Issue = ""
		}
		e.Ignored = ign.Table(e.Schema, e.Table)
		res.Tables = append(res.Tables, e)
	}
	return res
}
