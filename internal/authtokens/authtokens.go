// Package authtokens replaces NULL token columns in auth.users with empty
// strings. The auth server scans those columns into non-nullable strings and
// fails sign-in for any user that has a NULL in one of them.
package authtokens

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/printshop-ops/rlsctl/internal/policy"
)

const (
	schema = "auth"
	table  = "users"
)

// Columns are the auth.users text columns that must never be NULL.
var Columns = []string{
	"confirmation_token",
	"recovery_token",
	"email_change_token_new",
	"email_change_token_current",
	"email_change",
	"phone_change",
	"phone_change_token",
	"reauthentication_token",
}

// ColumnState is the NULL count of one column.
type ColumnState struct {
	Column string `json:"column"`
	Nulls  int64  `json:"nulls"`
}

// Plan lists the columns that exist and how many rows need fixing.
type Plan struct {
	Columns []ColumnState `json:"columns"`
}

// Affected returns the columns with at least one NULL.
func (p *Plan) Affected() []ColumnState {
	var out []ColumnState
	for _, c := range p.Columns {
		if c.Nulls > 0 {
			out = append(out, c)
		}
	}
	return out
}

// Querier is satisfied by *sql.DB and *sql.Conn.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const columnsQuery = `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = $1
  AND table_name = $2
  AND column_name = ANY($3)
ORDER BY ordinal_position`

// Inspect discovers which token columns exist and counts their NULLs.
// Columns missing from older auth schema versions are skipped.
func Inspect(ctx context.Context, db Querier) (*Plan, error) {
	rows, err := db.QueryContext(ctx, columnsQuery, schema, table, pq.Array(Columns))
	if err != nil {
		return nil, fmt.Errorf("failed to list auth.users columns: %w", err)
	}
	var present []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		present = append(present, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	plan := &Plan{Columns: []ColumnState{}}
	for _, col := range present {
		q := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s IS NULL", target(), policy.QuoteIdentifier(col))
		var n int64
		if err := db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count NULL %s: %w", col, err)
		}
		plan.Columns = append(plan.Columns, ColumnState{Column: col, Nulls: n})
	}
	return plan, nil
}

// Statements emits one UPDATE per affected column.
func Statements(p *Plan) []policy.Statement {
	var stmts []policy.Statement
	for _, c := range p.Affected() {
		col := policy.QuoteIdentifier(c.Column)
		stmts = append(stmts, policy.Statement{
			Schema: schema,
			Table:  table,
			Kind:   policy.KindUpdate,
			SQL:    fmt.Sprintf("UPDATE %s SET %s = '' WHERE %s IS NULL", target(), col, col),
		})
	}
	return stmts
}

func target() string {
	return policy.QualifyTable(schema, table)
}
