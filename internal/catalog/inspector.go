// Package catalog reads row level security state from the system catalogs
// and compares it with a declared policy manifest.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/printshop-ops/rlsctl/internal/fingerprint"
	"github.com/printshop-ops/rlsctl/internal/policy"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the number of tables inspected at once.
const DefaultConcurrency = 4

// Querier is satisfied by *sql.DB and *sql.Conn.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TableRef names a table.
type TableRef struct {
	Schema string
	Name   string
}

func (r TableRef) String() string {
	return policy.QualifyTable(r.Schema, r.Name)
}

// TableState is what the catalog says about one table.
type TableState struct {
	Schema     string          `json:"schema"`
	Name       string          `json:"name"`
	Exists     bool            `json:"exists"`
	RLSEnabled bool            `json:"rls_enabled"`
	RLSForced  bool            `json:"rls_forced"`
	Policies   []policy.Policy `json:"policies"`
}

// Snapshot holds the observed state of a set of tables, in request order.
type Snapshot struct {
	Tables []TableState `json:"tables"`
}

// Table looks up a table in the snapshot.
func (s *Snapshot) Table(schema, name string) (*TableState, bool) {
	for i := range s.Tables {
		if s.Tables[i].Schema == schema && s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

const tableQuery = `
SELECT c.relrowsecurity, c.relforcerowsecurity
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1
  AND c.relname = $2
  AND c.relkind IN ('r', 'p')`

const policyQuery = `
SELECT policyname,
       permissive,
       roles::text,
       cmd,
       COALESCE(qual, ''),
       COALESCE(with_check, '')
FROM pg_catalog.pg_policies
WHERE schemaname = $1
  AND tablename = $2
ORDER BY policyname`

// Inspector reads catalog state. It never writes.
type Inspector struct {
	db          Querier
	concurrency int
}

// NewInspector creates an Inspector over db.
func NewInspector(db Querier) *Inspector {
	return &Inspector{db: db, concurrency: DefaultConcurrency}
}

// WithConcurrency overrides the number of parallel table reads.
func (i *Inspector) WithConcurrency(n int) *Inspector {
	if n > 0 {
		i.concurrency = n
	}
	return i
}

// Inspect reads the RLS flags and policies of each table.
func (i *Inspector) Inspect(ctx context.Context, tables []TableRef) (*Snapshot, error) {
	snap := &Snapshot{Tables: make([]TableState, len(tables))}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)

	for idx, ref := range tables {
		g.Go(func() error {
			state, err := i.inspectTable(ctx, ref)
			if err != nil {
				return fmt.Errorf("failed to inspect %s: %w", ref, err)
			}
			snap.Tables[idx] = *state
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (i *Inspector) inspectTable(ctx context.Context, ref TableRef) (*TableState, error) {
	state := &TableState{Schema: ref.Schema, Name: ref.Name}

	err := i.db.QueryRowContext(ctx, tableQuery, ref.Schema, ref.Name).Scan(&state.RLSEnabled, &state.RLSForced)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return state, nil
	case err != nil:
		return nil, err
	}
	state.Exists = true

	rows, err := i.db.QueryContext(ctx, policyQuery, ref.Schema, ref.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p          policy.Policy
			permissive string
			roles      pq.StringArray
			cmd        string
		)
		if err := rows.Scan(&p.Name, &permissive, &roles, &cmd, &p.Using, &p.WithCheck); err != nil {
			return nil, err
		}
		p.Permissive = !strings.EqualFold(permissive, "RESTRICTIVE")
		p.Roles = []string(roles)
		if p.Command, err = policy.ParseCommand(cmd); err != nil {
			p.Command = policy.CommandAll
		}
		state.Policies = append(state.Policies, p)
	}
	return state, rows.Err()
}

// ManifestTables lists the tables a manifest declares.
func ManifestTables(m *policy.Manifest) []TableRef {
	refs := make([]TableRef, 0, len(m.Tables))
	for _, t := range m.Tables {
		refs = append(refs, TableRef{Schema: t.Schema, Name: t.Name})
	}
	return refs
}

// Verify inspects the tables m declares and compares them with m. The
// result carries the fingerprint of the inspected snapshot.
func Verify(ctx context.Context, db Querier, m *policy.Manifest) (*Verification, error) {
	snap, err := NewInspector(db).Inspect(ctx, ManifestTables(m))
	if err != nil {
		return nil, err
	}
	fp, err := fingerprint.Compute(snap)
	if err != nil {
		return nil, err
	}
	v := Compare(m, snap)
	v.Fingerprint = fp.Hash
	return v, nil
}
