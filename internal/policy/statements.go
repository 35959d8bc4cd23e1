package policy

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Kind classifies a generated statement.
type Kind string

const (
	KindEnableRLS    Kind = "enable_rls"
	KindForceRLS     Kind = "force_rls"
	KindDropPolicy   Kind = "drop_policy"
	KindCreatePolicy Kind = "create_policy"
	KindGrant        Kind = "grant"
	KindUpdate       Kind = "update"
)

// Statement is one DDL/DML statement bound to the table it affects.
type Statement struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Kind   Kind   `json:"kind"`
	Policy string `json:"policy,omitempty"`
	SQL    string `json:"sql"`
}

// QualifiedTable returns schema.table without quoting.
func (s Statement) QualifiedTable() string {
	return s.Schema + "." + s.Table
}

// Statements renders the manifest into its ordered statement list. For each
// table: enable (and force) RLS, a drop/create pair per policy, then grants.
func Statements(m *Manifest) []Statement {
	var out []Statement
	for i := range m.Tables {
		out = append(out, TableStatements(&m.Tables[i])...)
	}
	return out
}

// TableStatements renders the statement group of a single table.
func TableStatements(t *Table) []Statement {
	target := QualifyTable(t.Schema, t.Name)
	stmt := func(kind Kind, policyName, sql string) Statement {
		return Statement{Schema: t.Schema, Table: t.Name, Kind: kind, Policy: policyName, SQL: sql}
	}

	var out []Statement
	if t.EnableRLS {
		out = append(out, stmt(KindEnableRLS, "", fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", target)))
	}
	if t.ForceRLS {
		out = append(out, stmt(KindForceRLS, "", fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", target)))
	}
	for _, p := range t.Policies {
		out = append(out, stmt(KindDropPolicy, p.Name, DropPolicySQL(p.Name, target)))
		out = append(out, stmt(KindCreatePolicy, p.Name, CreatePolicySQL(p, target)))
	}
	for _, g := range t.Grants {
		out = append(out, stmt(KindGrant, "", GrantSQL(g, target)))
	}
	return out
}

// PruneStatements drops policies found on a table that the manifest does not
// declare.
func PruneStatements(t *Table, undeclared []string) []Statement {
	target := QualifyTable(t.Schema, t.Name)
	out := make([]Statement, 0, len(undeclared))
	for _, name := range undeclared {
		out = append(out, Statement{
			Schema: t.Schema,
			Table:  t.Name,
			Kind:   KindDropPolicy,
			Policy: name,
			SQL:    DropPolicySQL(name, target),
		})
	}
	return out
}

// DropPolicySQL renders an idempotent DROP POLICY.
func DropPolicySQL(name, target string) string {
	return fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", pq.QuoteIdentifier(name), target)
}

// CreatePolicySQL renders CREATE POLICY for p on an already-quoted target.
func CreatePolicySQL(p Policy, target string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE POLICY %s ON %s", pq.QuoteIdentifier(p.Name), target)
	if !p.Permissive {
		b.WriteString(" AS RESTRICTIVE")
	}
	if p.Command != "" && p.Command != CommandAll {
		fmt.Fprintf(&b, " FOR %s", p.Command)
	}
	if len(p.Roles) > 0 {
		b.WriteString(" TO ")
		b.WriteString(joinRoles(p.Roles))
	}
	if p.Using != "" {
		fmt.Fprintf(&b, " USING (%s)", p.Using)
	}
	if p.WithCheck != "" {
		fmt.Fprintf(&b, " WITH CHECK (%s)", p.WithCheck)
	}
	return b.String()
}

// GrantSQL renders a GRANT on an already-quoted target.
func GrantSQL(g Grant, target string) string {
	var cols string
	if len(g.Columns) > 0 {
		quoted := make([]string, len(g.Columns))
		for i, c := range g.Columns {
			quoted[i] = QuoteIdentifier(c)
		}
		cols = " (" + strings.Join(quoted, ", ") + ")"
	}
	privs := make([]string, len(g.Privileges))
	for i, p := range g.Privileges {
		privs[i] = strings.ToUpper(p) + cols
	}
	sql := fmt.Sprintf("GRANT %s ON %s TO %s", strings.Join(privs, ", "), target, joinRoles(g.Roles))
	if g.WithGrantOption {
		sql += " WITH GRANT OPTION"
	}
	return sql
}

func joinRoles(roles []string) string {
	quoted := make([]string, len(roles))
	for i, r := range roles {
		quoted[i] = QuoteRole(r)
	}
	return strings.Join(quoted, ", ")
}
