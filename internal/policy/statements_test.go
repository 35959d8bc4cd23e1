package policy

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func notificationsTable() *Table {
	return &Table{
		Schema:    "public",
		Name:      "notifications",
		EnableRLS: true,
		Policies: []Policy{
			{
				Name:       "p1",
				Command:    CommandSelect,
				Permissive: true,
				Using:      "recipient_id = auth.uid()",
			},
		},
	}
}

func TestTableStatementsMatchesOperatorScript(t *testing.T) {
	got := TableStatements(notificationsTable())

	want := []Statement{
		{Schema: "public", Table: "notifications", Kind: KindEnableRLS, SQL: "ALTER TABLE notifications ENABLE ROW LEVEL SECURITY"},
		{Schema: "public", Table: "notifications", Kind: KindDropPolicy, Policy: "p1", SQL: `DROP POLICY IF EXISTS "p1" ON notifications`},
		{Schema: "public", Table: "notifications", Kind: KindCreatePolicy, Policy: "p1", SQL: `CREATE POLICY "p1" ON notifications FOR SELECT USING (recipient_id = auth.uid())`},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("TableStatements mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLScriptRoundTrip(t *testing.T) {
	script := `
ALTER TABLE notifications ENABLE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS p1 ON notifications;
CREATE POLICY p1 ON notifications FOR SELECT USING (recipient_id = auth.uid());
`
	m, err := ParseSQL(script, "")
	if err != nil {
		t.Fatalf("ParseSQL() error = %v", err)
	}

	var got []string
	for _, s := range Statements(m) {
		got = append(got, s.SQL)
	}
	want := []string{
		"ALTER TABLE notifications ENABLE ROW LEVEL SECURITY",
		`DROP POLICY IF EXISTS "p1" ON notifications`,
		`CREATE POLICY "p1" ON notifications FOR SELECT USING (recipient_id = auth.uid())`,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Statements() mismatch (-want +got):\n%s", diff)
	}
}

func TestDropsPrecedeCreates(t *testing.T) {
	tbl := notificationsTable()
	tbl.Policies = append(tbl.Policies, Policy{Name: "p2", Command: CommandInsert, Permissive: true, WithCheck: "true"})
	tbl.Grants = []Grant{{Privileges: []string{"select"}, Roles: []string{"authenticated"}}}

	stmts := TableStatements(tbl)
	dropped := map[string]int{}
	for i, s := range stmts {
		switch s.Kind {
		case KindDropPolicy:
			dropped[s.Policy] = i
		case KindCreatePolicy:
			at, ok := dropped[s.Policy]
			if !ok || at > i {
				t.Errorf("create of %q at %d is not preceded by its drop", s.Policy, i)
			}
		}
	}
	if last := stmts[len(stmts)-1]; last.Kind != KindGrant {
		t.Errorf("expected grants last, got %s", last.Kind)
	}
}

func TestCreatePolicySQL(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		target string
		want   string
	}{
		{
			name:   "all command omits FOR",
			policy: Policy{Name: "owner", Command: CommandAll, Permissive: true, Using: "owner_id = auth.uid()", WithCheck: "owner_id = auth.uid()"},
			target: "jobs",
			want:   `CREATE POLICY "owner" ON jobs USING (owner_id = auth.uid()) WITH CHECK (owner_id = auth.uid())`,
		},
		{
			name:   "restrictive with roles",
			policy: Policy{Name: "Staff only", Command: CommandDelete, Permissive: false, Roles: []string{"authenticated", "public"}, Using: "is_staff()"},
			target: "invoices",
			want:   `CREATE POLICY "Staff only" ON invoices AS RESTRICTIVE FOR DELETE TO authenticated, PUBLIC USING (is_staff())`,
		},
		{
			name:   "insert with check only",
			policy: Policy{Name: "self insert", Command: CommandInsert, Permissive: true, Roles: []string{"Admins"}, WithCheck: "true"},
			target: `billing."Payments"`,
			want:   `CREATE POLICY "self insert" ON billing."Payments" FOR INSERT TO "Admins" WITH CHECK (true)`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CreatePolicySQL(tt.policy, tt.target); got != tt.want {
				t.Errorf("CreatePolicySQL() = %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestQualifyTable(t *testing.T) {
	tests := []struct {
		schema, name, want string
	}{
		{"public", "customers", "customers"},
		{"", "customers", "customers"},
		{"billing", "statements", "billing.statements"},
		{"public", "Order", `"Order"`},
		{"public", "user", `"user"`},
		{"my-schema", "t", `"my-schema".t`},
		{"public", `we"ird`, `"we""ird"`},
	}
	for _, tt := range tests {
		if got := QualifyTable(tt.schema, tt.name); got != tt.want {
			t.Errorf("QualifyTable(%q, %q) = %s, want %s", tt.schema, tt.name, got, tt.want)
		}
	}
}

func TestGrantAndPruneSQL(t *testing.T) {
	tbl := &Table{Schema: "public", Name: "customers"}

	if got, want := GrantSQL(Grant{Privileges: []string{"select", "insert"}, Roles: []string{"anon", "authenticated"}}, "customers"),
		"GRANT SELECT, INSERT ON customers TO anon, authenticated"; got != want {
		t.Errorf("GrantSQL() = %s, want %s", got, want)
	}

	if got, want := GrantSQL(Grant{Privileges: []string{"select", "update"}, Columns: []string{"id", "Email"}, Roles: []string{"anon"}, WithGrantOption: true}, "customers"),
		`GRANT SELECT (id, "Email"), UPDATE (id, "Email") ON customers TO anon WITH GRANT OPTION`; got != want {
		t.Errorf("GrantSQL() = %s, want %s", got, want)
	}

	pruned := PruneStatements(tbl, []string{"legacy read"})
	if len(pruned) != 1 || pruned[0].SQL != `DROP POLICY IF EXISTS "legacy read" ON customers` {
		t.Errorf("unexpected prune statements: %+v", pruned)
	}
}

func TestNormalizeRole(t *testing.T) {
	if got := NormalizeRole("PUBLIC"); got != "public" {
		t.Errorf("NormalizeRole(PUBLIC) = %s", got)
	}
	if got := NormalizeRole("authenticated"); got != "authenticated" {
		t.Errorf("NormalizeRole(authenticated) = %s", got)
	}
}
