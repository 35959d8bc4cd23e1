package policy

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseSQLOperatorScript(t *testing.T) {
	sql := `
ALTER TABLE notifications ENABLE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS "p1" ON notifications;
CREATE POLICY "p1" ON notifications FOR SELECT USING (recipient_id = auth.uid());
`
	m, err := ParseSQL(sql, "")
	if err != nil {
		t.Fatalf("ParseSQL() error = %v", err)
	}

	want := &Manifest{
		Tables: []Table{
			{
				Schema:    "public",
				Name:      "notifications",
				EnableRLS: true,
				Policies: []Policy{
					{Name: "p1", Command: CommandSelect, Permissive: true, Using: "recipient_id = auth.uid()"},
				},
			},
		},
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("ParseSQL() mismatch (-want +got):\n%s", diff)
	}

	// the regenerated statement list reproduces the input script
	var got []string
	for _, s := range Statements(m) {
		got = append(got, s.SQL)
	}
	wantSQL := []string{
		"ALTER TABLE notifications ENABLE ROW LEVEL SECURITY",
		`DROP POLICY IF EXISTS "p1" ON notifications`,
		`CREATE POLICY "p1" ON notifications FOR SELECT USING (recipient_id = auth.uid())`,
	}
	if diff := cmp.Diff(wantSQL, got); diff != "" {
		t.Errorf("Statements() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSQLRolesGrantsAndSchemas(t *testing.T) {
	sql := `
ALTER TABLE billing.invoices ENABLE ROW LEVEL SECURITY, FORCE ROW LEVEL SECURITY;
CREATE POLICY staff_write ON billing.invoices AS RESTRICTIVE FOR UPDATE TO authenticated, service_role
  USING (is_staff()) WITH CHECK (is_staff());
CREATE POLICY open_read ON billing.invoices USING (true);
GRANT SELECT, UPDATE ON TABLE billing.invoices TO authenticated;
GRANT ALL ON customers TO PUBLIC;
`
	m, err := ParseSQL(sql, "public")
	if err != nil {
		t.Fatalf("ParseSQL() error = %v", err)
	}
	if len(m.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(m.Tables))
	}

	inv := m.Tables[0]
	if inv.Schema != "billing" || !inv.EnableRLS || !inv.ForceRLS {
		t.Errorf("unexpected invoices table flags: %+v", inv)
	}
	staff := inv.Policies[0]
	if staff.Permissive || staff.Command != CommandUpdate {
		t.Errorf("unexpected staff_write policy: %+v", staff)
	}
	if diff := cmp.Diff([]string{"authenticated", "service_role"}, staff.Roles); diff != "" {
		t.Errorf("roles mismatch (-want +got):\n%s", diff)
	}
	if staff.Using != "is_staff()" || staff.WithCheck != "is_staff()" {
		t.Errorf("unexpected expressions: using=%q with_check=%q", staff.Using, staff.WithCheck)
	}
	if inv.Policies[1].Command != CommandAll {
		t.Errorf("policy without FOR should be ALL, got %s", inv.Policies[1].Command)
	}
	if diff := cmp.Diff([]Grant{{Privileges: []string{"SELECT", "UPDATE"}, Roles: []string{"authenticated"}}}, inv.Grants); diff != "" {
		t.Errorf("grants mismatch (-want +got):\n%s", diff)
	}

	cust := m.Tables[1]
	if cust.EnableRLS {
		t.Error("customers never enabled RLS in the file")
	}
	if diff := cmp.Diff([]Grant{{Privileges: []string{"ALL"}, Roles: []string{"PUBLIC"}}}, cust.Grants); diff != "" {
		t.Errorf("grants mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSQLRejectsUnrelatedStatements(t *testing.T) {
	tests := []string{
		"CREATE TABLE jobs (id int);",
		"ALTER TABLE jobs ADD COLUMN total numeric;",
		"REVOKE SELECT ON jobs FROM anon;",
		"DROP TABLE jobs;",
		"UPDATE invoices SET status = 'paid';",
	}
	for _, sql := range tests {
		if _, err := ParseSQL(sql, ""); err == nil {
			t.Errorf("ParseSQL(%q) expected error", sql)
		} else if !strings.Contains(err.Error(), "supported") && !strings.Contains(err.Error(), "allowed") {
			t.Errorf("ParseSQL(%q) unexpected error text: %v", sql, err)
		}
	}
}

func TestParseSQLLaterCreateReplacesEarlier(t *testing.T) {
	sql := `
CREATE POLICY p ON customers FOR SELECT USING (false);
DROP POLICY p ON customers;
CREATE POLICY p ON customers FOR SELECT USING (owner_id = auth.uid());
`
	m, err := ParseSQL(sql, "")
	if err != nil {
		t.Fatalf("ParseSQL() error = %v", err)
	}
	if n := len(m.Tables[0].Policies); n != 1 {
		t.Fatalf("expected 1 policy, got %d", n)
	}
	if got := m.Tables[0].Policies[0].Using; got != "owner_id = auth.uid()" {
		t.Errorf("expected the later definition, got %q", got)
	}
}

func TestParseSQLColumnGrants(t *testing.T) {
	sql := `
GRANT SELECT (id, email) ON customers TO anon WITH GRANT OPTION;
GRANT SELECT, UPDATE (status) ON jobs TO authenticated;
`
	m, err := ParseSQL(sql, "")
	if err != nil {
		t.Fatalf("ParseSQL() error = %v", err)
	}

	want := []Grant{{Privileges: []string{"SELECT"}, Columns: []string{"id", "email"}, Roles: []string{"anon"}, WithGrantOption: true}}
	if diff := cmp.Diff(want, m.Tables[0].Grants); diff != "" {
		t.Errorf("customers grants mismatch (-want +got):\n%s", diff)
	}
	want = []Grant{
		{Privileges: []string{"SELECT"}, Roles: []string{"authenticated"}},
		{Privileges: []string{"UPDATE"}, Columns: []string{"status"}, Roles: []string{"authenticated"}},
	}
	if diff := cmp.Diff(want, m.Tables[1].Grants); diff != "" {
		t.Errorf("jobs grants mismatch (-want +got):\n%s", diff)
	}

	var got []string
	for _, s := range Statements(m) {
		got = append(got, s.SQL)
	}
	wantSQL := []string{
		"GRANT SELECT (id, email) ON customers TO anon WITH GRANT OPTION",
		"GRANT SELECT ON jobs TO authenticated",
		"GRANT UPDATE (status) ON jobs TO authenticated",
	}
	if diff := cmp.Diff(wantSQL, got); diff != "" {
		t.Errorf("Statements() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSQLExplicitRolesKept(t *testing.T) {
	m, err := ParseSQL(`CREATE POLICY p ON customers FOR SELECT TO anon, PUBLIC USING (true);`, "")
	if err != nil {
		t.Fatalf("ParseSQL() error = %v", err)
	}
	if diff := cmp.Diff([]string{"anon", "PUBLIC"}, m.Tables[0].Policies[0].Roles); diff != "" {
		t.Errorf("roles mismatch (-want +got):\n%s", diff)
	}
}
