package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const notificationsYAML = `
schema: public
tables:
  - name: notifications
    policies:
      - name: Users can view own notifications
        command: select
        role: authenticated
        using: recipient_id = auth.uid()
      - name: Service inserts notifications
        command: INSERT
        roles: [service_role]
        with_check: "true"
    grants:
      - privileges: [SELECT]
        roles: [authenticated]
      - privileges: [UPDATE]
        columns: [read_at]
        roles: [authenticated]
  - name: audit_log
    schema: ops
    rls: false
`

func TestParseYAML(t *testing.T) {
	m, err := ParseYAML([]byte(notificationsYAML), "")
	require.NoError(t, err)
	require.NoError(t, m.Validate())
	require.Len(t, m.Tables, 2)

	n := m.Tables[0]
	assert.Equal(t, "public", n.Schema)
	assert.True(t, n.EnableRLS)
	require.Len(t, n.Policies, 2)
	assert.Equal(t, CommandSelect, n.Policies[0].Command)
	assert.Equal(t, []string{"authenticated"}, n.Policies[0].Roles)
	assert.True(t, n.Policies[0].Permissive)
	assert.Equal(t, "true", n.Policies[1].WithCheck)
	assert.Equal(t, []Grant{
		{Privileges: []string{"SELECT"}, Roles: []string{"authenticated"}},
		{Privileges: []string{"UPDATE"}, Columns: []string{"read_at"}, Roles: []string{"authenticated"}},
	}, n.Grants)

	audit := m.Tables[1]
	assert.Equal(t, "ops", audit.Schema)
	assert.False(t, audit.EnableRLS)
	assert.Equal(t, 2, m.PolicyCount())
}

func TestParseYAMLRejectsUnknownFields(t *testing.T) {
	_, err := ParseYAML([]byte("tables:\n  - name: t\n    polices: []\n"), "")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		table   Table
		wantErr string
	}{
		{
			name:    "insert with using",
			table:   Table{Schema: "public", Name: "t", Policies: []Policy{{Name: "p", Command: CommandInsert, Using: "true"}}},
			wantErr: "INSERT policies only accept WITH CHECK",
		},
		{
			name:    "select with check",
			table:   Table{Schema: "public", Name: "t", Policies: []Policy{{Name: "p", Command: CommandSelect, WithCheck: "true"}}},
			wantErr: "SELECT policies only accept USING",
		},
		{
			name:    "no expressions",
			table:   Table{Schema: "public", Name: "t", Policies: []Policy{{Name: "p", Command: CommandAll}}},
			wantErr: "neither USING nor WITH CHECK",
		},
		{
			name: "duplicate policy",
			table: Table{Schema: "public", Name: "t", Policies: []Policy{
				{Name: "p", Command: CommandAll, Using: "true"},
				{Name: "p", Command: CommandAll, Using: "false"},
			}},
			wantErr: `policy "p" declared more than once`,
		},
		{
			name:    "bad privilege",
			table:   Table{Schema: "public", Name: "t", Grants: []Grant{{Privileges: []string{"EXECUTE"}, Roles: []string{"anon"}}}},
			wantErr: `unknown privilege "EXECUTE"`,
		},
		{
			name:    "empty grant",
			table:   Table{Schema: "public", Name: "t", Grants: []Grant{{Privileges: []string{"SELECT"}}}},
			wantErr: "needs at least one privilege and one role",
		},
		{
			name:    "column grant on table-only privilege",
			table:   Table{Schema: "public", Name: "t", Grants: []Grant{{Privileges: []string{"delete"}, Columns: []string{"id"}, Roles: []string{"anon"}}}},
			wantErr: "DELETE cannot be limited to columns",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manifest{Tables: []Table{tt.table}}
			err := m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "policies.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(notificationsYAML), 0644))
	m, err := LoadFile(yamlPath, "public")
	require.NoError(t, err)
	assert.Equal(t, yamlPath, m.Source)

	txtPath := filepath.Join(dir, "policies.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0644))
	_, err = LoadFile(txtPath, "public")
	assert.ErrorContains(t, err, "unsupported manifest extension")

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"), "public")
	assert.ErrorContains(t, err, "failed to read manifest")
}

func TestLoadFileSQLWithIncludes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tables"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tables", "notifications.sql"), []byte(`
ALTER TABLE notifications ENABLE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS p1 ON notifications;
CREATE POLICY p1 ON notifications FOR SELECT USING (recipient_id = auth.uid());
`), 0644))
	main := filepath.Join(dir, "policies.sql")
	require.NoError(t, os.WriteFile(main, []byte("\\ir tables/notifications.sql\n"), 0644))

	m, err := LoadFile(main, "public")
	require.NoError(t, err)
	require.Len(t, m.Tables, 1)
	assert.True(t, m.Tables[0].EnableRLS)
	assert.Equal(t, []string{"p1"}, m.Tables[0].PolicyNames())
	assert.Equal(t, CommandSelect, m.Tables[0].Policies[0].Command)

	_, err = LoadFile(filepath.Join(dir, "missing.sql"), "public")
	assert.ErrorContains(t, err, "failed to read manifest")
}
