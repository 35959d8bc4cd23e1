package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/printshop-ops/rlsctl/internal/audit"
	"github.com/printshop-ops/rlsctl/internal/config"
	"github.com/printshop-ops/rlsctl/testutil"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ResetFlags()
	t.Cleanup(ResetFlags)

	cmd := &cobra.Command{}
	*cmd = *AuditCmd
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAuditCommand(t *testing.T) {
	assert.Equal(t, "audit", AuditCmd.Use)
	flags := AuditCmd.Flags()
	require.NotNil(t, flags.Lookup("schema"))
	assert.Equal(t, "public", flags.Lookup("schema").DefValue)
	require.NotNil(t, flags.Lookup("ignore-file"))
	assert.Equal(t, ".rlsignore", flags.Lookup("ignore-file").DefValue)
	assert.NotNil(t, flags.Lookup("output-json"))
	assert.NotNil(t, flags.Lookup("database-url"))
}

func TestAuditRequiresDatabase(t *testing.T) {
	testutil.ClearConfigEnv(t)

	_, err := runCommand(t)
	var missing *config.MissingConfigError
	assert.True(t, errors.As(err, &missing), "expected MissingConfigError, got %v", err)
}

func TestAuditCommand_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	testutil.ClearConfigEnv(t)
	container := testutil.SetupPostgresContainer(ctx, t)
	defer container.Terminate(ctx, t)

	container.Exec(ctx, t, `
		CREATE TABLE customers (id serial PRIMARY KEY);
		ALTER TABLE customers ENABLE ROW LEVEL SECURITY;
		CREATE POLICY staff ON customers USING (true);
		CREATE TABLE jobs (id serial PRIMARY KEY);
		ALTER TABLE jobs ENABLE ROW LEVEL SECURITY;
		CREATE TABLE schema_migrations (version text);
	`)

	out, err := runCommand(t, append(container.ConnectionArgs(), "--output-json", "stdout")...)
	require.Error(t, err, "schema_migrations has RLS disabled")

	var res audit.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Tables, 3)
	assert.Equal(t, "customers", res.Tables[0].Table)
	assert.Equal(t, audit.Issue(""), res.Tables[0].Issue)
	assert.Equal(t, audit.IssueNoPolicies, res.Tables[1].Issue)
	assert.Equal(t, audit.IssueRLSDisabled, res.Tables[2].Issue)

	ignoreFile := filepath.Join(t.TempDir(), ".rlsignore")
	require.NoError(t, os.WriteFile(ignoreFile, []byte("[tables]\npatterns = [\"schema_migrations\"]\n"), 0644))

	out, err = runCommand(t, append(container.ConnectionArgs(), "--ignore-file", ignoreFile, "--no-color")...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "schema_migrations (ignored, rls_disabled)")
	assert.Contains(t, out, "jobs (row level security enabled, no policies: deny all)")
}
