package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/printshop-ops/rlsctl/internal/catalog"
	"github.com/printshop-ops/rlsctl/internal/config"
	"github.com/printshop-ops/rlsctl/internal/report"
	"github.com/printshop-ops/rlsctl/testutil"
	"github.com/spf13/cobra"
)

const manifest = `
tables:
  - name: notifications
    policies:
      - name: p1
        command: select
        using: recipient_id = auth.uid()
`

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte(manifest), 0644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ResetFlags()
	t.Cleanup(ResetFlags)

	cmd := &cobra.Command{}
	*cmd = *VerifyCmd
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVerifyCommand(t *testing.T) {
	if VerifyCmd.Use != "verify" {
		t.Errorf("Expected Use to be 'verify', got '%s'", VerifyCmd.Use)
	}
	for _, name := range []string{"file", "schema", "output-json", "no-color", "ignore-file", "host", "db", "user", "database-url"} {
		if VerifyCmd.Flags().Lookup(name) == nil {
			t.Errorf("Expected --%s flag to be defined", name)
		}
	}
	for _, name := range []string{"dry-run", "prune", "mode"} {
		if VerifyCmd.Flags().Lookup(name) != nil {
			t.Errorf("Expected --%s flag NOT to be defined: verify is read-only", name)
		}
	}
}

func TestVerifyRequiresDatabase(t *testing.T) {
	testutil.ClearConfigEnv(t)

	_, err := runCommand(t, "--file", writeManifest(t))
	var missing *config.MissingConfigError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingConfigError, got %v", err)
	}
	if len(missing.Missing) != 2 {
		t.Errorf("expected database name and user to be reported, got %v", missing.Missing)
	}
}

func TestVerifyCommand_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	testutil.ClearConfigEnv(t)
	container := testutil.SetupPostgresContainer(ctx, t)
	defer container.Terminate(ctx, t)

	container.Exec(ctx, t, `
		CREATE TABLE notifications (id serial PRIMARY KEY, recipient_id uuid NOT NULL);
		ALTER TABLE notifications ENABLE ROW LEVEL SECURITY;
		CREATE POLICY p1 ON notifications FOR SELECT USING (recipient_id = auth.uid());
	`)
	file := writeManifest(t)

	out, err := runCommand(t, append(container.ConnectionArgs(), "--file", file, "--no-color")...)
	if err != nil {
		t.Fatalf("verify of a matching catalog failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "✓ verify succeeded") {
		t.Errorf("expected success line:\n%s", out)
	}
	if strings.Contains(out, "Statements:") {
		t.Errorf("verify must not print a statements section:\n%s", out)
	}

	// Drift: an extra policy and a command change.
	container.Exec(ctx, t, `
		CREATE POLICY legacy ON notifications USING (true);
		DROP POLICY p1 ON notifications;
		CREATE POLICY p1 ON notifications FOR UPDATE USING (true);
	`)

	out, err = runCommand(t, append(container.ConnectionArgs(), "--file", file, "--output-json", "stdout")...)
	if err == nil {
		t.Fatal("expected verify to fail on drift")
	}
	var r report.Report
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("stdout is not a JSON report: %v\n%s", err, out)
	}
	kinds := map[catalog.FindingKind]bool{}
	for _, f := range r.Verification.Findings {
		kinds[f.Kind] = true
	}
	if !kinds[catalog.FindingPolicyUnexpected] || !kinds[catalog.FindingPolicyCommandMismatch] {
		t.Errorf("expected unexpected and command mismatch findings, got %+v", r.Verification.Findings)
	}

	// Ignored policies are not reported as undeclared.
	ignoreFile := filepath.Join(t.TempDir(), ".rlsignore")
	if err := os.WriteFile(ignoreFile, []byte("[policies]\npatterns = [\"legacy\"]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	out, _ = runCommand(t, append(container.ConnectionArgs(), "--file", file, "--ignore-file", ignoreFile, "--no-color")...)
	if strings.Contains(out, `"legacy"`) {
		t.Errorf("ignored policy still reported:\n%s", out)
	}
}
