package catalog

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/printshop-ops/rlsctl/internal/policy"
	"github.com/printshop-ops/rlsctl/testutil"
)

func TestInspect(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container := testutil.SetupPostgresContainer(ctx, t)
	defer container.Terminate(ctx, t)

	container.Exec(ctx, t, `
		CREATE SCHEMA billing;
		CREATE TABLE notifications (id serial PRIMARY KEY, recipient_id uuid);
		CREATE TABLE billing.invoices (id serial PRIMARY KEY, owner_id uuid);
		ALTER TABLE notifications ENABLE ROW LEVEL SECURITY;
		CREATE POLICY p1 ON notifications FOR SELECT USING (recipient_id = auth.uid());
		ALTER TABLE billing.invoices ENABLE ROW LEVEL SECURITY;
		ALTER TABLE billing.invoices FORCE ROW LEVEL SECURITY;
		CREATE POLICY owner ON billing.invoices TO authenticated, anon USING (true);
		CREATE POLICY staff ON billing.invoices AS RESTRICTIVE FOR UPDATE USING (false) WITH CHECK (false);
	`)

	refs := []TableRef{
		{Schema: "public", Name: "notifications"},
		{Schema: "billing", Name: "invoices"},
		{Schema: "public", Name: "nowhere"},
	}
	snap, err := NewInspector(container.Conn).WithConcurrency(2).Inspect(ctx, refs)
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}

	want := []TableState{
		{
			Schema: "public", Name: "notifications", Exists: true, RLSEnabled: true,
			Policies: []policy.Policy{
				{Name: "p1", Command: policy.CommandSelect, Permissive: true, Roles: []string{"public"}, Using: "(recipient_id = auth.uid())"},
			},
		},
		{
			Schema: "billing", Name: "invoices", Exists: true, RLSEnabled: true, RLSForced: true,
			Policies: []policy.Policy{
				{Name: "owner", Command: policy.CommandAll, Permissive: true, Roles: []string{"anon", "authenticated"}, Using: "true"},
				{Name: "staff", Command: policy.CommandUpdate, Permissive: false, Roles: []string{"public"}, Using: "false", WithCheck: "false"},
			},
		},
		{Schema: "public", Name: "nowhere"},
	}
	if diff := cmp.Diff(want, snap.Tables); diff != "" {
		t.Errorf("Inspect() mismatch (-want +got):\n%s", diff)
	}
}

func TestVerifyFingerprintTracksCatalog(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container := testutil.SetupPostgresContainer(ctx, t)
	defer container.Terminate(ctx, t)

	container.Exec(ctx, t, `CREATE TABLE notifications (id serial PRIMARY KEY, recipient_id uuid)`)
	m := &policy.Manifest{Tables: []policy.Table{{Schema: "public", Name: "notifications", EnableRLS: true}}}

	first, err := Verify(ctx, container.Conn, m)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	again, err := Verify(ctx, container.Conn, m)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if first.Fingerprint != again.Fingerprint {
		t.Errorf("fingerprint changed without a catalog change: %s != %s", first.Fingerprint, again.Fingerprint)
	}

	container.Exec(ctx, t, `ALTER TABLE notifications ENABLE ROW LEVEL SECURITY`)
	after, err := Verify(ctx, container.Conn, m)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if after.Fingerprint == first.Fingerprint {
		t.Error("fingerprint did not change after enabling row level security")
	}
	if !after.Clean() {
		t.Errorf("expected a clean verification, got %+v", after.Findings)
	}
}
