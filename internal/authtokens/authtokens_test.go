package authtokens

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/printshop-ops/rlsctl/internal/policy"
)

func TestStatements(t *testing.T) {
	plan := &Plan{Columns: []ColumnState{
		{Column: "confirmation_token", Nulls: 3},
		{Column: "recovery_token", Nulls: 0},
		{Column: "email_change", Nulls: 1},
	}}

	var got []string
	for _, s := range Statements(plan) {
		if s.Kind != policy.KindUpdate || s.Schema != "auth" || s.Table != "users" {
			t.Errorf("unexpected statement metadata: %+v", s)
		}
		got = append(got, s.SQL)
	}
	want := []string{
		"UPDATE auth.users SET confirmation_token = '' WHERE confirmation_token IS NULL",
		"UPDATE auth.users SET email_change = '' WHERE email_change IS NULL",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Statements() mismatch (-want +got):\n%s", diff)
	}
}

func TestStatementsNothingToDo(t *testing.T) {
	plan := &Plan{Columns: []ColumnState{{Column: "recovery_token"}}}
	if stmts := Statements(plan); len(stmts) != 0 {
		t.Errorf("expected no statements, got %+v", stmts)
	}
	if len(plan.Affected()) != 0 {
		t.Error("expected no affected columns")
	}
}
