package catalog

import (
	"fmt"
	"slices"
	"strings"

	"github.com/printshop-ops/rlsctl/internal/policy"
)

// FindingKind classifies a difference between the manifest and the catalog.
type FindingKind string

const (
	FindingTableMissing          FindingKind = "table_missing"
	FindingRLSDisabled           FindingKind = "rls_disabled"
	FindingRLSNotForced          FindingKind = "rls_not_forced"
	FindingPolicyMissing         FindingKind = "policy_missing"
	FindingPolicyCommandMismatch FindingKind = "policy_command_mismatch"
	FindingPolicyRolesMismatch   FindingKind = "policy_roles_mismatch"
	FindingPolicyUnexpected      FindingKind = "policy_unexpected"
)

// Finding is one verification warning.
type Finding struct {
	Kind     FindingKind `json:"kind"`
	Schema   string      `json:"schema"`
	Table    string      `json:"table"`
	Policy   string      `json:"policy,omitempty"`
	Expected string      `json:"expected,omitempty"`
	Actual   string      `json:"actual,omitempty"`
}

// QualifiedTable returns the display name of the finding's table.
func (f Finding) QualifiedTable() string {
	return policy.QualifyTable(f.Schema, f.Table)
}

// Message renders the finding for humans.
func (f Finding) Message() string {
	table := f.QualifiedTable()
	switch f.Kind {
	case FindingTableMissing:
		return fmt.Sprintf("table %s does not exist", table)
	case FindingRLSDisabled:
		return fmt.Sprintf("row level security is disabled on %s", table)
	case FindingRLSNotForced:
		return fmt.Sprintf("row level security is not forced on %s", table)
	case FindingPolicyMissing:
		return fmt.Sprintf("policy %q is missing on %s", f.Policy, table)
	case FindingPolicyCommandMismatch:
		return fmt.Sprintf("policy %q on %s applies to %s, expected %s", f.Policy, table, f.Actual, f.Expected)
	case FindingPolicyRolesMismatch:
		return fmt.Sprintf("policy %q on %s is granted to %s, expected %s", f.Policy, table, f.Actual, f.Expected)
	case FindingPolicyUnexpected:
		return fmt.Sprintf("policy %q on %s is not declared", f.Policy, table)
	}
	return string(f.Kind)
}

// PolicyCheck reports whether a declared policy is in the catalog.
type PolicyCheck struct {
	Schema  string `json:"schema"`
	Table   string `json:"table"`
	Policy  string `json:"policy"`
	Present bool   `json:"present"`
}

// Verification is the result of comparing a manifest with a snapshot.
type Verification struct {
	Checks      []PolicyCheck `json:"checks"`
	Findings    []Finding     `json:"findings"`
	Fingerprint string        `json:"fingerprint,omitempty"`
}

// Clean reports whether no finding was raised.
func (v *Verification) Clean() bool {
	return len(v.Findings) == 0
}

// PresentCount returns how many declared policies exist.
func (v *Verification) PresentCount() int {
	n := 0
	for _, c := range v.Checks {
		if c.Present {
			n++
		}
	}
	return n
}

// Undeclared returns the catalog policies on table that the manifest does not
// declare, in catalog order.
func (v *Verification) Undeclared(schema, table string) []string {
	var names []string
	for _, f := range v.Findings {
		if f.Kind == FindingPolicyUnexpected && f.Schema == schema && f.Table == table {
			names = append(names, f.Policy)
		}
	}
	return names
}

// IgnoreUnexpected drops policy_unexpected findings for policies that
// ignored matches. Ignored policies are then also exempt from pruning.
func (v *Verification) IgnoreUnexpected(ignored func(name string) bool) {
	kept := v.Findings[:0]
	for _, f := range v.Findings {
		if f.Kind == FindingPolicyUnexpected && ignored(f.Policy) {
			continue
		}
		kept = append(kept, f)
	}
	v.Findings = kept
}

// Compare checks every declared table and policy against the snapshot.
// Predicate text is not compared because the server stores a normalized
// deparse of each expression.
func Compare(m *policy.Manifest, snap *Snapshot) *Verification {
	v := &Verification{Checks: []PolicyCheck{}, Findings: []Finding{}}

	for ti := range m.Tables {
		want := &m.Tables[ti]
		got, ok := snap.Table(want.Schema, want.Name)
		if !ok || !got.Exists {
			v.add(Finding{Kind: FindingTableMissing, Schema: want.Schema, Table: want.Name})
			for _, p := range want.Policies {
				v.Checks = append(v.Checks, PolicyCheck{Schema: want.Schema, Table: want.Name, Policy: p.Name})
			}
			continue
		}

		if want.EnableRLS && !got.RLSEnabled {
			v.add(Finding{Kind: FindingRLSDisabled, Schema: want.Schema, Table: want.Name})
		}
		if want.ForceRLS && !got.RLSForced {
			v.add(Finding{Kind: FindingRLSNotForced, Schema: want.Schema, Table: want.Name})
		}

		actual := make(map[string]policy.Policy, len(got.Policies))
		for _, p := range got.Policies {
			actual[p.Name] = p
		}

		declared := make(map[string]bool, len(want.Policies))
		for _, p := range want.Policies {
			declared[p.Name] = true
			a, present := actual[p.Name]
			v.Checks = append(v.Checks, PolicyCheck{Schema: want.Schema, Table: want.Name, Policy: p.Name, Present: present})
			if !present {
				v.add(Finding{Kind: FindingPolicyMissing, Schema: want.Schema, Table: want.Name, Policy: p.Name})
				continue
			}
			if commandOf(p) != commandOf(a) {
				v.add(Finding{
					Kind: FindingPolicyCommandMismatch, Schema: want.Schema, Table: want.Name, Policy: p.Name,
					Expected: commandOf(p), Actual: commandOf(a),
				})
			}
			if wantRoles, gotRoles := roleSet(p.Roles), roleSet(a.Roles); !slices.Equal(wantRoles, gotRoles) {
				v.add(Finding{
					Kind: FindingPolicyRolesMismatch, Schema: want.Schema, Table: want.Name, Policy: p.Name,
					Expected: strings.Join(wantRoles, ", "), Actual: strings.Join(gotRoles, ", "),
				})
			}
		}

		for _, a := range got.Policies {
			if !declared[a.Name] {
				v.add(Finding{Kind: FindingPolicyUnexpected, Schema: want.Schema, Table: want.Name, Policy: a.Name})
			}
		}
	}
	return v
}

func (v *Verification) add(f Finding) {
	v.Findings = append(v.Findings, f)
}

// commandOf renders the command and mode, e.g. "SELECT" or "RESTRICTIVE ALL".
func commandOf(p policy.Policy) string {
	cmd := string(p.Command)
	if cmd == "" {
		cmd = string(policy.CommandAll)
	}
	if !p.Permissive {
		return "RESTRICTIVE " + cmd
	}
	return cmd
}

// roleSet normalizes roles for comparison. No roles means PUBLIC.
func roleSet(roles []string) []string {
	if len(roles) == 0 {
		return []string{"public"}
	}
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, policy.NormalizeRole(r))
	}
	slices.Sort(out)
	return slices.Compact(out)
}
