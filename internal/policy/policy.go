// Package policy holds declarative row-level security policy sets and turns
// them into the ordered DDL statement list the executor runs.
package policy

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultSchema is used for tables declared without a schema.
const DefaultSchema = "public"

// Command represents the command for which the policy applies
type Command string

const (
	CommandAll    Command = "ALL"
	CommandSelect Command = "SELECT"
	CommandInsert Command = "INSERT"
	CommandUpdate Command = "UPDATE"
	CommandDelete Command = "DELETE"
)

// ParseCommand maps a case-insensitive command keyword to a Command. An empty
// string means ALL, matching CREATE POLICY's default.
func ParseCommand(s string) (Command, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ALL":
		return CommandAll, nil
	case "SELECT":
		return CommandSelect, nil
	case "INSERT":
		return CommandInsert, nil
	case "UPDATE":
		return CommandUpdate, nil
	case "DELETE":
		return CommandDelete, nil
	default:
		return "", fmt.Errorf("unknown policy command %q", s)
	}
}

// Policy is one declared RLS policy.
type Policy struct {
	Name       string   `json:"name"`
	Command    Command  `json:"command"`
	Permissive bool     `json:"permissive"`
	Roles      []string `json:"roles,omitempty"`
	Using      string   `json:"using,omitempty"`
	WithCheck  string   `json:"with_check,omitempty"`
}

// Grant is a baseline table privilege granted to one or more roles. When
// Columns is set every privilege is limited to those columns.
type Grant struct {
	Privileges      []string `json:"privileges"`
	Columns         []string `json:"columns,omitempty"`
	Roles           []string `json:"roles"`
	WithGrantOption bool     `json:"with_grant_option,omitempty"`
}

// Table groups everything declared for one table.
type Table struct {
	Schema    string   `json:"schema"`
	Name      string   `json:"name"`
	EnableRLS bool     `json:"enable_rls"`
	ForceRLS  bool     `json:"force_rls,omitempty"`
	Policies  []Policy `json:"policies,omitempty"`
	Grants    []Grant  `json:"grants,omitempty"`
}

// QualifiedName returns schema.name without quoting.
func (t *Table) QualifiedName() string {
	return t.Schema + "." + t.Name
}

// PolicyNames returns the declared policy names in declaration order.
func (t *Table) PolicyNames() []string {
	names := make([]string, 0, len(t.Policies))
	for _, p := range t.Policies {
		names = append(names, p.Name)
	}
	return names
}

// Manifest is the operator-supplied policy set.
type Manifest struct {
	Source string  `json:"source,omitempty"`
	Tables []Table `json:"tables"`
}

// Table looks up a declared table by schema and name.
func (m *Manifest) Table(schema, name string) (*Table, bool) {
	for i := range m.Tables {
		if m.Tables[i].Schema == schema && m.Tables[i].Name == name {
			return &m.Tables[i], true
		}
	}
	return nil, false
}

// PolicyCount returns the total number of declared policies.
func (m *Manifest) PolicyCount() int {
	n := 0
	for _, t := range m.Tables {
		n += len(t.Policies)
	}
	return n
}

var validPrivileges = map[string]bool{
	"SELECT":     true,
	"INSERT":     true,
	"UPDATE":     true,
	"DELETE":     true,
	"TRUNCATE":   true,
	"REFERENCES": true,
	"TRIGGER":    true,
	"ALL":        true,
}

// columnPrivileges can be limited to a column list.
var columnPrivileges = map[string]bool{
	"SELECT":     true,
	"INSERT":     true,
	"UPDATE":     true,
	"REFERENCES": true,
	"ALL":        true,
}

// Validate reports every structural problem in the manifest at once.
func (m *Manifest) Validate() error {
	var errs []error
	if len(m.Tables) == 0 {
		errs = append(errs, errors.New("manifest declares no tables"))
	}

	seenTables := make(map[string]bool)
	for _, t := range m.Tables {
		if t.Name == "" {
			errs = append(errs, errors.New("table with empty name"))
			continue
		}
		key := t.QualifiedName()
		if seenTables[key] {
			errs = append(errs, fmt.Errorf("table %s declared more than once", key))
		}
		seenTables[key] = true

		seenPolicies := make(map[string]bool)
		for _, p := range t.Policies {
			if err := validatePolicy(p); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
			if seenPolicies[p.Name] {
				errs = append(errs, fmt.Errorf("%s: policy %q declared more than once", key, p.Name))
			}
			seenPolicies[p.Name] = true
		}

		for i, g := range t.Grants {
			if len(g.Privileges) == 0 || len(g.Roles) == 0 {
				errs = append(errs, fmt.Errorf("%s: grant #%d needs at least one privilege and one role", key, i+1))
				continue
			}
			for _, priv := range g.Privileges {
				switch upper := strings.ToUpper(priv); {
				case !validPrivileges[upper]:
					errs = append(errs, fmt.Errorf("%s: grant #%d has unknown privilege %q", key, i+1, priv))
				case len(g.Columns) > 0 && !columnPrivileges[upper]:
					errs = append(errs, fmt.Errorf("%s: grant #%d: %s cannot be limited to columns", key, i+1, upper))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func validatePolicy(p Policy) error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("policy with empty name")
	}
	if _, err := ParseCommand(string(p.Command)); err != nil {
		return fmt.Errorf("policy %q: %w", p.Name, err)
	}
	if p.Using == "" && p.WithCheck == "" {
		return fmt.Errorf("policy %q has neither USING nor WITH CHECK", p.Name)
	}
	switch p.Command {
	case CommandInsert:
		if p.Using != "" {
			return fmt.Errorf("policy %q: INSERT policies only accept WITH CHECK", p.Name)
		}
	case CommandSelect, CommandDelete:
		if p.WithCheck != "" {
			return fmt.Errorf("policy %q: %s policies only accept USING", p.Name, p.Command)
		}
	}
	return nil
}
