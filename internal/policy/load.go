package policy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/printshop-ops/rlsctl/internal/include"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a manifest from disk. The format is chosen by extension:
// .yaml/.yml for YAML, .sql for a SQL statement file. SQL files may pull in
// other files with \i or \ir.
func LoadFile(path, defaultSchema string) (*Manifest, error) {
	var m *Manifest
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		m, err = ParseYAML(data, defaultSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".sql":
		content, err := include.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		m, err = ParseSQL(content, defaultSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest extension %q (want .yaml, .yml or .sql)", ext)
	}
	m.Source = path

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return m, nil
}

type yamlManifest struct {
	Schema string      `yaml:"schema"`
	Tables []yamlTable `yaml:"tables"`
}

type yamlTable struct {
	Schema   string       `yaml:"schema"`
	Name     string       `yaml:"name"`
	RLS      *bool        `yaml:"rls"`
	ForceRLS bool         `yaml:"force_rls"`
	Policies []yamlPolicy `yaml:"policies"`
	Grants   []yamlGrant  `yaml:"grants"`
}

type yamlPolicy struct {
	Name       string   `yaml:"name"`
	Command    string   `yaml:"command"`
	Permissive *bool    `yaml:"permissive"`
	Roles      []string `yaml:"roles"`
	Role       string   `yaml:"role"`
	Using      string   `yaml:"using"`
	WithCheck  string   `yaml:"with_check"`
}

type yamlGrant struct {
	Privileges      []string `yaml:"privileges"`
	Columns         []string `yaml:"columns"`
	Roles           []string `yaml:"roles"`
	WithGrantOption bool     `yaml:"with_grant_option"`
}

// ParseYAML decodes a YAML manifest. Unknown keys are rejected so typos in
// field names surface instead of silently dropping a predicate.
func ParseYAML(data []byte, defaultSchema string) (*Manifest, error) {
	var raw yamlManifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	schema := raw.Schema
	if schema == "" {
		schema = defaultSchema
	}
	if schema == "" {
		schema = DefaultSchema
	}

	m := &Manifest{}
	for _, rt := range raw.Tables {
		t := Table{
			Schema:    rt.Schema,
			Name:      rt.Name,
			EnableRLS: rt.RLS == nil || *rt.RLS,
			ForceRLS:  rt.ForceRLS,
		}
		if t.Schema == "" {
			t.Schema = schema
		}

		for _, rp := range rt.Policies {
			cmd, err := ParseCommand(rp.Command)
			if err != nil {
				return nil, fmt.Errorf("table %s policy %q: %w", t.Name, rp.Name, err)
			}
			roles := rp.Roles
			if rp.Role != "" {
				roles = append([]string{rp.Role}, roles...)
			}
			t.Policies = append(t.Policies, Policy{
				Name:       rp.Name,
				Command:    cmd,
				Permissive: rp.Permissive == nil || *rp.Permissive,
				Roles:      roles,
				Using:      strings.TrimSpace(rp.Using),
				WithCheck:  strings.TrimSpace(rp.WithCheck),
			})
		}
		for _, rg := range rt.Grants {
			t.Grants = append(t.Grants, Grant{
				Privileges:      rg.Privileges,
				Columns:         rg.Columns,
				Roles:           rg.Roles,
				WithGrantOption: rg.WithGrantOption,
			})
		}
		m.Tables = append(m.Tables, t)
	}
	return m, nil
}
