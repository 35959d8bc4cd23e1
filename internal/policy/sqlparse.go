package policy

import (
	"fmt"
	"slices"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// sqlParser accumulates declarations from a SQL policy file.
type sqlParser struct {
	defaultSchema string
	manifest      *Manifest
}

// ParseSQL reads a SQL statement file and turns it into declarations.
// Recognised statements: ALTER TABLE ... ENABLE/FORCE ROW LEVEL SECURITY,
// CREATE POLICY, GRANT ... ON TABLE, and DROP POLICY (ignored, since drops
// are always generated before creates).
func ParseSQL(content, defaultSchema string) (*Manifest, error) {
	if defaultSchema == "" {
		defaultSchema = DefaultSchema
	}
	p := &sqlParser{defaultSchema: defaultSchema, manifest: &Manifest{}}

	statements, err := pg_query.SplitWithParser(content, true)
	if err != nil {
		return nil, fmt.Errorf("failed to split SQL: %w", err)
	}

	for _, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		result, err := pg_query.Parse(stmt)
		if err != nil {
			return nil, fmt.Errorf("pg_query parse error: %w. Statement: %q", err, stmt)
		}
		for _, raw := range result.Stmts {
			if raw.Stmt == nil {
				continue
			}
			if err := p.processStatement(raw.Stmt, stmt); err != nil {
				return nil, err
			}
		}
	}
	return p.manifest, nil
}

func (p *sqlParser) processStatement(node *pg_query.Node, original string) error {
	switch n := node.Node.(type) {
	case *pg_query.Node_AlterTableStmt:
		return p.parseAlterTable(n.AlterTableStmt, original)
	case *pg_query.Node_CreatePolicyStmt:
		return p.parseCreatePolicy(n.CreatePolicyStmt)
	case *pg_query.Node_GrantStmt:
		return p.parseGrant(n.GrantStmt, original)
	case *pg_query.Node_DropStmt:
		if n.DropStmt.RemoveType == pg_query.ObjectType_OBJECT_POLICY {
			return nil
		}
		return fmt.Errorf("unsupported DROP statement in policy file: %q", original)
	default:
		return fmt.Errorf("unsupported statement in policy file: %q", original)
	}
}

func (p *sqlParser) table(rv *pg_query.RangeVar) *Table {
	schema := rv.Schemaname
	if schema == "" {
		schema = p.defaultSchema
	}
	if t, ok := p.manifest.Table(schema, rv.Relname); ok {
		return t
	}
	p.manifest.Tables = append(p.manifest.Tables, Table{Schema: schema, Name: rv.Relname})
	return &p.manifest.Tables[len(p.manifest.Tables)-1]
}

func (p *sqlParser) parseAlterTable(stmt *pg_query.AlterTableStmt, original string) error {
	if stmt.Objtype != pg_query.ObjectType_OBJECT_TABLE || stmt.Relation == nil {
		return fmt.Errorf("unsupported ALTER statement in policy file: %q", original)
	}
	t := p.table(stmt.Relation)

	for _, c := range stmt.Cmds {
		cmd := c.GetAlterTableCmd()
		if cmd == nil {
			continue
		}
		switch cmd.Subtype {
		case pg_query.AlterTableType_AT_EnableRowSecurity:
			t.EnableRLS = true
		case pg_query.AlterTableType_AT_DisableRowSecurity:
			t.EnableRLS = false
		case pg_query.AlterTableType_AT_ForceRowSecurity:
			t.ForceRLS = true
		case pg_query.AlterTableType_AT_NoForceRowSecurity:
			t.ForceRLS = false
		default:
			return fmt.Errorf("only ROW LEVEL SECURITY changes are allowed in ALTER TABLE: %q", original)
		}
	}
	return nil
}

func (p *sqlParser) parseCreatePolicy(stmt *pg_query.CreatePolicyStmt) error {
	if stmt.Table == nil || stmt.PolicyName == "" {
		return fmt.Errorf("CREATE POLICY without table or name")
	}
	t := p.table(stmt.Table)

	cmd, err := ParseCommand(stmt.CmdName)
	if err != nil {
		return fmt.Errorf("policy %q: %w", stmt.PolicyName, err)
	}

	pol := Policy{
		Name:       stmt.PolicyName,
		Command:    cmd,
		Permissive: stmt.Permissive,
	}
	for _, r := range stmt.Roles {
		if name := extractRoleName(r); name != "" {
			pol.Roles = append(pol.Roles, name)
		}
	}
	// the parser fills in PUBLIC when there is no TO clause
	if len(pol.Roles) == 1 && NormalizeRole(pol.Roles[0]) == "public" {
		pol.Roles = nil
	}
	if stmt.Qual != nil {
		if pol.Using, err = deparseExpr(stmt.Qual); err != nil {
			return fmt.Errorf("policy %q USING: %w", stmt.PolicyName, err)
		}
	}
	if stmt.WithCheck != nil {
		if pol.WithCheck, err = deparseExpr(stmt.WithCheck); err != nil {
			return fmt.Errorf("policy %q WITH CHECK: %w", stmt.PolicyName, err)
		}
	}

	// a later CREATE for the same name replaces the earlier one
	for i := range t.Policies {
		if t.Policies[i].Name == pol.Name {
			t.Policies[i] = pol
			return nil
		}
	}
	t.Policies = append(t.Policies, pol)
	return nil
}

func (p *sqlParser) parseGrant(stmt *pg_query.GrantStmt, original string) error {
	if !stmt.IsGrant {
		return fmt.Errorf("REVOKE is not supported in policy files: %q", original)
	}
	if stmt.Objtype != pg_query.ObjectType_OBJECT_TABLE || stmt.Targtype != pg_query.GrantTargetType_ACL_TARGET_OBJECT {
		return fmt.Errorf("only GRANT ... ON TABLE is supported: %q", original)
	}

	var roles []string
	for _, r := range stmt.Grantees {
		if name := extractRoleName(r); name != "" {
			roles = append(roles, name)
		}
	}

	// privileges sharing a column list become one grant
	var grants []Grant
	for _, n := range stmt.Privileges {
		ap := n.GetAccessPriv()
		if ap == nil {
			continue
		}
		priv := strings.ToUpper(ap.PrivName)
		if priv == "" {
			priv = "ALL"
		}
		var cols []string
		for _, c := range ap.Cols {
			if s := c.GetString_(); s != nil {
				cols = append(cols, s.Sval)
			}
		}
		grants = addPrivilege(grants, priv, cols)
	}
	if len(grants) == 0 {
		grants = []Grant{{Privileges: []string{"ALL"}}}
	}
	for i := range grants {
		grants[i].Roles = roles
		grants[i].WithGrantOption = stmt.GrantOption
	}

	for _, obj := range stmt.Objects {
		rv := obj.GetRangeVar()
		if rv == nil {
			continue
		}
		t := p.table(rv)
		t.Grants = append(t.Grants, grants...)
	}
	return nil
}

func addPrivilege(grants []Grant, priv string, cols []string) []Grant {
	for i := range grants {
		if slices.Equal(grants[i].Columns, cols) {
			grants[i].Privileges = append(grants[i].Privileges, priv)
			return grants
		}
	}
	return append(grants, Grant{Privileges: []string{priv}, Columns: cols})
}

// extractRoleName extracts role name from a role node
func extractRoleName(roleNode *pg_query.Node) string {
	if roleNode == nil {
		return ""
	}
	switch node := roleNode.Node.(type) {
	case *pg_query.Node_RoleSpec:
		if node.RoleSpec == nil {
			return ""
		}
		if node.RoleSpec.Rolename != "" {
			return node.RoleSpec.Rolename
		}
		switch node.RoleSpec.Roletype {
		case pg_query.RoleSpecType_ROLESPEC_PUBLIC:
			return "PUBLIC"
		case pg_query.RoleSpecType_ROLESPEC_CURRENT_USER:
			return "CURRENT_USER"
		case pg_query.RoleSpecType_ROLESPEC_CURRENT_ROLE:
			return "CURRENT_ROLE"
		case pg_query.RoleSpecType_ROLESPEC_SESSION_USER:
			return "SESSION_USER"
		}
	case *pg_query.Node_String_:
		if node.String_ != nil {
			return node.String_.Sval
		}
	}
	return ""
}

// deparseExpr renders an expression node back to SQL by deparsing it as the
// single target of a SELECT.
func deparseExpr(expr *pg_query.Node) (string, error) {
	selectStmt := &pg_query.SelectStmt{
		TargetList: []*pg_query.Node{
			{Node: &pg_query.Node_ResTarget{ResTarget: &pg_query.ResTarget{Val: expr}}},
		},
		LimitOption: pg_query.LimitOption_LIMIT_OPTION_DEFAULT,
		Op:          pg_query.SetOperation_SETOP_NONE,
	}
	tree := &pg_query.ParseResult{
		Stmts: []*pg_query.RawStmt{
			{Stmt: &pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: selectStmt}}},
		},
	}
	out, err := pg_query.Deparse(tree)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.TrimPrefix(out, "SELECT ")), nil
}
