package policy

import (
	"strings"
	"unicode"

	"github.com/lib/pq"
)

// reservedWords are the PostgreSQL keywords that cannot appear unquoted as a
// table or role name.
var reservedWords = func() map[string]bool {
	words := `all analyse analyze and any array as asc asymmetric authorization binary both
case cast check collate collation column concurrently constraint create cross
current_catalog current_date current_role current_schema current_time current_timestamp current_user
default deferrable desc distinct do else end except false fetch for foreign freeze from full
grant group having ilike in initially inner intersect into is isnull join lateral leading left
like limit localtime localtimestamp natural not notnull null offset on only or order outer overlaps
placing primary references returning right select session_user similar some symmetric system_user
table tablesample then to trailing true union unique user using variadic verbose when where window with`
	m := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		m[w] = true
	}
	return m
}()

// specialRoles are role specifications that must stay unquoted keywords.
var specialRoles = map[string]bool{
	"PUBLIC":       true,
	"CURRENT_USER": true,
	"CURRENT_ROLE": true,
	"SESSION_USER": true,
}

// NeedsQuoting checks if an identifier needs to be quoted
func NeedsQuoting(identifier string) bool {
	if identifier == "" {
		return false
	}
	if reservedWords[strings.ToLower(identifier)] {
		return true
	}
	for i, r := range identifier {
		// unquoted identifiers fold to lower case
		if unicode.IsUpper(r) {
			return true
		}
		if i == 0 && !unicode.IsLetter(r) && r != '_' {
			return true
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return true
		}
	}
	return false
}

// QuoteIdentifier quotes an identifier only if PostgreSQL requires it.
func QuoteIdentifier(identifier string) string {
	if NeedsQuoting(identifier) {
		return pq.QuoteIdentifier(identifier)
	}
	return identifier
}

// QualifyTable returns the quoted table reference, omitting the schema for
// tables in the default schema.
func QualifyTable(schema, name string) string {
	if schema == "" || schema == DefaultSchema {
		return QuoteIdentifier(name)
	}
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(name)
}

// QuoteRole renders a role for a TO clause.
func QuoteRole(role string) string {
	if upper := strings.ToUpper(role); specialRoles[upper] {
		return upper
	}
	return QuoteIdentifier(role)
}

// NormalizeRole folds a role name to its catalog spelling.
func NormalizeRole(role string) string {
	if upper := strings.ToUpper(role); specialRoles[upper] {
		return strings.ToLower(upper)
	}
	return role
}
