// Package ignore decides which tables and policies audits and verification
// skip, from glob patterns kept in a .rlsignore file.
package ignore

import (
	"path/filepath"
	"strings"
)

// Config holds ignore patterns. A nil *Config ignores nothing.
type Config struct {
	Tables   []string
	Policies []string
}

// Table reports whether a table is ignored. Patterns are matched against both
// the bare name and schema.name.
func (c *Config) Table(schema, name string) bool {
	if c == nil {
		return false
	}
	return shouldIgnore(c.Tables, name, schema+"."+name)
}

// Policy reports whether a policy name is ignored.
func (c *Config) Policy(name string) bool {
	if c == nil {
		return false
	}
	return shouldIgnore(c.Policies, name)
}

// shouldIgnore checks if any candidate matches the patterns.
// Patterns support wildcards (*) and negation (!)
// Negation patterns (starting with !) take precedence over inclusion patterns
func shouldIgnore(patterns []string, candidates ...string) bool {
	if len(patterns) == 0 {
		return false
	}

	matched := false
	for _, pattern := range patterns {
		if strings.HasPrefix(pattern, "!") {
			continue
		}
		if matchAny(pattern, candidates) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	for _, pattern := range patterns {
		if neg, ok := strings.CutPrefix(pattern, "!"); ok && matchAny(neg, candidates) {
			return false
		}
	}
	return true
}

func matchAny(pattern string, candidates []string) bool {
	for _, c := range candidates {
		if matchPattern(pattern, c) {
			return true
		}
	}
	return false
}

// matchPattern matches a glob-style pattern against a string
func matchPattern(pattern, name string) bool {
	matched, err := filepath.Match(pattern, name)
	if err != nil {
		// If pattern is invalid, treat it as a literal match
		return pattern == name
	}
	return matched
}
