// Package include expands psql include meta-commands (\i and \ir) in SQL
// policy files, so a manifest can be split into one file per table.
package include

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// directive matches "\i path" or "\ir path" on its own line, with an optional
// trailing semicolon.
var directive = regexp.MustCompile(`^\s*\\ir?\s+([^\s;]+)\s*;?\s*$`)

// Expander resolves includes below a root directory.
type Expander struct {
	root    string
	visited map[string]bool
}

// Expand reads filename and replaces every include directive with the
// contents of the referenced file, recursively. Paths are relative to the
// including file and must stay inside the directory of filename.
func Expand(filename string) (string, error) {
	absPath, err := filepath.Abs(filename)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for %s: %w", filename, err)
	}
	e := &Expander{root: filepath.Dir(absPath), visited: make(map[string]bool)}
	return e.expandFile(absPath)
}

func (e *Expander) expandFile(path string) (string, error) {
	if e.visited[path] {
		return "", fmt.Errorf("circular include: %s", path)
	}
	e.visited[path] = true
	// The same file may be included from two different branches.
	defer delete(e.visited, path)

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	out, err := e.expand(string(content), filepath.Dir(path))
	if err != nil {
		return "", fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return out, nil
}

func (e *Expander) expand(content, dir string) (string, error) {
	lines := strings.Split(content, "\n")
	var b strings.Builder

	for i, line := range lines {
		m := directive.FindStringSubmatch(line)
		if m == nil {
			b.WriteString(line)
			if i < len(lines)-1 {
				b.WriteString("\n")
			}
			continue
		}

		target, err := e.resolve(m[1], dir)
		if err != nil {
			return "", fmt.Errorf("line %d: %w", i+1, err)
		}
		included, err := e.expandFile(target)
		if err != nil {
			return "", fmt.Errorf("line %d: %w", i+1, err)
		}
		b.WriteString(included)
		if !strings.HasSuffix(included, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// resolve returns the absolute path of an include, rejecting anything that
// leaves the root directory.
func (e *Expander) resolve(name, dir string) (string, error) {
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || strings.Contains(clean, "..") {
		return "", fmt.Errorf("include %s must be a relative path inside %s", name, e.root)
	}

	abs, err := filepath.Abs(filepath.Join(dir, clean))
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(e.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("include %s is outside %s", name, e.root)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("included file %s: %w", name, err)
	}
	return abs, nil
}
