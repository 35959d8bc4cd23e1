package color

import (
	"os"
)

// ANSI color codes
const (
	Reset  = "\033[0m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
	Dim    = "\033[2m"
	Bold   = "\033[1m"
)

// Status glyphs used in console reports.
const (
	GlyphOK       = "✓"
	GlyphSkipped  = "•"
	GlyphWarn     = "⚠"
	GlyphFail     = "✗"
	GlyphRollback = "↺"
)

// Color represents a colorizer that can be enabled or disabled
type Color struct {
	enabled bool
}

// New creates a new Color instance
func New(enabled bool) *Color {
	return &Color{enabled: enabled && shouldEnableColor()}
}

// Enabled reports whether escape codes are emitted.
func (c *Color) Enabled() bool {
	return c.enabled
}

// shouldEnableColor determines if color should be enabled based on environment
func shouldEnableColor() bool {
	// https://no-color.org/
	if os.Getenv("NO_COLOR") != "" {
		return false
	}

	term := os.Getenv("TERM")
	if term == "dumb" || term == "" {
		return false
	}
	return true
}

func (c *Color) wrap(code, text string) string {
	if !c.enabled {
		return text
	}
	return code + text + Reset
}

// OK colors text green
func (c *Color) OK(text string) string { return c.wrap(Green, text) }

// Warn colors text yellow
func (c *Color) Warn(text string) string { return c.wrap(Yellow, text) }

// Fail colors text red
func (c *Color) Fail(text string) string { return c.wrap(Red, text) }

// Muted dims text
func (c *Color) Muted(text string) string { return c.wrap(Dim, text) }

// Bold makes text bold
func (c *Color) Bold(text string) string { return c.wrap(Bold, text) }

// Cyan colors text cyan (for headers and labels)
func (c *Color) Cyan(text string) string { return c.wrap(Cyan, text) }

// Glyph returns the colored status glyph for a status keyword.
func (c *Color) Glyph(status string) string {
	switch status {
	case "applied", "ok", "present":
		return c.OK(GlyphOK)
	case "already_applied", "skipped":
		return c.Muted(GlyphSkipped)
	case "warning", "missing":
		return c.Warn(GlyphWarn)
	case "failed":
		return c.Fail(GlyphFail)
	case "rolled_back":
		return c.Warn(GlyphRollback)
	default:
		return " "
	}
}
