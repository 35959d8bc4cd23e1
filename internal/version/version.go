package version

import (
	_ "embed"
	"runtime"
	"strings"
)

//go:embed VERSION
var versionFile string

// Build-time variables set via ldflags
var (
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Version returns the current version of rlsctl
func Version() string {
	return strings.TrimSpace(versionFile)
}

// Platform returns the OS/architecture combination
func Platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

// String renders the full version line, e.g. "v0.1.0@abc123 linux/amd64 2025-01-01".
func String() string {
	return "v" + Version() + "@" + GitCommit + " " + Platform() + " " + BuildDate
}
