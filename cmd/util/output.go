package util

import (
	"fmt"
	"io"

	"github.com/printshop-ops/rlsctl/internal/color"
	"github.com/printshop-ops/rlsctl/internal/report"
)

// Emit writes the human report to out, and the JSON report to jsonTarget when
// set. JSON on stdout replaces the human report.
func Emit(out io.Writer, jsonTarget string, human func(io.Writer), v any) error {
	if jsonTarget != report.StdoutTarget {
		human(out)
	}
	if jsonTarget != "" {
		if err := report.WriteJSONTo(jsonTarget, out, v); err != nil {
			return fmt.Errorf("failed to write JSON report: %w", err)
		}
	}
	return nil
}

// EmitReport writes a run report.
func EmitReport(out io.Writer, jsonTarget string, noColor bool, r *report.Report) error {
	c := color.New(!noColor)
	return Emit(out, jsonTarget, func(w io.Writer) { report.WriteHuman(w, r, c) }, r)
}
