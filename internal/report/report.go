// Package report renders run results for people and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/printshop-ops/rlsctl/internal/catalog"
	"github.com/printshop-ops/rlsctl/internal/color"
	"github.com/printshop-ops/rlsctl/internal/executor"
	"github.com/printshop-ops/rlsctl/internal/fingerprint"
	"github.com/printshop-ops/rlsctl/internal/policy"
)

// StdoutTarget selects stdout for --output-json.
const StdoutTarget = "stdout"

// Report is everything a run produced.
type Report struct {
	Command string             `json:"command"`
	RunID   string             `json:"run_id"`
	Mode    executor.Mode      `json:"mode,omitempty"`
	Source  string             `json:"source,omitempty"`
	DryRun  bool               `json:"dry_run"`
	Strict  bool               `json:"strict"`
	Plan    []policy.Statement `json:"plan,omitempty"`

	Outcomes            []executor.Outcome    `json:"outcomes"`
	Verification        *catalog.Verification `json:"verification,omitempty"`
	VerificationSkipped string                `json:"verification_skipped,omitempty"`

	Summary executor.Summary `json:"summary"`
	Failed  bool             `json:"failed"`
}

// Finalize computes the summary and the failure flag. Call it once all
// outcomes and the verification are in place.
func (r *Report) Finalize() {
	if r.Outcomes == nil {
		r.Outcomes = []executor.Outcome{}
	}
	r.Summary = executor.Summarize(r.Outcomes)
	r.Failed = r.Summary.HasFailures()
	if r.Strict && r.Verification != nil && !r.Verification.Clean() {
		r.Failed = true
	}
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// WriteJSONTo writes v to stdout when target is "stdout", otherwise to the
// file at target.
func WriteJSONTo(target string, stdout io.Writer, v any) error {
	if target == StdoutTarget {
		return WriteJSON(stdout, v)
	}
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer f.Close()
	if err := WriteJSON(f, v); err != nil {
		return err
	}
	return f.Close()
}

// WriteHuman writes the console report.
func WriteHuman(w io.Writer, r *Report, c *color.Color) {
	header := "rlsctl " + r.Command
	meta := []string{"run=" + r.RunID}
	if r.Mode != "" {
		meta = append(meta, "mode="+string(r.Mode))
	}
	if r.Source != "" {
		meta = append(meta, "file="+r.Source)
	}
	fmt.Fprintf(w, "%s %s\n", c.Bold(header), c.Muted(strings.Join(meta, " ")))

	if r.DryRun {
		writePlan(w, r.Plan, c)
		return
	}

	if r.Command != "verify" {
		writeOutcomes(w, r.Outcomes, c)
	}
	writeVerification(w, r, c)
	writeSummary(w, r, c)
}

func writePlan(w io.Writer, plan []policy.Statement, c *color.Color) {
	fmt.Fprintf(w, "\n%s\n", c.Cyan(fmt.Sprintf("Plan (%d statements, dry run):", len(plan))))
	for _, s := range plan {
		fmt.Fprintf(w, "  %s;\n", s.SQL)
	}
}

func writeOutcomes(w io.Writer, outcomes []executor.Outcome, c *color.Color) {
	fmt.Fprintf(w, "\n%s\n", c.Cyan("Statements:"))
	if len(outcomes) == 0 {
		fmt.Fprintf(w, "  %s\n", c.Muted("nothing to do"))
		return
	}
	for _, o := range outcomes {
		line := fmt.Sprintf("  %s %s", c.Glyph(string(o.Status)), o.Statement.SQL)
		switch o.Status {
		case executor.StatusAlreadyApplied:
			line += c.Muted(" (already applied)")
		case executor.StatusRolledBack:
			line += c.Warn(" (rolled back)")
		}
		fmt.Fprintln(w, line)

		if o.Status != executor.StatusFailed {
			continue
		}
		msg := o.Message
		if o.SQLState != "" {
			msg = o.SQLState + ": " + msg
		}
		fmt.Fprintf(w, "      %s\n", c.Fail(msg))
		if o.Detail != "" {
			fmt.Fprintf(w, "      detail: %s\n", o.Detail)
		}
		if o.Hint != "" {
			fmt.Fprintf(w, "      hint: %s\n", o.Hint)
		}
	}
}

func writeVerification(w io.Writer, r *Report, c *color.Color) {
	if r.VerificationSkipped != "" {
		fmt.Fprintf(w, "\n%s verification skipped: %s\n", c.Glyph("warning"), r.VerificationSkipped)
		return
	}
	v := r.Verification
	if v == nil {
		return
	}

	fmt.Fprintf(w, "\n%s\n", c.Cyan(fmt.Sprintf("Verification: %d/%d declared policies present", v.PresentCount(), len(v.Checks))))
	for _, chk := range v.Checks {
		status, suffix := "present", ""
		if !chk.Present {
			status, suffix = "missing", c.Warn(" (missing)")
		}
		fmt.Fprintf(w, "  %s %s: %s%s\n", c.Glyph(status), policy.QualifyTable(chk.Schema, chk.Table), chk.Policy, suffix)
	}
	for _, f := range v.Findings {
		if f.Kind == catalog.FindingPolicyMissing {
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", c.Glyph("warning"), f.Message())
	}
	if v.Fingerprint != "" {
		fp := fingerprint.Fingerprint{Hash: v.Fingerprint}
		fmt.Fprintf(w, "  %s\n", c.Muted(fp.String()))
	}
}

func writeSummary(w io.Writer, r *Report, c *color.Color) {
	var parts []string
	if r.Command != "verify" {
		s := r.Summary
		parts = append(parts,
			fmt.Sprintf("%d applied", s.Applied),
			fmt.Sprintf("%d already applied", s.AlreadyApplied),
			fmt.Sprintf("%d failed", s.Failed),
			fmt.Sprintf("%d rolled back", s.RolledBack),
		)
	}
	if r.Verification != nil {
		parts = append(parts, pluralize(len(r.Verification.Findings), "finding", "findings"))
	}
	fmt.Fprintf(w, "\n%s %s\n", c.Bold("Summary:"), strings.Join(parts, ", "))

	if r.Failed {
		fmt.Fprintf(w, "%s\n", c.Fail(color.GlyphFail+" "+r.Command+" failed"))
	} else {
		fmt.Fprintf(w, "%s\n", c.OK(color.GlyphOK+" "+r.Command+" succeeded"))
	}
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}
