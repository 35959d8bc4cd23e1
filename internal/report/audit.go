package report

import (
	"fmt"
	"io"

	"github.com/printshop-ops/rlsctl/internal/audit"
	"github.com/printshop-ops/rlsctl/internal/color"
)

// WriteAudit writes the console form of an audit.
func WriteAudit(w io.Writer, res *audit.Result, c *color.Color) {
	fmt.Fprintf(w, "%s %s\n\n", c.Bold("rlsctl audit"), c.Muted("schema="+res.Schema))

	if len(res.Tables) == 0 {
		fmt.Fprintf(w, "  %s\n", c.Muted("no tables found"))
	}
	for _, e := range res.Tables {
		name := e.QualifiedName()
		switch {
		case e.Ignored && e.Issue != "":
			fmt.Fprintf(w, "  %s %s %s\n", c.Glyph("skipped"), name, c.Muted("(ignored, "+string(e.Issue)+")"))
		case e.Issue == audit.IssueRLSDisabled:
			fmt.Fprintf(w, "  %s %s %s\n", c.Glyph("failed"), name, c.Fail("(row level security disabled)"))
		case e.Issue == audit.IssueNoPolicies:
			fmt.Fprintf(w, "  %s %s %s\n", c.Glyph("warning"), name, c.Warn("(row level security enabled, no policies: deny all)"))
		default:
			fmt.Fprintf(w, "  %s %s %s\n", c.Glyph("ok"), name, c.Muted(pluralize(e.Policies, "policy", "policies")))
		}
	}

	insecure := len(res.Insecure())
	fmt.Fprintf(w, "\n%s %d tables, %d without row level security, %d deny all\n",
		c.Bold("Summary:"), len(res.Tables), insecure, len(res.DenyAll()))
	if insecure > 0 {
		fmt.Fprintf(w, "%s\n", c.Fail(color.GlyphFail+" audit failed"))
	} else {
		fmt.Fprintf(w, "%s\n", c.OK(color.GlyphOK+" audit succeeded"))
	}
}
