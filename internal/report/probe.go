package report

import (
	"fmt"
	"io"

	"github.com/printshop-ops/rlsctl/internal/color"
	"github.com/printshop-ops/rlsctl/internal/supabase"
)

// WriteProbe writes the rows each key could see, one line per table and key.
func WriteProbe(w io.Writer, probes []supabase.TableProbe, c *color.Color) {
	fmt.Fprintf(w, "%s\n\n", c.Bold("rlsctl probe"))
	for _, p := range probes {
		fmt.Fprintf(w, "%s\n", c.Cyan(p.Table))
		for _, r := range p.Results {
			label := r.Key
			if r.Role != "" {
				label += " (" + r.Role + ")"
			}
			if r.Error != "" {
				fmt.Fprintf(w, "  %s %s: %s\n", c.Glyph("failed"), label, c.Fail(r.Error))
				continue
			}
			fmt.Fprintf(w, "  %s %s: %s visible\n", c.Glyph("ok"), label, pluralize(int(r.Rows), "row", "rows"))
		}
	}
}
