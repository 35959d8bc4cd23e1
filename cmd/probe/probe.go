package probe

import (
	"fmt"
	"io"

	"github.com/printshop-ops/rlsctl/cmd/util"
	"github.com/printshop-ops/rlsctl/internal/color"
	"github.com/printshop-ops/rlsctl/internal/config"
	"github.com/printshop-ops/rlsctl/internal/policy"
	"github.com/printshop-ops/rlsctl/internal/report"
	"github.com/printshop-ops/rlsctl/internal/supabase"
	"github.com/spf13/cobra"
)

var (
	probeConfig        *config.Config
	probeTables        []string
	probeFile          string
	probeFailOnVisible bool
	probeOutputJSON    string
	probeNoColor       bool
)

var ProbeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Count the rows each API key can read through the REST API",
	Long: `Query every table with the publishable key, and with the secret key when
one is configured, and print how many rows each key can see. This shows the
effect of row level security from a client's point of view. Nothing is
written.

Tables come from repeated --table flags or from the tables of a manifest
given with --file. Tables outside public are written schema.table and must be
an exposed schema of the project's API.`,
	SilenceUsage: true,
	PreRunE: util.PreRunEWithConfig(nil, &probeConfig, func() []config.Requirement {
		return []config.Requirement{config.RequireSupabasePublic}
	}),
	RunE: runProbe,
}

func init() {
	ProbeCmd.Flags().StringArrayVar(&probeTables, "table", nil, "Table to probe, as name or schema.name (repeatable)")
	ProbeCmd.Flags().StringVar(&probeFile, "file", "", "Probe every table of this policy manifest")
	ProbeCmd.Flags().BoolVar(&probeFailOnVisible, "fail-on-visible", false, "Exit 1 if the publishable key can read any row")
	ProbeCmd.Flags().StringVar(&probeOutputJSON, "output-json", "", `Write a JSON report to a file, or "stdout"`)
	ProbeCmd.Flags().BoolVar(&probeNoColor, "no-color", false, "Disable colored output")
}

// tables resolves the probe targets from the flags.
func tables() ([]string, error) {
	out := append([]string(nil), probeTables...)
	if probeFile != "" {
		m, err := policy.LoadFile(probeFile, policy.DefaultSchema)
		if err != nil {
			return nil, err
		}
		for _, t := range m.Tables {
			if t.Schema != policy.DefaultSchema {
				out = append(out, t.Schema+"."+t.Name)
				continue
			}
			out = append(out, t.Name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("nothing to probe: pass --table or --file")
	}
	return out, nil
}

// keys lists the publishable key, then the secret key when configured.
func keys(cfg *config.Config) []supabase.ProbeKey {
	ks := []supabase.ProbeKey{{Name: "publishable", Key: cfg.PublishableKey, Role: config.KeyRole(cfg.PublishableKey)}}
	if cfg.SecretKey != "" {
		ks = append(ks, supabase.ProbeKey{Name: "secret", Key: cfg.SecretKey, Role: config.KeyRole(cfg.SecretKey)})
	}
	return ks
}

func runProbe(cmd *cobra.Command, args []string) error {
	targets, err := tables()
	if err != nil {
		return err
	}

	prober := supabase.NewProber(probeConfig.SupabaseURL, keys(probeConfig)...)
	probes, err := prober.Probe(cmd.Context(), targets)
	if err != nil {
		return err
	}

	c := color.New(!probeNoColor)
	err = util.Emit(cmd.OutOrStdout(), probeOutputJSON, func(w io.Writer) { report.WriteProbe(w, probes, c) }, probes)
	if err != nil {
		return err
	}

	if probeFailOnVisible {
		if visible := publiclyVisible(probes); len(visible) > 0 {
			return fmt.Errorf("publishable key can read rows of %v", visible)
		}
	}
	return nil
}

func publiclyVisible(probes []supabase.TableProbe) []string {
	var out []string
	for _, p := range probes {
		if len(p.Results) > 0 && p.Results[0].Error == "" && p.Results[0].Rows > 0 {
			out = append(out, p.Table)
		}
	}
	return out
}

// ResetFlags resets all global flag variables to their default values for testing
func ResetFlags() {
	probeConfig = nil
	probeTables = nil
	probeFile = ""
	probeFailOnVisible = false
	probeOutputJSON = ""
	probeNoColor = false
}
