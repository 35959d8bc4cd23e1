package verify

import (
	"fmt"

	"github.com/printshop-ops/rlsctl/cmd/util"
	"github.com/printshop-ops/rlsctl/internal/catalog"
	"github.com/printshop-ops/rlsctl/internal/config"
	"github.com/printshop-ops/rlsctl/internal/ignore"
	"github.com/printshop-ops/rlsctl/internal/policy"
	"github.com/printshop-ops/rlsctl/internal/report"
	"github.com/spf13/cobra"
)

var (
	verifyConn       util.ConnectionFlags
	verifyConfig     *config.Config
	verifyFile       string
	verifySchema     string
	verifyOutputJSON string
	verifyNoColor    bool
	verifyIgnoreFile string
)

var VerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the database catalog against a policy manifest",
	Long: `Compare the row level security state of every table in --file with the
manifest, without changing anything. The command exits 1 on any finding:
a missing table or policy, RLS disabled or not forced, a command or role
mismatch, or a policy the manifest does not declare.`,
	SilenceUsage: true,
	PreRunE: util.PreRunEWithConfig(&verifyConn, &verifyConfig, func() []config.Requirement {
		return []config.Requirement{config.RequireDatabase}
	}),
	RunE: runVerify,
}

func init() {
	util.AddConnectionFlags(VerifyCmd, &verifyConn)

	VerifyCmd.Flags().StringVar(&verifyFile, "file", "", "Path to the policy manifest, .yaml or .sql (required)")
	VerifyCmd.Flags().StringVar(&verifySchema, "schema", policy.DefaultSchema, "Schema for tables that do not name one")
	VerifyCmd.Flags().StringVar(&verifyOutputJSON, "output-json", "", `Write a JSON report to a file, or "stdout"`)
	VerifyCmd.Flags().BoolVar(&verifyNoColor, "no-color", false, "Disable colored output")
	VerifyCmd.Flags().StringVar(&verifyIgnoreFile, "ignore-file", ignore.FileName, "Ignore file with policy patterns exempt from verification")

	VerifyCmd.MarkFlagRequired("file")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := policy.LoadFile(verifyFile, verifySchema)
	if err != nil {
		return err
	}
	ign, err := ignore.Load(verifyIgnoreFile)
	if err != nil {
		return err
	}

	runID := util.NewRunID()
	session, err := util.Connect(ctx, verifyConfig.Database(), runID)
	if err != nil {
		return err
	}
	defer session.Close()

	v, err := catalog.Verify(ctx, session.DB, m)
	if err != nil {
		return err
	}
	v.IgnoreUnexpected(ign.Policy)

	r := &report.Report{
		Command:      "verify",
		RunID:        runID,
		Source:       m.Source,
		Strict:       true,
		Verification: v,
	}
	r.Finalize()
	if err := util.EmitReport(cmd.OutOrStdout(), verifyOutputJSON, verifyNoColor, r); err != nil {
		return err
	}
	if r.Failed {
		return fmt.Errorf("verify failed: %d findings", len(v.Findings))
	}
	return nil
}

// ResetFlags resets all global flag variables to their default values for testing
func ResetFlags() {
	verifyConn.Reset()
	verifyConfig = nil
	verifyFile = ""
	verifySchema = policy.DefaultSchema
	verifyOutputJSON = ""
	verifyNoColor = false
	verifyIgnoreFile = ignore.FileName
}
