package audit

import (
	"fmt"
	"io"

	"github.com/printshop-ops/rlsctl/cmd/util"
	"github.com/printshop-ops/rlsctl/internal/audit"
	"github.com/printshop-ops/rlsctl/internal/color"
	"github.com/printshop-ops/rlsctl/internal/config"
	"github.com/printshop-ops/rlsctl/internal/ignore"
	"github.com/printshop-ops/rlsctl/internal/policy"
	"github.com/printshop-ops/rlsctl/internal/report"
	"github.com/spf13/cobra"
)

var (
	auditConn       util.ConnectionFlags
	auditConfig     *config.Config
	auditSchema     string
	auditIgnoreFile string
	auditOutputJSON string
	auditNoColor    bool
)

var AuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List tables without row level security",
	Long: `List every ordinary table in --schema and flag the ones with row level
security disabled, or enabled without any policy (which denies all access to
non-owner roles). Tables matched by the [tables] patterns of the ignore file
are reported but do not fail the audit. The command exits 1 if any other table
has RLS disabled.`,
	SilenceUsage: true,
	PreRunE: util.PreRunEWithConfig(&auditConn, &auditConfig, func() []config.Requirement {
		return []config.Requirement{config.RequireDatabase}
	}),
	RunE: runAudit,
}

func init() {
	util.AddConnectionFlags(AuditCmd, &auditConn)

	AuditCmd.Flags().StringVar(&auditSchema, "schema", policy.DefaultSchema, "Schema to audit")
	AuditCmd.Flags().StringVar(&auditIgnoreFile, "ignore-file", ignore.FileName, "Ignore file with table patterns to skip")
	AuditCmd.Flags().StringVar(&auditOutputJSON, "output-json", "", `Write a JSON report to a file, or "stdout"`)
	AuditCmd.Flags().BoolVar(&auditNoColor, "no-color", false, "Disable colored output")
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ign, err := ignore.Load(auditIgnoreFile)
	if err != nil {
		return err
	}

	session, err := util.Connect(ctx, auditConfig.Database(), util.NewRunID())
	if err != nil {
		return err
	}
	defer session.Close()

	res, err := audit.Audit(ctx, session.DB, auditSchema, ign)
	if err != nil {
		return err
	}

	c := color.New(!auditNoColor)
	err = util.Emit(cmd.OutOrStdout(), auditOutputJSON, func(w io.Writer) { report.WriteAudit(w, res, c) }, res)
	if err != nil {
		return err
	}
	if res.Failed() {
		return fmt.Errorf("audit failed: %d tables in schema %s without row level security", len(res.Insecure()), res.Schema)
	}
	return nil
}

// ResetFlags resets all global flag variables to their default values for testing
func ResetFlags() {
	auditConn.Reset()
	auditConfig = nil
	auditSchema = policy.DefaultSchema
	auditIgnoreFile = ignore.FileName
	auditOutputJSON = ""
	auditNoColor = false
}
