package authtokens

import (
	"fmt"

	"github.com/printshop-ops/rlsctl/cmd/util"
	"github.com/printshop-ops/rlsctl/internal/authtokens"
	"github.com/printshop-ops/rlsctl/internal/config"
	"github.com/printshop-ops/rlsctl/internal/executor"
	"github.com/printshop-ops/rlsctl/internal/logger"
	"github.com/printshop-ops/rlsctl/internal/report"
	"github.com/spf13/cobra"
)

var (
	tokensConn        util.ConnectionFlags
	tokensConfig      *config.Config
	tokensDryRun      bool
	tokensMode        string
	tokensLockTimeout string
	tokensOutputJSON  string
	tokensNoColor     bool
)

var AuthTokensCmd = &cobra.Command{
	Use:   "auth-tokens",
	Short: "Replace NULL token columns in auth.users with empty strings",
	Long: `The auth server cannot read NULL values in the token columns of
auth.users, and sign-in fails for every affected user. This command counts the
NULLs per column and updates them to ''. Columns that do not exist in the
installed auth schema are skipped.`,
	SilenceUsage: true,
	PreRunE: util.PreRunEWithConfig(&tokensConn, &tokensConfig, func() []config.Requirement {
		return []config.Requirement{config.RequireDatabase}
	}),
	RunE: runAuthTokens,
}

func init() {
	util.AddConnectionFlags(AuthTokensCmd, &tokensConn)

	AuthTokensCmd.Flags().BoolVar(&tokensDryRun, "dry-run", false, "Print the updates without executing them")
	AuthTokensCmd.Flags().StringVar(&tokensMode, "mode", string(executor.ModeStatement), "Execution mode: statement or transaction")
	AuthTokensCmd.Flags().StringVar(&tokensLockTimeout, "lock-timeout", "", "Maximum time to wait for the auth.users lock (e.g., 5s)")
	AuthTokensCmd.Flags().StringVar(&tokensOutputJSON, "output-json", "", `Write a JSON report to a file, or "stdout"`)
	AuthTokensCmd.Flags().BoolVar(&tokensNoColor, "no-color", false, "Disable colored output")
}

func runAuthTokens(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	mode, err := executor.ParseMode(tokensMode)
	if err != nil {
		return err
	}

	runID := util.NewRunID()
	log := logger.WithRun(runID)

	session, err := util.Connect(ctx, tokensConfig.Database(), runID)
	if err != nil {
		return err
	}
	defer session.Close()

	plan, err := authtokens.Inspect(ctx, session.DB)
	if err != nil {
		return err
	}
	for _, c := range plan.Columns {
		log.Debug("auth.users token column", "column", c.Column, "nulls", c.Nulls)
	}
	stmts := authtokens.Statements(plan)

	r := &report.Report{
		Command: "auth-tokens",
		RunID:   runID,
		Mode:    mode,
		DryRun:  tokensDryRun,
	}
	if tokensDryRun {
		r.Plan = stmts
		r.Finalize()
		return util.EmitReport(cmd.OutOrStdout(), tokensOutputJSON, tokensNoColor, r)
	}

	exec := executor.New(executor.Options{Mode: mode, LockTimeout: tokensLockTimeout, RunID: runID})
	outcomes, runErr := exec.Run(ctx, executor.Session{Conn: session.Conn}, stmts)
	r.Outcomes = outcomes
	r.Finalize()

	if err := util.EmitReport(cmd.OutOrStdout(), tokensOutputJSON, tokensNoColor, r); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("auth-tokens aborted: %w", runErr)
	}
	if r.Failed {
		return fmt.Errorf("auth-tokens failed: %d of %d updates failed", r.Summary.Failed, r.Summary.Total)
	}
	return nil
}

// ResetFlags resets all global flag variables to their default values for testing
func ResetFlags() {
	tokensConn.Reset()
	tokensConfig = nil
	tokensDryRun = false
	tokensMode = string(executor.ModeStatement)
	tokensLockTimeout = ""
	tokensOutputJSON = ""
	tokensNoColor = false
}
