package apply

import (
	"fmt"

	"github.com/printshop-ops/rlsctl/cmd/util"
	"github.com/printshop-ops/rlsctl/internal/catalog"
	"github.com/printshop-ops/rlsctl/internal/config"
	"github.com/printshop-ops/rlsctl/internal/executor"
	"github.com/printshop-ops/rlsctl/internal/fingerprint"
	"github.com/printshop-ops/rlsctl/internal/ignore"
	"github.com/printshop-ops/rlsctl/internal/logger"
	"github.com/printshop-ops/rlsctl/internal/policy"
	"github.com/printshop-ops/rlsctl/internal/report"
	"github.com/printshop-ops/rlsctl/internal/supabase"
	"github.com/spf13/cobra"
)

// Transports accepted by --via.
const (
	ViaSQL = "sql"
	ViaRPC = "rpc"
)

var (
	applyConn        util.ConnectionFlags
	applyConfig      *config.Config
	applyFile        string
	applySchema      string
	applyMode        string
	applyVia         string
	applyPrune       bool
	applyDryRun      bool
	applyStrict      bool
	applyLockTimeout string
	applyOutputJSON  string
	applyNoColor     bool
	applyIgnoreFile  string
	applyRPCFunction string
	applyExpectFP    string
)

var ApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply row level security policies to a database",
	Long: `Apply the row level security policies declared in --file (YAML or SQL).

Every statement runs in order on one connection. "Already exists" errors are
reported as already applied; any other error is reported as failed and the
run continues. Afterwards the catalog is checked against the declared
policies. The command exits 1 if any statement failed.`,
	SilenceUsage: true,
	PreRunE:      util.PreRunEWithConfig(&applyConn, &applyConfig, requirements),
	RunE:         runApply,
}

func init() {
	util.AddConnectionFlags(ApplyCmd, &applyConn)

	ApplyCmd.Flags().StringVar(&applyFile, "file", "", "Path to the policy manifest, .yaml or .sql (required)")
	ApplyCmd.Flags().StringVar(&applySchema, "schema", policy.DefaultSchema, "Schema for tables that do not name one")
	ApplyCmd.Flags().StringVar(&applyMode, "mode", string(executor.ModeStatement), "Execution mode: statement or transaction (one transaction per table)")
	ApplyCmd.Flags().StringVar(&applyVia, "via", ViaSQL, "Transport: sql (direct connection) or rpc (Supabase exec_sql function)")
	ApplyCmd.Flags().BoolVar(&applyPrune, "prune", false, "Drop policies on declared tables that the manifest does not declare")
	ApplyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Print the statements without executing them")
	ApplyCmd.Flags().BoolVar(&applyStrict, "strict", false, "Exit 1 when verification reports any finding")
	ApplyCmd.Flags().StringVar(&applyLockTimeout, "lock-timeout", "", "Maximum time to wait for table locks (e.g., 5s, 1min)")
	ApplyCmd.Flags().StringVar(&applyOutputJSON, "output-json", "", `Write a JSON report to a file, or "stdout"`)
	ApplyCmd.Flags().BoolVar(&applyNoColor, "no-color", false, "Disable colored output")
	ApplyCmd.Flags().StringVar(&applyIgnoreFile, "ignore-file", ignore.FileName, "Ignore file with policy patterns exempt from verification and pruning")
	ApplyCmd.Flags().StringVar(&applyRPCFunction, "rpc-function", supabase.DefaultRPCFunction, "SQL function used by --via rpc")
	ApplyCmd.Flags().StringVar(&applyExpectFP, "expect-fingerprint", "", "Abort unless the catalog still matches this fingerprint from an earlier verify")

	ApplyCmd.MarkFlagRequired("file")
}

// requirements lists what the current flags need from the environment.
func requirements() []config.Requirement {
	var reqs []config.Requirement
	if applyVia == ViaRPC && !applyDryRun {
		reqs = append(reqs, config.RequireSupabaseAdmin)
	}
	if needsDatabase() {
		reqs = append(reqs, config.RequireDatabase)
	}
	return reqs
}

func needsDatabase() bool {
	if applyPrune || applyExpectFP != "" {
		return true
	}
	return applyVia == ViaSQL && !applyDryRun
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logger.Get()

	mode, err := executor.ParseMode(applyMode)
	if err != nil {
		return err
	}
	switch applyVia {
	case ViaSQL:
	case ViaRPC:
		if mode == executor.ModeTransaction {
			return fmt.Errorf("--mode transaction is not available with --via rpc: every rpc call commits on its own")
		}
	default:
		return fmt.Errorf("invalid --via %q: must be %q or %q", applyVia, ViaSQL, ViaRPC)
	}

	m, err := policy.LoadFile(applyFile, applySchema)
	if err != nil {
		return err
	}
	ign, err := ignore.Load(applyIgnoreFile)
	if err != nil {
		return err
	}

	runID := util.NewRunID()
	r := &report.Report{
		Command: "apply",
		RunID:   runID,
		Mode:    mode,
		Source:  m.Source,
		DryRun:  applyDryRun,
		Strict:  applyStrict,
	}

	// The rpc transport still verifies when a database target is configured.
	connect := needsDatabase() || (!applyDryRun && applyConfig.Validate(config.RequireDatabase) == nil)
	var session *util.Session
	if connect {
		session, err = util.Connect(ctx, applyConfig.Database(), runID)
		if err != nil {
			return err
		}
		defer session.Close()
	}

	stmts := policy.Statements(m)
	if applyPrune || applyExpectFP != "" {
		before, err := catalog.Verify(ctx, session.DB, m)
		if err != nil {
			return err
		}
		if applyExpectFP != "" {
			if err := fingerprint.Compare(applyExpectFP, &fingerprint.Fingerprint{Hash: before.Fingerprint}); err != nil {
				return err
			}
			log.Debug("catalog fingerprint matches", "fingerprint", before.Fingerprint)
		}
		if applyPrune {
			before.IgnoreUnexpected(ign.Policy)
			stmts = withPrune(m, before)
		}
	}

	if applyDryRun {
		r.Plan = stmts
		r.Finalize()
		return util.EmitReport(cmd.OutOrStdout(), applyOutputJSON, applyNoColor, r)
	}

	var execer executor.Execer
	lockTimeout := applyLockTimeout
	if applyVia == ViaRPC {
		if !config.IsAdminKey(applyConfig.SecretKey) {
			log.Warn("the rpc key is not a service_role key, so statements run under row level security",
				"key_role", config.KeyRole(applyConfig.SecretKey))
		}
		execer = supabase.NewRPCExecer(applyConfig.SupabaseURL, applyConfig.SecretKey, supabase.RPCOptions{Function: applyRPCFunction})
		if lockTimeout != "" {
			log.Warn("--lock-timeout has no effect with --via rpc", "lock_timeout", lockTimeout)
			lockTimeout = ""
		}
	} else {
		execer = executor.Session{Conn: session.Conn}
	}

	exec := executor.New(executor.Options{Mode: mode, LockTimeout: lockTimeout, RunID: runID})
	outcomes, runErr := exec.Run(ctx, execer, stmts)
	r.Outcomes = outcomes

	if runErr == nil {
		if session != nil {
			v, err := catalog.Verify(ctx, session.DB, m)
			if err != nil {
				log.Warn("verification failed", "error", err)
				r.VerificationSkipped = err.Error()
			} else {
				v.IgnoreUnexpected(ign.Policy)
				r.Verification = v
			}
		} else {
			r.VerificationSkipped = "no database connection configured for the rpc transport"
		}
	}

	r.Finalize()
	if err := util.EmitReport(cmd.OutOrStdout(), applyOutputJSON, applyNoColor, r); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("apply aborted: %w", runErr)
	}
	if r.Failed {
		return fmt.Errorf("apply failed: %d of %d statements failed, %d verification findings",
			r.Summary.Failed, r.Summary.Total, findings(r))
	}
	return nil
}

// withPrune interleaves the drops of undeclared policies with each table's
// statements so that both run in the same per-table group.
func withPrune(m *policy.Manifest, v *catalog.Verification) []policy.Statement {
	var stmts []policy.Statement
	for i := range m.Tables {
		t := &m.Tables[i]
		stmts = append(stmts, policy.TableStatements(t)...)
		stmts = append(stmts, policy.PruneStatements(t, v.Undeclared(t.Schema, t.Name))...)
	}
	return stmts
}

func findings(r *report.Report) int {
	if r.Verification == nil {
		return 0
	}
	return len(r.Verification.Findings)
}

// ResetFlags resets all global flag variables to their default values for testing
func ResetFlags() {
	applyConn.Reset()
	applyConfig = nil
	applyFile = ""
	applySchema = policy.DefaultSchema
	applyMode = string(executor.ModeStatement)
	applyVia = ViaSQL
	applyPrune = false
	applyDryRun = false
	applyStrict = false
	applyLockTimeout = ""
	applyOutputJSON = ""
	applyNoColor = false
	applyIgnoreFile = ignore.FileName
	applyRPCFunction = supabase.DefaultRPCFunction
	applyExpectFP = ""
}
