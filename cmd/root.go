package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/printshop-ops/rlsctl/cmd/apply"
	"github.com/printshop-ops/rlsctl/cmd/audit"
	"github.com/printshop-ops/rlsctl/cmd/authtokens"
	"github.com/printshop-ops/rlsctl/cmd/probe"
	"github.com/printshop-ops/rlsctl/cmd/verify"
	"github.com/printshop-ops/rlsctl/internal/logger"
	"github.com/printshop-ops/rlsctl/internal/version"
	"github.com/spf13/cobra"
)

var Debug bool

// EnvFiles are loaded in order by LoadEnvFiles. Earlier files win, and
// variables already set in the environment win over both.
var EnvFiles = []string{".env.local", ".env"}

var RootCmd = &cobra.Command{
	Use:   "rlsctl",
	Short: "PostgreSQL row level security policy tool",
	Long: fmt.Sprintf(`rlsctl applies and checks PostgreSQL row level security policies.

Version: %s

Commands:
  apply        Apply a policy manifest
  verify       Check the catalog against a policy manifest
  audit        List tables without row level security
  probe        Count the rows each API key can read
  auth-tokens  Replace NULL token columns in auth.users

Use "rlsctl [command] --help" for more information about a command.`, version.String()),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Setup(os.Stderr, Debug)
	},
}

func init() {
	RootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "Enable debug logging")
	RootCmd.AddCommand(apply.ApplyCmd)
	RootCmd.AddCommand(verify.VerifyCmd)
	RootCmd.AddCommand(audit.AuditCmd)
	RootCmd.AddCommand(probe.ProbeCmd)
	RootCmd.AddCommand(authtokens.AuthTokensCmd)
	RootCmd.AddCommand(VersionCmd)
}

// LoadEnvFiles loads the files in EnvFiles that exist. Missing files are
// not an error.
func LoadEnvFiles() error {
	for _, name := range EnvFiles {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
	}
	return nil
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
