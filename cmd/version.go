package cmd

import (
	"fmt"

	"github.com/printshop-ops/rlsctl/internal/version"
	"github.com/spf13/cobra"
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  "Display the version number of rlsctl",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rlsctl %s\n", version.String())
	},
}
