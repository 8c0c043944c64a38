// Package cmd implements the bclctl operator commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bclctl",
	Short: "Inspect brownout monitor rails and event history",
	Long: `bclctl inspects the rail table, converts thresholds to and from raw
register fields, and lists events recorded by bcld.

Examples:
  bclctl rails                        # List every rail and its range
  bclctl encode ocp-cpu1 6000         # Field bcld would program for 6000 mA
  bclctl decode smpl-warn 0x7f        # Threshold held in a raw register byte
  bclctl history --limit 20           # Most recent events`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
