package cmd

import (
	"fmt"
	"text/tabwriter"

	"codeberg.org/mutker/bcld/internal/rail"
	"github.com/spf13/cobra"
)

var railsCmd = &cobra.Command{
	Use:   "rails",
	Short: "List monitored rails",
	Args:  cobra.NoArgs,
	RunE:  runRails,
}

func init() {
	rootCmd.AddCommand(railsCmd)
}

func runRails(cmd *cobra.Command, _ []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RAIL\tCHIP\tREGISTER\tDETECTION\tFAMILY\tRANGE\tSTEP\tHYSTERESIS")

	for _, rl := range rail.Default().Rails() {
		reg, rng, step := "-", fmt.Sprintf("%d", rl.Family.Upper), "fixed"
		if rl.Programmable() {
			reg = fmt.Sprintf("0x%02x", rl.Register)
			rng = fmt.Sprintf("%d-%d", rl.Family.Lower, rl.Family.Upper)
			step = fmt.Sprintf("%d", rl.Family.Step)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rl.ID, rl.Chip, reg, rl.Detection, rl.Family.Name, rng, step, rl.Family.Hysteresis)
	}

	return w.Flush()
}
