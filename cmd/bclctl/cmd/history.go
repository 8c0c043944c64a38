package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"codeberg.org/mutker/bcld/internal/battery"
	"codeberg.org/mutker/bcld/internal/history"
	"codeberg.org/mutker/bcld/internal/logger"
	"github.com/spf13/cobra"
)

var (
	historyDB    string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent rail events",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDB, "db", history.DefaultConfig().DBPath, "history database")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "number of events to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if historyLimit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", historyLimit)
	}

	hc := history.DefaultConfig()
	hc.Enabled = true
	hc.DBPath = historyDB
	hc.BatchSize = 1

	store, err := history.NewService(hc, logger.Nop())
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.Recent(historyLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No events recorded.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tRAIL\tKIND\tTHRESHOLD\tLEVEL\tCOUNT\tBATTERY %\tBATTERY uV")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			ev.Time.Format(time.RFC3339), ev.Rail, ev.Kind, ev.Threshold, ev.Level, ev.Occurrences,
			telemetry(ev.Battery, ev.Battery.CapacityKnown(), ev.Battery.CapacityPercent),
			telemetry(ev.Battery, ev.Battery.VoltageKnown(), ev.Battery.VoltageMicrovolts))
	}
	return w.Flush()
}

func telemetry(s battery.Snapshot, known bool, v int) string {
	if s.IsZero() || !known {
		return "-"
	}
	return strconv.Itoa(v)
}
