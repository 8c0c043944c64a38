package cmd

import (
	"fmt"
	"strconv"

	"codeberg.org/mutker/bcld/internal/rail"
	"github.com/spf13/cobra"
)

var encodeCmd = &cobra.Command{
	Use:   "encode <rail> <threshold>",
	Short: "Convert a threshold to the raw register field",
	Long: `Print the level field bcld writes for a threshold and the value the
hardware holds after quantization to the rail's step.`,
	Args: cobra.ExactArgs(2),
	RunE: runEncode,
}

var decodeCmd = &cobra.Command{
	Use:   "decode <rail> <register>",
	Short: "Convert a raw register byte to a threshold",
	Long: `Extract the level field from a full register byte, given in decimal or
0x-prefixed hex, and print the threshold it selects.`,
	Args: cobra.ExactArgs(2),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(encodeCmd, decodeCmd)
}

func lookupRail(name string) (rail.Rail, error) {
	id, err := rail.ParseID(name)
	if err != nil {
		return rail.Rail{}, err
	}
	return rail.Default().Get(id)
}

func runEncode(cmd *cobra.Command, args []string) error {
	rl, err := lookupRail(args[0])
	if err != nil {
		return err
	}
	value, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("threshold %q: %w", args[1], err)
	}

	field, err := rl.Family.Encode(value)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: field 0x%02x (register bits 0x%02x), holds %d\n",
		rl.ID, field, rl.Family.Apply(0, field), rl.Family.Decode(field))
	return nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	rl, err := lookupRail(args[0])
	if err != nil {
		return err
	}
	reg, err := strconv.ParseUint(args[1], 0, 8)
	if err != nil {
		return fmt.Errorf("register %q: %w", args[1], err)
	}

	field := rl.Family.Field(uint8(reg))
	fmt.Fprintf(cmd.OutOrStdout(), "%s: field 0x%02x, threshold %d\n", rl.ID, field, rl.Family.Decode(field))
	return nil
}
