package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var rangesCmd = &cobra.Command{
	Use:   "ranges",
	Short: "Inspect and register TRN ranges",
}

var rangesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ranges with their remaining capacity",
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := identifierService().ListRanges(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFROM\tTO\tNEXT\tREMAINING\tEXHAUSTED")
		for _, r := range summary.Ranges {
			fmt.Fprintf(w, "%s\t%07d\t%07d\t%07d\t%d\t%t\n", r.ID, r.FromID, r.ToID, r.NextID, r.Remaining(), r.IsExhausted)
		}
		fmt.Fprintf(w, "\ttotal remaining\t\t\t%d\t\n", summary.Remaining)
		return w.Flush()
	},
}

var rangeFrom, rangeTo int64

var rangesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new range, bounds inclusive",
	RunE: func(cmd *cobra.Command, args []string) error {
		rng, err := identifierService().AddRange(cmd.Context(), rangeFrom, rangeTo, actor)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added range %s: %07d-%07d (%d numbers)\n", rng.ID, rng.FromID, rng.ToID, rng.Remaining())
		return nil
	},
}

func init() {
	rangesAddCmd.Flags().Int64Var(&rangeFrom, "from", 0, "first number of the range")
	rangesAddCmd.Flags().Int64Var(&rangeTo, "to", 0, "last number of the range")
	_ = rangesAddCmd.MarkFlagRequired("from")
	_ = rangesAddCmd.MarkFlagRequired("to")
	rangesCmd.AddCommand(rangesListCmd, rangesAddCmd)
}
