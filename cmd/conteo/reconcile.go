package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mvidal/conteo/internal/reconcile"
)

var (
	reconOperation   string
	reconGroup       string
	reconLabel       string
	reconItem        string
	reconDescription string
	reconLocation    string
	reconLot         string
	reconAcceptedSel bool
	reconRecountSel  bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Merge finalized count passes and show the decided rows",
	Long: `Fetches every finalized count observation of an operation, merges them into
one row per (location, item, lot), and shows the automatic decision: accepted
when the first two passes agree, recount when they disagree, pending while a
pass is still missing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if reconAcceptedSel && reconRecountSel {
			return fmt.Errorf("--accepted-only and --recount-only are mutually exclusive")
		}
		if err := requireClient(); err != nil {
			return err
		}

		records, err := client.FinalizedCounts(cmd.Context(), reconOperation)
		if err != nil {
			return fmt.Errorf("failed to fetch finalized counts: %w", err)
		}

		rows := reconcile.Filter(reconcile.Reconcile(records), reconcile.FilterSpec{
			Group:        reconGroup,
			Label:        reconLabel,
			ItemCode:     reconItem,
			Description:  reconDescription,
			Location:     reconLocation,
			Lot:          reconLot,
			AcceptedOnly: reconAcceptedSel,
			RecountOnly:  reconRecountSel,
		})
		if len(rows) == 0 {
			fmt.Println("no rows match")
			return nil
		}

		renderReconciliation(rows)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().StringVar(&reconOperation, "operation", "", "inventory operation id (required)")
	reconcileCmd.Flags().StringVar(&reconGroup, "group", "", "filter by contributing group name (substring)")
	reconcileCmd.Flags().StringVar(&reconLabel, "label", "", "filter by label (substring)")
	reconcileCmd.Flags().StringVar(&reconItem, "item", "", "filter by item code (substring)")
	reconcileCmd.Flags().StringVar(&reconDescription, "description", "", "filter by item description (substring)")
	reconcileCmd.Flags().StringVar(&reconLocation, "location", "", "filter by location (substring)")
	reconcileCmd.Flags().StringVar(&reconLot, "lot", "", "filter by lot code (substring)")
	reconcileCmd.Flags().BoolVar(&reconAcceptedSel, "accepted-only", false, "show only accepted rows")
	reconcileCmd.Flags().BoolVar(&reconRecountSel, "recount-only", false, "show only rows needing a recount")
	_ = reconcileCmd.MarkFlagRequired("operation")
	rootCmd.AddCommand(reconcileCmd)
}

func renderReconciliation(rows []reconcile.Row) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LOCATION\tITEM\tLOT\tFROZEN\tC1\tC2\tC3\tFINAL\tVAR\tDECISION\tGROUPS")

	var accepted, recount, pending int
	for _, row := range rows {
		var decision string
		switch row.Decision {
		case reconcile.DecisionAccepted:
			decision = green(string(row.Decision))
			accepted++
		case reconcile.DecisionRecount:
			decision = red(string(row.Decision))
			recount++
		default:
			decision = yellow(string(row.Decision))
			pending++
		}

		variance := ""
		if row.FinalCapture != nil {
			variance = row.VarianceUnits().StringFixed(2)
			if value := row.VarianceValue(); value != nil {
				variance += " (" + value.StringFixed(2) + ")"
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row.Location, row.ItemCode, row.LotCode,
			formatQty(row.FrozenQty),
			formatQty(row.CountedQty1), formatQty(row.CountedQty2), formatQty(row.CountedQty3),
			formatQty(row.FinalCapture), variance, decision,
			joinGroups(row))
	}
	w.Flush()

	fmt.Printf("\n%d row(s): %s accepted, %s to recount, %s pending\n",
		len(rows), green(accepted), red(recount), yellow(pending))
}

// joinGroups shows which groups contributed which pass
func joinGroups(row reconcile.Row) string {
	out := ""
	for i, names := range []string{row.GroupNames1, row.GroupNames2, row.GroupNames3} {
		if names == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%d:%s", i+1, names)
	}
	return out
}
