package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mvidal/conteo/internal/api"
)

var (
	linesOperation string
	linesGroup     string
	linesCount     string
)

var linesCmd = &cobra.Command{
	Use:   "lines",
	Short: "Show the open inventory lines in scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireClient(); err != nil {
			return err
		}

		lines, err := client.Lines(cmd.Context(), api.Scope{
			OperationID: linesOperation,
			GroupID:     linesGroup,
			CountID:     linesCount,
		})
		if err != nil {
			return fmt.Errorf("failed to load inventory lines: %w", err)
		}
		if len(lines) == 0 {
			fmt.Println("no open inventory lines in scope")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ITEM\tLOT\tLOCATION\tUOM\tFROZEN\tCOUNTED\tFLAGS")
		for _, line := range lines {
			flags := ""
			if line.NotFound {
				flags = "not-found"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				line.ItemCode, line.LotCode, line.Location, line.UnitOfMeasure,
				formatQty(line.SystemFrozenQty), formatQty(line.CountedQty), flags)
		}
		w.Flush()
		fmt.Printf("\n%d line(s)\n", len(lines))
		return nil
	},
}

func init() {
	linesCmd.Flags().StringVar(&linesOperation, "operation", "", "inventory operation id")
	linesCmd.Flags().StringVar(&linesGroup, "group", "", "count group id")
	linesCmd.Flags().StringVar(&linesCount, "count", "", "count id")
	rootCmd.AddCommand(linesCmd)
}
