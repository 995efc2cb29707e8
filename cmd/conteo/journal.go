package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mvidal/conteo/internal/config"
	"github.com/mvidal/conteo/internal/journal"
)

var (
	journalSession string
	journalLine    string
	journalKind    string
	journalLimit   int
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the local capture audit journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Journal.Path == "" {
			return fmt.Errorf("journaling is disabled: set journal.path in the config file or %s", config.EnvJournalPath)
		}

		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer j.Close()

		entries, err := j.Entries(cmd.Context(), journal.Filter{
			Session: journalSession,
			LineID:  journalLine,
			Kind:    journal.Kind(journalKind),
			Limit:   journalLimit,
		})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no journal entries match")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AT\tKIND\tLINE\tQTY\tDETAIL")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.At.Local().Format("2006-01-02 15:04:05"),
				e.Kind, e.LineID, formatQty(e.Quantity), e.Detail)
		}
		w.Flush()
		return nil
	},
}

func init() {
	journalCmd.Flags().StringVar(&journalSession, "session", "", "filter by capture session id")
	journalCmd.Flags().StringVar(&journalLine, "line", "", "filter by inventory line id")
	journalCmd.Flags().StringVar(&journalKind, "kind", "", "filter by event kind (scan, apply, persist_ok, ...)")
	journalCmd.Flags().IntVar(&journalLimit, "limit", 50, "maximum entries to show")
	rootCmd.AddCommand(journalCmd)
}
