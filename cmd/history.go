package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dverhoef/scanwarden/internal/observability"
)

// newHistoryCmd creates the `history` command: list persisted runs, most
// recent last.
func newHistoryCmd() *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Lists persisted scan runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, pool, err := newHistoryStore(ctx, cfg.History, logger)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}

			entries, err := store.Load(ctx)
			if err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No scan history.")
				return nil
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCAN ID\tREPO\tTIMESTAMP\tCRITICAL\tHIGH\tMEDIUM\tLOW\tINFO\tTOTAL\tEXIT")
			for _, e := range entries {
				exit := "-"
				if e.Decision != nil {
					exit = fmt.Sprintf("%d", e.Decision.ExitCode)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
					e.ScanID, e.Repo, e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
					e.Summary.Critical, e.Summary.High, e.Summary.Medium,
					e.Summary.Low, e.Summary.Info, e.Summary.Total, exit)
			}
			return w.Flush()
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show only the most recent N runs.")

	return historyCmd
}
