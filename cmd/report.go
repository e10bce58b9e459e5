package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dverhoef/scanwarden/api/schemas"
	"github.com/dverhoef/scanwarden/internal/config"
	"github.com/dverhoef/scanwarden/internal/observability"
	"github.com/dverhoef/scanwarden/internal/report"
)

// newReportCmd creates the `report` command: re-render a persisted run to
// stdout without re-scanning.
func newReportCmd() *cobra.Command {
	var (
		scanID string
		format string
	)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Renders a persisted scan run from history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			rep, err := loadRun(ctx, cfg, scanID, logger)
			if err != nil {
				return err
			}

			renderer := report.New(rep)
			var out string
			switch format {
			case "json":
				out, err = renderer.ToJSON(true)
			case "text":
				out = renderer.ToText()
			case "html":
				markup, merr := newMarkupRenderer(cfg.Report)
				if merr != nil {
					return merr
				}
				out, err = renderer.ToHTML(markup, cfg.Report.Template)
			default:
				return fmt.Errorf("report format %q is not supported", format)
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	reportCmd.Flags().StringVar(&scanID, "scan-id", "", "Scan to render; the most recent run when unset.")
	reportCmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: json, text, html.")

	return reportCmd
}

// loadRun fetches one run from the history store: by scan id, or the most
// recent when scanID is empty.
func loadRun(ctx context.Context, cfg *config.Config, scanID string, logger *zap.Logger) (*schemas.AggregateReport, error) {
	store, pool, err := newHistoryStore(ctx, cfg.History, logger)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		defer pool.Close()
	}

	entries, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("history is empty; run a scan first")
	}

	if scanID == "" {
		return &entries[len(entries)-1], nil
	}
	for i := range entries {
		if entries[i].ScanID == scanID {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("scan %q not found in history", scanID)
}
