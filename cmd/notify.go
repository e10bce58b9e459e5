package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dverhoef/scanwarden/internal/observability"
)

// newNotifyCmd creates the `notify` command: re-deliver notifications for a
// persisted run, useful after fixing channel credentials.
func newNotifyCmd() *cobra.Command {
	var scanID string

	notifyCmd := &cobra.Command{
		Use:   "notify",
		Short: "Re-sends notifications for a persisted scan run",
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

			markup, err := newMarkupRenderer(cfg.Report)
			if err != nil {
				return err
			}
			dispatcher := newDispatcher(cfg.Notify, markup, logger)
			if dispatcher == nil {
				return errors.New("no notification channels configured")
			}

			var failed int
			for _, res := range dispatcher.Dispatch(ctx, rep) {
				if res.Err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "channel %s failed: %v\n", res.Channel, res.Err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "channel %s delivered\n", res.Channel)
			}
			if failed > 0 {
				return fmt.Errorf("%d notification channel(s) failed", failed)
			}
			return nil
		},
	}

	notifyCmd.Flags().StringVar(&scanID, "scan-id", "", "Scan to notify about; the most recent run when unset.")

	return notifyCmd
}
