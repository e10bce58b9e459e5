package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dverhoef/scanwarden/api/schemas"
	"github.com/dverhoef/scanwarden/internal/artifact"
	"github.com/dverhoef/scanwarden/internal/config"
	"github.com/dverhoef/scanwarden/internal/history"
	"github.com/dverhoef/scanwarden/internal/normalize"
	"github.com/dverhoef/scanwarden/internal/notify"
	"github.com/dverhoef/scanwarden/internal/observability"
	"github.com/dverhoef/scanwarden/internal/policy"
	"github.com/dverhoef/scanwarden/internal/redact"
	"github.com/dverhoef/scanwarden/internal/report"
	"github.com/dverhoef/scanwarden/internal/runner"
	"github.com/dverhoef/scanwarden/internal/scanner"
)

// newScanCmd creates the `scan` command: run the enabled scanners, evaluate
// policy and exit 0 (pass), 1 (warn) or 2 (fail).
func newScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan [repo]",
		Short: "Runs the enabled scanners against a repository and applies the severity policy",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("report.out_dir", cmd.Flags().Lookup("out-dir")); err != nil {
				return err
			}
			if err := viper.BindPFlag("report.formats", cmd.Flags().Lookup("format")); err != nil {
				return err
			}
			return viper.BindPFlag("artifact.enabled", cmd.Flags().Lookup("upload"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Repo = args[0]
			}

			components, err := initializeScanComponents(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize scan components: %w", err)
			}
			defer components.Shutdown()

			rep, exitCode, err := components.Pipeline.Execute(ctx, cfg.Repo, cfg.Scanners.Enabled())
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Scan aborted gracefully")
					return err
				}
				// Carry the pipeline's exit code so a post-scan failure is
				// not reported with the warn code.
				return &policy.ExitError{Code: exitCode, Err: err}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Scan complete. Scan ID: %s (%d finding(s), exit code %d)\n",
				rep.ScanID, rep.Summary.Total, exitCode)

			if exitCode != schemas.ExitPass {
				return &policy.ExitError{Code: exitCode, Decision: *rep.Decision}
			}
			return nil
		},
	}

	scanCmd.Flags().String("out-dir", "reports", "Directory for rendered report artifacts. (Overrides config/env)")
	scanCmd.Flags().StringSlice("format", []string{"json", "text"}, "Report formats to render: json, text, html. (Overrides config/env)")
	scanCmd.Flags().Bool("upload", false, "Upload rendered artifacts to the configured object storage. (Overrides config/env)")

	return scanCmd
}

// scanComponents holds the initialized pipeline and the resources it owns.
type scanComponents struct {
	Pipeline *runner.Pipeline
	DBPool   *pgxpool.Pool
}

// Shutdown releases held resources.
func (sc *scanComponents) Shutdown() {
	if sc.DBPool != nil {
		sc.DBPool.Close()
	}
}

// initializeScanComponents handles dependency injection for one scan run.
func initializeScanComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*scanComponents, error) {
	components := &scanComponents{}

	redactor := redact.New(cfg.Redact.Patterns, logger)
	normalizer := normalize.New(redactor)

	registry, err := scanner.FromConfig(cfg.Scanners, cfg.Repo, logger)
	if err != nil {
		return nil, err
	}

	store, pool, err := newHistoryStore(ctx, cfg.History, logger)
	if err != nil {
		return nil, err
	}
	components.DBPool = pool

	markup, err := newMarkupRenderer(cfg.Report)
	if err != nil {
		return components, err
	}

	var uploader runner.Uploader
	if cfg.Artifact.Enabled {
		up, err := artifact.New(cfg.Artifact, logger)
		if err != nil {
			return components, err
		}
		uploader = up
	}

	pipeline := runner.NewPipeline(
		runner.New(registry, normalizer, logger),
		cfg.Policy.Schema(),
		cfg.Report,
		runner.PipelineOpts{
			History:  store,
			Markup:   markup,
			Uploader: uploader,
			Notifier: newDispatcher(cfg.Notify, markup, logger),
		},
		logger,
	)
	components.Pipeline = pipeline
	return components, nil
}

// newHistoryStore builds the configured history backend. The returned pool is
// non-nil only for the postgres backend and must be closed by the caller.
func newHistoryStore(ctx context.Context, cfg config.HistoryConfig, logger *zap.Logger) (schemas.HistoryStore, *pgxpool.Pool, error) {
	switch cfg.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to history database: %w", err)
		}
		store, err := history.NewPostgresStore(ctx, pool, cfg.Limit, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool, nil
	default:
		return history.NewFileStore(cfg.Path, cfg.Limit, logger), nil, nil
	}
}

// newMarkupRenderer builds the HTML template capability, loading the
// configured override file when one is set.
func newMarkupRenderer(cfg config.ReportConfig) (schemas.TemplateRenderer, error) {
	overrides := map[string]string{}
	if cfg.Template != "" {
		body, err := os.ReadFile(cfg.Template)
		if err != nil {
			return nil, fmt.Errorf("failed to read report template %q: %w", cfg.Template, err)
		}
		overrides[cfg.Template] = string(body)
	}
	return report.NewHTMLTemplate(overrides)
}

// newDispatcher wires the configured notification channels; nil when none
// are configured.
func newDispatcher(cfg config.NotifyConfig, markup schemas.TemplateRenderer, logger *zap.Logger) runner.Notifier {
	var channels []schemas.Channel
	timeout := time.Duration(0)

	if cfg.Webhook.URL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.Webhook.URL, cfg.Webhook.MaxFindings, nil, logger))
		if cfg.Webhook.Timeout > timeout {
			timeout = cfg.Webhook.Timeout
		}
	}
	if len(cfg.Email.To) > 0 && cfg.Email.Host != "" {
		channels = append(channels, notify.NewEmailChannel(cfg.Email, markup, logger))
		if cfg.Email.Timeout > timeout {
			timeout = cfg.Email.Timeout
		}
	}
	if len(channels) == 0 {
		return nil
	}
	return notify.NewDispatcher(channels, timeout, logger)
}
