// Package runner executes the enabled scanner categories concurrently and
// assembles their outcomes into one aggregate report. A failing category is
// isolated: its error is recorded on the category result and never aborts or
// delays its siblings.
package runner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dverhoef/scanwarden/api/schemas"
	"github.com/dverhoef/scanwarden/internal/normalize"
	"github.com/dverhoef/scanwarden/internal/report"
	"github.com/dverhoef/scanwarden/internal/scanner"
)

// Runner fans one scan out across scanner categories.
type Runner struct {
	registry   *scanner.Registry
	normalizer *normalize.Normalizer
	log        *zap.Logger
}

// New creates a Runner.
func New(registry *scanner.Registry, normalizer *normalize.Normalizer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		registry:   registry,
		normalizer: normalizer,
		log:        logger.Named("runner"),
	}
}

// Run invokes every category concurrently and returns the aggregate report
// with the scan identity and severity summary filled in. The returned error
// is reserved for setup problems (an unregistered category); scanner failures
// land on their CategoryResult instead.
func (r *Runner) Run(ctx context.Context, repo string, categories []schemas.Category) (*schemas.AggregateReport, error) {
	rep := &schemas.AggregateReport{
		ScanID:     uuid.NewString(),
		Repo:       repo,
		Timestamp:  time.Now().UTC(),
		Categories: make(map[schemas.Category]schemas.CategoryResult, len(categories)),
	}

	scanners := make([]schemas.Scanner, len(categories))
	for i, cat := range categories {
		s, err := r.registry.Lookup(cat)
		if err != nil {
			return nil, err
		}
		scanners[i] = s
	}

	results := make([]schemas.CategoryResult, len(categories))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range scanners {
		g.Go(func() error {
			results[i] = r.runOne(gctx, s)
			return nil
		})
	}
	// The goroutines never return errors; Wait is a join point.
	_ = g.Wait()

	for _, res := range results {
		rep.Categories[res.Category] = res
	}
	rep.Summary = report.Summarize(rep.AllFindings())

	r.log.Info("Scan complete",
		zap.String("scan_id", rep.ScanID),
		zap.Int("categories", len(categories)),
		zap.Int("findings", rep.Summary.Total),
		zap.Int("failed_categories", len(rep.FailedCategories())))
	return rep, nil
}

// runOne invokes a single scanner and converts the outcome, success or
// failure, into a CategoryResult.
func (r *Runner) runOne(ctx context.Context, s schemas.Scanner) schemas.CategoryResult {
	cat := s.Category()
	res := schemas.CategoryResult{
		Category:  cat,
		StartedAt: time.Now().UTC(),
	}

	records, exitCode, err := s.Invoke(ctx)
	res.FinishedAt = time.Now().UTC()
	res.RawExitCode = exitCode

	if err != nil {
		res.ExecutionError = err.Error()
		r.log.Warn("Scanner invocation failed",
			zap.String("category", string(cat)),
			zap.Error(err))
		return res
	}

	res.Findings = r.normalizer.NormalizeAll(cat, records)
	r.log.Debug("Scanner category finished",
		zap.String("category", string(cat)),
		zap.Int("findings", len(res.Findings)),
		zap.Int("exit_code", exitCode))
	return res
}
