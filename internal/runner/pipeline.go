package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dverhoef/scanwarden/api/schemas"
	"github.com/dverhoef/scanwarden/internal/config"
	"github.com/dverhoef/scanwarden/internal/policy"
	"github.com/dverhoef/scanwarden/internal/report"
)

// Notifier dispatches a finished report to the configured channels.
type Notifier interface {
	Dispatch(ctx context.Context, rep *schemas.AggregateReport) []schemas.ChannelResult
}

// Uploader pushes one report artifact to remote storage and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
}

// Pipeline wires the scan fan-out to the downstream stages: policy
// evaluation, history persistence, artifact rendering, optional upload and
// notification dispatch.
type Pipeline struct {
	runner   *Runner
	policy   schemas.PolicyConfig
	history  schemas.HistoryStore
	reportC  config.ReportConfig
	markup   schemas.TemplateRenderer
	uploader Uploader
	notifier Notifier
	log      *zap.Logger
}

// PipelineOpts collects the optional stages; nil fields disable the stage.
type PipelineOpts struct {
	History  schemas.HistoryStore
	Markup   schemas.TemplateRenderer
	Uploader Uploader
	Notifier Notifier
}

// NewPipeline assembles a pipeline around a runner.
func NewPipeline(r *Runner, policyCfg schemas.PolicyConfig, reportCfg config.ReportConfig, opts PipelineOpts, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		runner:   r,
		policy:   policyCfg,
		history:  opts.History,
		reportC:  reportCfg,
		markup:   opts.Markup,
		uploader: opts.Uploader,
		notifier: opts.Notifier,
		log:      logger.Named("pipeline"),
	}
}

// Execute runs the full scan pipeline and returns the finished report plus
// the policy exit code. Only scan setup and artifact rendering can fail the
// pipeline itself; history, upload and notification problems are logged and
// absorbed so they never change the policy-derived exit code.
func (p *Pipeline) Execute(ctx context.Context, repo string, categories []schemas.Category) (*schemas.AggregateReport, int, error) {
	rep, err := p.runner.Run(ctx, repo, categories)
	if err != nil {
		return nil, schemas.ExitFail, err
	}

	decision := policy.Evaluate(rep, p.policy)
	rep.Decision = &decision

	if p.history != nil {
		if err := p.history.Append(ctx, rep); err != nil {
			p.log.Warn("Failed to persist run history", zap.Error(err))
		}
	}

	artifacts, err := p.renderArtifacts(rep)
	if err != nil {
		return rep, schemas.ExitFail, err
	}
	p.uploadArtifacts(ctx, rep, artifacts)

	if p.notifier != nil {
		for _, res := range p.notifier.Dispatch(ctx, rep) {
			if res.Err != nil {
				p.log.Warn("Notification channel failed",
					zap.String("channel", res.Channel),
					zap.Error(res.Err))
			}
		}
	}

	return rep, decision.ExitCode, nil
}

// artifact is one rendered report file.
type artifact struct {
	path        string
	contentType string
	data        []byte
}

// renderArtifacts writes the configured report formats under the output
// directory, named after the scan.
func (p *Pipeline) renderArtifacts(rep *schemas.AggregateReport) ([]artifact, error) {
	if len(p.reportC.Formats) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(p.reportC.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	renderer := report.New(rep)
	var out []artifact
	for _, format := range p.reportC.Formats {
		var (
			body        string
			ext         string
			contentType string
			err         error
		)
		switch format {
		case "json":
			body, err = renderer.ToJSON(true)
			ext, contentType = "json", "application/json"
		case "text":
			body = renderer.ToText()
			ext, contentType = "txt", "text/plain"
		case "html":
			body, err = renderer.ToHTML(p.markup, p.reportC.Template)
			ext, contentType = "html", "text/html"
		default:
			return nil, fmt.Errorf("report format %q is not supported", format)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to render %s report: %w", format, err)
		}

		path := filepath.Join(p.reportC.OutDir, fmt.Sprintf("scan-%s.%s", rep.ScanID, ext))
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s report: %w", format, err)
		}
		p.log.Info("Wrote report artifact", zap.String("path", path))
		out = append(out, artifact{path: path, contentType: contentType, data: []byte(body)})
	}
	return out, nil
}

// uploadArtifacts pushes the rendered files to remote storage when an
// uploader is configured, recording the first URL as the report link shown in
// notifications. Upload failures are logged, never fatal.
func (p *Pipeline) uploadArtifacts(ctx context.Context, rep *schemas.AggregateReport, artifacts []artifact) {
	if p.uploader == nil {
		return
	}
	for _, a := range artifacts {
		url, err := p.uploader.Upload(ctx, filepath.Base(a.path), a.data, a.contentType)
		if err != nil {
			p.log.Warn("Failed to upload report artifact",
				zap.String("artifact", a.path),
				zap.Error(err))
			continue
		}
		if rep.Meta == nil {
			rep.Meta = make(map[string]string)
		}
		if _, ok := rep.Meta["report_url"]; !ok {
			rep.Meta["report_url"] = url
		}
	}
}
