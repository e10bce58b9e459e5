// Package scanner binds scanner categories to external tool invocations and
// decodes their native JSON output into raw records.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/dverhoef/scanwarden/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Placeholders recognized in configured argument lists.
const (
	placeholderTarget = "{target}"
	placeholderReport = "{report}"
)

// ExecScanner invokes one external scanner binary. The tool's findings are
// read from a JSON report file when the argument list references one, falling
// back to standard output otherwise.
type ExecScanner struct {
	category schemas.Category
	command  string
	args     []string
	target   string
	timeout  time.Duration
	log      *zap.Logger
}

// NewExecScanner builds a scanner for one category from its configuration
// block. An empty argument list selects the built-in invocation for known
// commands (gitleaks, checkov, trivy).
func NewExecScanner(category schemas.Category, command string, args []string, target string, timeout time.Duration, logger *zap.Logger) *ExecScanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if target == "" {
		target = "."
	}
	return &ExecScanner{
		category: category,
		command:  command,
		args:     args,
		target:   target,
		timeout:  timeout,
		log:      logger.Named("scanner").With(zap.String("category", string(category))),
	}
}

// Category returns the scanner's category.
func (s *ExecScanner) Category() schemas.Category { return s.category }

// Invoke runs the external tool and decodes its findings. A nonzero exit code
// with decodable output is the tool signalling findings, not a failure; the
// error return is reserved for invocation failures (missing binary, timeout,
// undecodable output).
func (s *ExecScanner) Invoke(ctx context.Context) ([]schemas.RawRecord, int, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	reportDir, err := os.MkdirTemp("", "scanwarden-*")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create scanner workspace: %w", err)
	}
	defer os.RemoveAll(reportDir)
	reportPath := filepath.Join(reportDir, "report.json")

	args := s.buildArgs(reportPath)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.log.Debug("Invoking scanner", zap.String("command", s.command), zap.Strings("args", args))
	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return nil, -1, fmt.Errorf("scanner %q timed out or was canceled: %w", s.command, ctx.Err())
		case errors.As(runErr, &exitErr):
			exitCode = exitErr.ExitCode()
		default:
			return nil, -1, fmt.Errorf("failed to invoke scanner %q: %w", s.command, runErr)
		}
	}

	output := stdout.Bytes()
	if data, err := os.ReadFile(reportPath); err == nil && len(bytes.TrimSpace(data)) > 0 {
		output = data
	}
	if len(bytes.TrimSpace(output)) == 0 {
		// Tools that found nothing and wrote nothing.
		if exitCode == 0 {
			return nil, 0, nil
		}
		return nil, exitCode, fmt.Errorf("scanner %q exited with code %d and produced no output: %s",
			s.command, exitCode, strings.TrimSpace(stderr.String()))
	}

	records, err := DecodeRecords(output)
	if err != nil {
		return nil, exitCode, fmt.Errorf("failed to decode output of scanner %q: %w", s.command, err)
	}
	s.log.Debug("Scanner finished", zap.Int("exit_code", exitCode), zap.Int("records", len(records)))
	return records, exitCode, nil
}

// buildArgs substitutes placeholders in the configured argument list, or
// falls back to the built-in invocation for known commands.
func (s *ExecScanner) buildArgs(reportPath string) []string {
	if len(s.args) == 0 {
		return defaultArgs(s.command, s.target, reportPath)
	}
	out := make([]string, len(s.args))
	for i, a := range s.args {
		a = strings.ReplaceAll(a, placeholderTarget, s.target)
		a = strings.ReplaceAll(a, placeholderReport, reportPath)
		out[i] = a
	}
	return out
}

func defaultArgs(command, target, reportPath string) []string {
	switch filepath.Base(command) {
	case "gitleaks":
		return []string{"detect", "--source", target, "--report-format", "json", "--report-path", reportPath, "--no-banner", "--exit-code", "1"}
	case "checkov":
		return []string{"--directory", target, "--output", "json", "--quiet"}
	case "trivy":
		return []string{"image", "--format", "json", "--quiet", target}
	}
	return []string{target}
}

// DecodeRecords accepts the output shapes the supported tools produce: a
// top-level JSON array of records, an object wrapping the array under
// "results" or "findings", or trivy's nested result groups.
func DecodeRecords(data []byte) ([]schemas.RawRecord, error) {
	trimmed := bytes.TrimSpace(data)

	if bytes.HasPrefix(trimmed, []byte("[")) {
		var records []schemas.RawRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("malformed record list: %w", err)
		}
		return records, nil
	}

	var wrapper map[string]any
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return nil, fmt.Errorf("malformed record object: %w", err)
	}
	for _, key := range []string{"results", "findings"} {
		if list, ok := wrapper[key].([]any); ok {
			return coerceRecords(list)
		}
	}
	if groups, ok := wrapper["Results"].([]any); ok {
		return flattenResultGroups(groups)
	}
	// An object with none of the known wrappers is a single record.
	return []schemas.RawRecord{wrapper}, nil
}

func coerceRecords(list []any) ([]schemas.RawRecord, error) {
	records := make([]schemas.RawRecord, 0, len(list))
	for _, item := range list {
		record, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record list contains a non-object entry")
		}
		records = append(records, record)
	}
	return records, nil
}

// flattenResultGroups unwraps trivy's per-target result groups, carrying the
// group's Target down onto each vulnerability record.
func flattenResultGroups(groups []any) ([]schemas.RawRecord, error) {
	var records []schemas.RawRecord
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			continue
		}
		target, _ := group["Target"].(string)
		for _, key := range []string{"Vulnerabilities", "Misconfigurations", "Secrets"} {
			list, ok := group[key].([]any)
			if !ok {
				continue
			}
			for _, item := range list {
				record, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if _, present := record["Target"]; !present && target != "" {
					record = cloneRecord(record)
					record["Target"] = target
				}
				records = append(records, record)
			}
		}
	}
	return records, nil
}

func cloneRecord(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
