package report

import (
	"fmt"
	"html/template"
	"strings"
)

// defaultMarkup is the built-in report page. Severity badges pick their color
// from the severity_colors context entry.
const defaultMarkup = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Scan report {{.scan_id}}</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ddd; padding: 6px 10px; text-align: left; vertical-align: top; }
th { background: #f5f5f5; }
.badge { color: #fff; padding: 2px 8px; border-radius: 3px; font-size: 0.85em; }
.meta { color: #666; font-size: 0.9em; }
</style>
</head>
<body>
<h1>Scan report</h1>
<p class="meta">Scan ID: {{.scan_id}}{{if .repo}} &middot; Repo: {{.repo}}{{end}} &middot; {{.timestamp}}</p>
<h2>Summary</h2>
<table>
<tr><th>CRITICAL</th><th>HIGH</th><th>MEDIUM</th><th>LOW</th><th>INFO</th><th>TOTAL</th></tr>
<tr>
<td>{{.summary.Critical}}</td>
<td>{{.summary.High}}</td>
<td>{{.summary.Medium}}</td>
<td>{{.summary.Low}}</td>
<td>{{.summary.Info}}</td>
<td>{{.summary.Total}}</td>
</tr>
</table>
<h2>Findings</h2>
{{if .findings}}
<table>
<tr><th>Severity</th><th>Title</th><th>Location</th><th>Rule</th><th>Description</th></tr>
{{range .findings}}
<tr>
<td><span class="badge" style="background: {{index $.severity_colors (printf "%s" .Severity)}}">{{.Severity}}</span></td>
<td>{{.Title}}</td>
<td>{{.Location}}</td>
<td>{{.RuleID}}</td>
<td>{{.Description}}</td>
</tr>
{{end}}
</table>
{{else}}
<p>No findings.</p>
{{end}}
</body>
</html>
`

// HTMLTemplate renders report markup through html/template with contextual
// escaping. It satisfies the TemplateRenderer capability.
type HTMLTemplate struct {
	templates *template.Template
}

// NewHTMLTemplate parses the built-in page plus any named overrides. An
// override with an existing name replaces the built-in definition.
func NewHTMLTemplate(overrides map[string]string) (*HTMLTemplate, error) {
	root, err := template.New("default").Parse(defaultMarkup)
	if err != nil {
		return nil, fmt.Errorf("failed to parse built-in template: %w", err)
	}
	for name, body := range overrides {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("template override has empty name")
		}
		if _, err := root.New(name).Parse(body); err != nil {
			return nil, fmt.Errorf("failed to parse template %q: %w", name, err)
		}
	}
	return &HTMLTemplate{templates: root}, nil
}

// Render executes the named template ("default" when name is empty) against
// the render context.
func (h *HTMLTemplate) Render(name string, context map[string]any) (string, error) {
	if name == "" {
		name = "default"
	}
	tmpl := h.templates.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("unknown template %q", name)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, context); err != nil {
		return "", fmt.Errorf("failed to execute template %q: %w", name, err)
	}
	return b.String(), nil
}
