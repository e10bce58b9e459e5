// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dverhoef/scanwarden/api/schemas"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Repo     string         `mapstructure:"repo" yaml:"repo"`
	Scanners ScannersConfig `mapstructure:"scanners" yaml:"scanners"`
	Policy   PolicyConfig   `mapstructure:"policy" yaml:"policy"`
	History  HistoryConfig  `mapstructure:"history" yaml:"history"`
	Report   ReportConfig   `mapstructure:"report" yaml:"report"`
	Notify   NotifyConfig   `mapstructure:"notify" yaml:"notify"`
	Redact   RedactConfig   `mapstructure:"redact" yaml:"redact"`
	Artifact ArtifactConfig `mapstructure:"artifact" yaml:"artifact"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ScannerConfig configures one scanner category.
type ScannerConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Command string        `mapstructure:"command" yaml:"command"`
	Args    []string      `mapstructure:"args" yaml:"args"`
	Target  string        `mapstructure:"target" yaml:"target"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ScannersConfig is a container for all scanner category configurations.
type ScannersConfig struct {
	Secrets   ScannerConfig `mapstructure:"secrets" yaml:"secrets"`
	IaC       ScannerConfig `mapstructure:"iac" yaml:"iac"`
	Container ScannerConfig `mapstructure:"container" yaml:"container"`
}

// Enabled returns the categories switched on in the configuration, in a
// fixed order. The runner treats the set as unordered.
func (s ScannersConfig) Enabled() []schemas.Category {
	var out []schemas.Category
	if s.Secrets.Enabled {
		out = append(out, schemas.CategorySecrets)
	}
	if s.IaC.Enabled {
		out = append(out, schemas.CategoryIaC)
	}
	if s.Container.Enabled {
		out = append(out, schemas.CategoryContainer)
	}
	return out
}

// ByCategory returns the configuration block for a category.
func (s ScannersConfig) ByCategory(cat schemas.Category) (ScannerConfig, bool) {
	switch cat {
	case schemas.CategorySecrets:
		return s.Secrets, true
	case schemas.CategoryIaC:
		return s.IaC, true
	case schemas.CategoryContainer:
		return s.Container, true
	}
	return ScannerConfig{}, false
}

// PolicyConfig mirrors schemas.PolicyConfig with string severities as they
// appear in the config file.
type PolicyConfig struct {
	FailOn []string `mapstructure:"fail_on" yaml:"fail_on"`
	WarnOn []string `mapstructure:"warn_on" yaml:"warn_on"`
}

// Schema converts the configured thresholds into the policy engine's shape.
// Validate has already rejected unknown severity names.
func (p PolicyConfig) Schema() schemas.PolicyConfig {
	out := schemas.PolicyConfig{}
	for _, s := range p.FailOn {
		out.FailOn = append(out.FailOn, schemas.Severity(strings.ToUpper(s)))
	}
	for _, s := range p.WarnOn {
		out.WarnOn = append(out.WarnOn, schemas.Severity(strings.ToUpper(s)))
	}
	return out
}

// HistoryConfig selects and parameterizes the history store backend.
type HistoryConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "file" or "postgres"
	Path    string `mapstructure:"path" yaml:"path"`
	URL     string `mapstructure:"url" yaml:"url"`
	Limit   int    `mapstructure:"limit" yaml:"limit"`
}

// ReportConfig controls where and in which formats report artifacts land.
type ReportConfig struct {
	OutDir   string   `mapstructure:"out_dir" yaml:"out_dir"`
	Formats  []string `mapstructure:"formats" yaml:"formats"` // json, text, html
	Template string   `mapstructure:"template" yaml:"template"`
}

// WebhookConfig configures the chat-webhook notification channel.
type WebhookConfig struct {
	URL         string        `mapstructure:"url" yaml:"url"`
	MaxFindings int           `mapstructure:"max_findings" yaml:"max_findings"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// EmailConfig configures the SMTP notification channel.
type EmailConfig struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"-"`
	From     string        `mapstructure:"from" yaml:"from"`
	To       []string      `mapstructure:"to" yaml:"to"`
	StartTLS bool          `mapstructure:"starttls" yaml:"starttls"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NotifyConfig holds all notification channel settings.
type NotifyConfig struct {
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
	Email   EmailConfig   `mapstructure:"email" yaml:"email"`
}

// RedactConfig carries caller-supplied redaction patterns (regular
// expressions) added on top of the built-in set.
type RedactConfig struct {
	Patterns []string `mapstructure:"patterns" yaml:"patterns"`
}

// ArtifactConfig configures optional report upload to S3-compatible storage.
type ArtifactConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Region    string `mapstructure:"region" yaml:"region"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"-"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scanwarden")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Scanners --
	v.SetDefault("scanners.secrets.enabled", true)
	v.SetDefault("scanners.secrets.command", "gitleaks")
	v.SetDefault("scanners.secrets.timeout", "5m")
	v.SetDefault("scanners.iac.enabled", true)
	v.SetDefault("scanners.iac.command", "checkov")
	v.SetDefault("scanners.iac.timeout", "5m")
	v.SetDefault("scanners.container.enabled", false)
	v.SetDefault("scanners.container.command", "trivy")
	v.SetDefault("scanners.container.timeout", "10m")

	// -- Policy --
	v.SetDefault("policy.fail_on", []string{"CRITICAL"})
	v.SetDefault("policy.warn_on", []string{"HIGH", "MEDIUM"})

	// -- History --
	v.SetDefault("history.backend", "file")
	v.SetDefault("history.path", ".scanwarden/history.json")
	v.SetDefault("history.limit", 50)

	// -- Report --
	v.SetDefault("report.out_dir", "reports")
	v.SetDefault("report.formats", []string{"json", "text"})

	// -- Notify --
	v.SetDefault("notify.webhook.max_findings", 6)
	v.SetDefault("notify.webhook.timeout", "5s")
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.email.starttls", true)
	v.SetDefault("notify.email.timeout", "30s")

	// -- Artifact --
	v.SetDefault("artifact.enabled", false)
	v.SetDefault("artifact.use_ssl", true)
}

// NewFromViper creates and validates a configuration from a viper instance.
func NewFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("notify.email.password", "SCANWARDEN_SMTP_PASSWORD")
	v.BindEnv("notify.webhook.url", "SCANWARDEN_WEBHOOK_URL")
	v.BindEnv("artifact.secret_key", "SCANWARDEN_ARTIFACT_SECRET_KEY")
	v.BindEnv("history.url", "SCANWARDEN_HISTORY_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefault returns a configuration populated with defaults only.
func NewDefault() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

var knownSeverities = map[string]struct{}{
	"CRITICAL": {}, "HIGH": {}, "MEDIUM": {}, "LOW": {}, "INFO": {},
}

// Validate checks the configuration for required fields and sane values.
// Validation failures are the only errors allowed to abort the pipeline
// before any scanner runs.
func (c *Config) Validate() error {
	for _, s := range append(append([]string{}, c.Policy.FailOn...), c.Policy.WarnOn...) {
		if _, ok := knownSeverities[strings.ToUpper(s)]; !ok {
			return fmt.Errorf("policy threshold %q is not a known severity", s)
		}
	}
	switch c.History.Backend {
	case "file":
		if c.History.Path == "" {
			return fmt.Errorf("history.path is required for the file backend")
		}
	case "postgres":
		if c.History.URL == "" {
			return fmt.Errorf("history.url is required for the postgres backend (SCANWARDEN_HISTORY_URL)")
		}
	default:
		return fmt.Errorf("history.backend %q is not supported", c.History.Backend)
	}
	if c.History.Limit <= 0 {
		return fmt.Errorf("history.limit must be a positive integer")
	}
	for _, cat := range c.Scanners.Enabled() {
		sc, _ := c.Scanners.ByCategory(cat)
		if sc.Command == "" {
			return fmt.Errorf("scanners.%s.command is required when the category is enabled", cat)
		}
		if sc.Timeout <= 0 {
			return fmt.Errorf("scanners.%s.timeout must be a positive duration", cat)
		}
	}
	for _, f := range c.Report.Formats {
		switch f {
		case "json", "text", "html":
		default:
			return fmt.Errorf("report format %q is not supported", f)
		}
	}
	if len(c.Notify.Email.To) > 0 && c.Notify.Email.Host == "" {
		return fmt.Errorf("notify.email.host is required when recipients are configured")
	}
	if c.Artifact.Enabled && (c.Artifact.Endpoint == "" || c.Artifact.Bucket == "") {
		return fmt.Errorf("artifact.endpoint and artifact.bucket are required when artifact upload is enabled")
	}
	return nil
}
