// Package redact removes credential- and PII-shaped substrings from finding
// text before it is stored or displayed. Redaction is irreversible and is
// applied exactly once, at normalization time.
package redact

import (
	"regexp"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Placeholder replaces every matched substring. It deliberately matches none
// of the built-in patterns, which keeps Redact idempotent.
const Placeholder = "[REDACTED]"

// Built-in patterns: credential-like tokens, long hex blobs, national-ID,
// card and phone shaped digit runs, email addresses.
var builtinPatterns = []string{
	`AKIA[0-9A-Z]{16}`,                                    // AWS access key id
	`(?i)[a-z0-9_]*(?:secret|password|token|api_key)[a-z0-9_]*.?[:=]\s*[A-Za-z0-9/+=]{16,}`, // key=value credential
	`eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`, // JWT-shaped token
	`[A-Fa-f0-9]{32,}`,                                    // long hex blob (may catch hashes)
	`\b(?:\d[ -]*?){13,16}\b`,                             // card-shaped digit run
	`\b\d{3}-\d{2}-\d{4}\b`,                               // US SSN shape
	`\b\d{10,12}\b`,                                       // phone-shaped digit run
	`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,      // email address
}

// dottedToken matches three-part dotted base64url candidates that the strict
// JWT pattern above misses (unusual header orderings, stripped padding). Each
// candidate is confirmed with an unverified JWT parse before replacement so
// ordinary dotted identifiers survive.
var dottedToken = regexp.MustCompile(`\b[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\b`)

// Redactor is a total text transform: Redact never fails and is idempotent.
type Redactor struct {
	patterns  []*regexp.Regexp
	jwtParser *jwt.Parser
}

// New builds a Redactor from the built-in pattern set plus the caller's
// custom patterns. Malformed custom patterns are skipped, never fatal.
func New(custom []string, logger *zap.Logger) *Redactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("redactor")

	r := &Redactor{jwtParser: jwt.NewParser()}
	for _, p := range custom {
		re, err := regexp.Compile(p)
		if err != nil {
			log.Debug("Skipping malformed redaction pattern", zap.String("pattern", p), zap.Error(err))
			continue
		}
		r.patterns = append(r.patterns, re)
	}
	for _, p := range builtinPatterns {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	return r
}

// maxSweeps bounds the fixed-point iteration against custom patterns that
// keep matching their own replacement output.
const maxSweeps = 10

// Redact replaces every sensitive substring in text with the placeholder.
// The pattern sweep runs to a fixed point: a replacement edge can expose a
// word boundary that lets a later pattern match text it skipped before, so a
// single pass is not idempotent.
func (r *Redactor) Redact(text string) string {
	if text == "" {
		return text
	}
	out := text
	for i := 0; i < maxSweeps; i++ {
		next := r.sweep(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func (r *Redactor) sweep(text string) string {
	out := text
	for _, re := range r.patterns {
		out = re.ReplaceAllString(out, Placeholder)
	}
	return dottedToken.ReplaceAllStringFunc(out, func(candidate string) string {
		if _, _, err := r.jwtParser.ParseUnverified(candidate, jwt.MapClaims{}); err == nil {
			return Placeholder
		}
		return candidate
	})
}
