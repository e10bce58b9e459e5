package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dverhoef/scanwarden/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Field-length limits imposed by the chat services the webhook targets.
const (
	maxBlockTextLen    = 600
	defaultMaxFindings = 6
)

// webhookRateLimit keeps deliveries inside the one-request-per-second budget
// chat webhook endpoints commonly enforce.
var webhookRateLimit = rate.Limit(1)

// WebhookChannel posts a block-formatted summary of the report to a chat
// webhook endpoint.
type WebhookChannel struct {
	url         string
	maxFindings int
	client      *http.Client
	limiter     *rate.Limiter
	log         *zap.Logger
}

// NewWebhookChannel creates the channel. maxFindings caps how many findings
// appear in the message body; the summary always covers all of them.
func NewWebhookChannel(url string, maxFindings int, client *http.Client, logger *zap.Logger) *WebhookChannel {
	if maxFindings <= 0 {
		maxFindings = defaultMaxFindings
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookChannel{
		url:         url,
		maxFindings: maxFindings,
		client:      client,
		limiter:     rate.NewLimiter(webhookRateLimit, 1),
		log:         logger.Named("webhook"),
	}
}

// Name implements schemas.Channel.
func (w *WebhookChannel) Name() string { return "webhook" }

// Send posts the block payload. Any non-2xx response is a delivery failure.
func (w *WebhookChannel) Send(ctx context.Context, rep *schemas.AggregateReport) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait aborted: %w", err)
	}

	payload, err := json.Marshal(BuildBlockPayload(rep, w.maxFindings))
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// BlockPayload is the chat-webhook message shape: a fallback text plus a list
// of rich blocks.
type BlockPayload struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks"`
}

// Block is one element of the message layout. Elements holds BlockText values
// for context blocks and BlockButton values for actions blocks.
type Block struct {
	Type     string     `json:"type"`
	Text     *BlockText `json:"text,omitempty"`
	Elements []any      `json:"elements,omitempty"`
}

// BlockText carries markup text inside a block.
type BlockText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// BlockButton is a link button inside an actions block.
type BlockButton struct {
	Type string    `json:"type"`
	Text BlockText `json:"text"`
	URL  string    `json:"url"`
}

// BuildBlockPayload renders the report into the chat message: a header with
// the repo and scan id, a context line with the severity summary, the top
// maxFindings findings by severity, and a link to the full report when one
// is known.
func BuildBlockPayload(rep *schemas.AggregateReport, maxFindings int) BlockPayload {
	summary := rep.Summary
	header := "Security scan"
	if rep.Repo != "" {
		header = fmt.Sprintf("Security scan: %s", rep.Repo)
	}

	contextLine := fmt.Sprintf("Scan %s | CRITICAL %d | HIGH %d | MEDIUM %d | LOW %d | INFO %d | total %d",
		rep.ScanID, summary.Critical, summary.High, summary.Medium, summary.Low, summary.Info, summary.Total)

	blocks := []Block{
		{Type: "header", Text: &BlockText{Type: "plain_text", Text: truncate(header, maxBlockTextLen)}},
		{Type: "context", Elements: []any{BlockText{Type: "mrkdwn", Text: truncate(contextLine, maxBlockTextLen)}}},
	}

	findings := rep.AllFindings()
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Rank() < findings[j].Severity.Rank()
	})
	shown := findings
	if len(shown) > maxFindings {
		shown = shown[:maxFindings]
	}
	for _, f := range shown {
		line := fmt.Sprintf("*[%s]* %s\n`%s`", f.Severity, f.Title, f.Location)
		if f.Description != "" {
			line += "\n" + truncate(f.Description, maxBlockTextLen)
		}
		blocks = append(blocks, Block{
			Type: "section",
			Text: &BlockText{Type: "mrkdwn", Text: truncate(line, maxBlockTextLen)},
		})
	}
	if hidden := len(findings) - len(shown); hidden > 0 {
		blocks = append(blocks, Block{
			Type: "context",
			Elements: []any{BlockText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("... and %d more finding(s) in the full report.", hidden),
			}},
		})
	}
	if url := rep.Meta["report_url"]; url != "" {
		blocks = append(blocks, Block{
			Type: "actions",
			Elements: []any{BlockButton{
				Type: "button",
				Text: BlockText{Type: "plain_text", Text: "View full report"},
				URL:  url,
			}},
		})
	}

	fallback := fmt.Sprintf("%s: %d finding(s)", header, summary.Total)
	return BlockPayload{Text: fallback, Blocks: blocks}
}

// truncate bounds s to max runes, marking the cut. Slicing on rune boundaries
// keeps multi-byte input valid UTF-8.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	cut := max - 3
	if cut < 0 {
		cut = 0
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:cut])) + "..."
}
