package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dverhoef/scanwarden/api/schemas"
)

func TestWebhookSendPostsBlockPayload(t *testing.T) {
	var (
		gotContentType string
		gotBody        []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	client := server.Client()
	defer client.CloseIdleConnections()

	ch := NewWebhookChannel(server.URL, 6, client, zap.NewNop())
	require.NoError(t, ch.Send(context.Background(), notifyReport()))

	assert.Equal(t, "application/json", gotContentType)

	var payload BlockPayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Contains(t, payload.Text, "example/repo")
	require.NotEmpty(t, payload.Blocks)
	assert.Equal(t, "header", payload.Blocks[0].Type)
}

func TestWebhookSendNon2xxIsAFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	client := server.Client()
	defer client.CloseIdleConnections()

	ch := NewWebhookChannel(server.URL, 6, client, zap.NewNop())
	err := ch.Send(context.Background(), notifyReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestBuildBlockPayloadShape(t *testing.T) {
	rep := notifyReport()
	rep.Meta = map[string]string{"report_url": "https://artifacts.example.com/scan.html"}

	payload := BuildBlockPayload(rep, 6)

	require.GreaterOrEqual(t, len(payload.Blocks), 4)
	assert.Equal(t, "header", payload.Blocks[0].Type)
	assert.Contains(t, payload.Blocks[0].Text.Text, "example/repo")

	assert.Equal(t, "context", payload.Blocks[1].Type)
	summaryEl, ok := payload.Blocks[1].Elements[0].(BlockText)
	require.True(t, ok)
	assert.Contains(t, summaryEl.Text, "CRITICAL 1")
	assert.Contains(t, summaryEl.Text, "total 2")

	// Findings are ordered most severe first.
	assert.Contains(t, payload.Blocks[2].Text.Text, "leaked key")
	assert.Contains(t, payload.Blocks[2].Text.Text, "a.go:1")

	// The report link is an actions block holding a single button.
	last := payload.Blocks[len(payload.Blocks)-1]
	assert.Equal(t, "actions", last.Type)
	require.Len(t, last.Elements, 1)
	btn, ok := last.Elements[0].(BlockButton)
	require.True(t, ok)
	assert.Equal(t, "button", btn.Type)
	assert.Equal(t, "plain_text", btn.Text.Type)
	assert.Equal(t, "View full report", btn.Text.Text)
	assert.Equal(t, "https://artifacts.example.com/scan.html", btn.URL)
}

func TestBuildBlockPayloadSectionsCarryDescription(t *testing.T) {
	rep := notifyReport()
	rep.Categories[schemas.CategorySecrets] = schemas.CategoryResult{
		Category: schemas.CategorySecrets,
		Findings: []schemas.Finding{{
			Title:       "hardcoded credential",
			Description: "plaintext credential committed to history " + strings.Repeat("z", 2*maxBlockTextLen),
			Severity:    schemas.SeverityCritical,
		}},
	}

	payload := BuildBlockPayload(rep, 6)

	found := false
	for _, b := range payload.Blocks {
		if b.Type != "section" || b.Text == nil {
			continue
		}
		if strings.Contains(b.Text.Text, "plaintext credential committed to history") {
			found = true
			assert.LessOrEqual(t, len(b.Text.Text), maxBlockTextLen)
			assert.True(t, strings.HasSuffix(b.Text.Text, "..."))
		}
	}
	assert.True(t, found, "sections include the finding description")
}

func TestBuildBlockPayloadTruncatesFindings(t *testing.T) {
	rep := notifyReport()
	var findings []schemas.Finding
	for i := 0; i < 10; i++ {
		findings = append(findings, schemas.Finding{Title: "finding", Severity: schemas.SeverityHigh})
	}
	rep.Categories[schemas.CategorySecrets] = schemas.CategoryResult{
		Category: schemas.CategorySecrets,
		Findings: findings,
	}

	payload := BuildBlockPayload(rep, 3)

	sections := 0
	overflowNoted := false
	for _, b := range payload.Blocks {
		if b.Type == "section" && b.Text != nil && strings.Contains(b.Text.Text, "finding") {
			sections++
		}
		for _, e := range b.Elements {
			if bt, ok := e.(BlockText); ok && strings.Contains(bt.Text, "7 more finding") {
				overflowNoted = true
			}
		}
	}
	assert.Equal(t, 3, sections)
	assert.True(t, overflowNoted, "hidden findings are called out")
}

func TestBuildBlockPayloadLongTitleTruncated(t *testing.T) {
	rep := notifyReport()
	rep.Categories[schemas.CategorySecrets] = schemas.CategoryResult{
		Category: schemas.CategorySecrets,
		Findings: []schemas.Finding{{
			Title:    strings.Repeat("x", 2*maxBlockTextLen),
			Severity: schemas.SeverityHigh,
		}},
	}

	payload := BuildBlockPayload(rep, 6)
	for _, b := range payload.Blocks {
		if b.Text != nil {
			assert.LessOrEqual(t, len(b.Text.Text), maxBlockTextLen)
		}
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	out := truncate(strings.Repeat("a", 20), 10)
	assert.LessOrEqual(t, len(out), 10)
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestTruncateCutsOnRuneBoundaries(t *testing.T) {
	out := truncate(strings.Repeat("é", 40), 10)
	assert.True(t, utf8.ValidString(out), "truncated output stays valid UTF-8")
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.LessOrEqual(t, utf8.RuneCountInString(out), 10)

	mixed := truncate("日本語のエラーメッセージが続きます", 8)
	assert.True(t, utf8.ValidString(mixed))
	assert.True(t, strings.HasSuffix(mixed, "..."))
}
