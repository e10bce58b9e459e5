package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/dverhoef/scanwarden/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubChannel struct {
	name string
	err  error
	sent chan *schemas.AggregateReport
}

func newStubChannel(name string, err error) *stubChannel {
	return &stubChannel{name: name, err: err, sent: make(chan *schemas.AggregateReport, 1)}
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Send(_ context.Context, rep *schemas.AggregateReport) error {
	c.sent <- rep
	return c.err
}

type blockingChannel struct{}

func (blockingChannel) Name() string { return "blocking" }

func (blockingChannel) Send(ctx context.Context, _ *schemas.AggregateReport) error {
	<-ctx.Done()
	return ctx.Err()
}

func notifyReport() *schemas.AggregateReport {
	return &schemas.AggregateReport{
		ScanID: "scan-notify",
		Repo:   "example/repo",
		Categories: map[schemas.Category]schemas.CategoryResult{
			schemas.CategorySecrets: {
				Category: schemas.CategorySecrets,
				Findings: []schemas.Finding{
					{Title: "leaked key", Severity: schemas.SeverityCritical, Location: schemas.Location{File: "a.go", Line: 1}},
					{Title: "weak policy", Severity: schemas.SeverityLow, Location: schemas.Location{File: "b.tf"}},
				},
			},
		},
		Summary: schemas.Summary{Critical: 1, Low: 1, Total: 2},
	}
}

func TestDispatchIsolatesFailingChannel(t *testing.T) {
	failing := newStubChannel("webhook", errors.New("503 from endpoint"))
	healthy := newStubChannel("email", nil)

	d := NewDispatcher([]schemas.Channel{failing, healthy}, time.Second, zap.NewNop())
	results := d.Dispatch(context.Background(), notifyReport())

	require.Len(t, results, 2)
	assert.Equal(t, "webhook", results[0].Channel)
	assert.Error(t, results[0].Err)
	assert.Equal(t, "email", results[1].Channel)
	assert.NoError(t, results[1].Err)

	// Both channels received the report despite the failure.
	assert.Len(t, failing.sent, 1)
	assert.Len(t, healthy.sent, 1)
}

func TestDispatchBoundsSlowChannels(t *testing.T) {
	d := NewDispatcher([]schemas.Channel{blockingChannel{}}, 50*time.Millisecond, zap.NewNop())

	start := time.Now()
	results := d.Dispatch(context.Background(), notifyReport())
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDispatchNoChannels(t *testing.T) {
	d := NewDispatcher(nil, time.Second, zap.NewNop())
	assert.Empty(t, d.Dispatch(context.Background(), notifyReport()))
}
