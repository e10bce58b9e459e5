package schemas

import "context"

// Scanner is the external capability bound to one scanner category. Invoke
// runs the tool and returns its native records together with the raw process
// exit code. An error means the invocation itself failed (missing binary,
// timeout, unparseable output); it is recorded on the CategoryResult, not
// propagated.
type Scanner interface {
	Category() Category
	Invoke(ctx context.Context) (records []RawRecord, exitCode int, err error)
}

// TemplateRenderer is the external markup-rendering capability used by the
// HTML report projection.
type TemplateRenderer interface {
	Render(templateName string, context map[string]any) (string, error)
}

// HistoryStore persists aggregate runs as a bounded, ordered sequence.
// Implementations serialize append's read-modify-write cycle for a single
// writer; concurrent processes sharing one store need external exclusion.
type HistoryStore interface {
	Append(ctx context.Context, report *AggregateReport) error
	Load(ctx context.Context) ([]AggregateReport, error)
}

// ChannelResult reports one notification channel's delivery outcome. A
// channel failure never alters the pipeline's policy-derived exit code.
type ChannelResult struct {
	Channel string
	Err     error
}

// Channel is one notification delivery target (chat webhook, email, ...).
type Channel interface {
	Name() string
	Send(ctx context.Context, report *AggregateReport) error
}
