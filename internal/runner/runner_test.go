package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/dverhoef/scanwarden/api/schemas"
	"github.com/dverhoef/scanwarden/internal/normalize"
	"github.com/dverhoef/scanwarden/internal/redact"
	"github.com/dverhoef/scanwarden/internal/scanner"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeScanner struct {
	category schemas.Category
	records  []schemas.RawRecord
	exitCode int
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (f *fakeScanner) Category() schemas.Category { return f.category }

func (f *fakeScanner) Invoke(ctx context.Context) ([]schemas.RawRecord, int, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, -1, ctx.Err()
		}
	}
	return f.records, f.exitCode, f.err
}

func newTestRunner(t *testing.T, scanners ...schemas.Scanner) *Runner {
	t.Helper()
	registry := scanner.NewRegistry()
	for _, s := range scanners {
		registry.Register(s)
	}
	return New(registry, normalize.New(redact.New(nil, zap.NewNop())), zap.NewNop())
}

func TestRunAggregatesAllCategories(t *testing.T) {
	secrets := &fakeScanner{
		category: schemas.CategorySecrets,
		records: []schemas.RawRecord{
			{"Description": "aws key", "Severity": "HIGH", "File": "main.go"},
		},
		exitCode: 1,
	}
	iac := &fakeScanner{
		category: schemas.CategoryIaC,
		records: []schemas.RawRecord{
			{"check_name": "open security group", "severity": "medium", "file_path": "main.tf"},
			{"check_name": "unencrypted bucket", "severity": "low", "file_path": "s3.tf"},
		},
	}

	r := newTestRunner(t, secrets, iac)
	rep, err := r.Run(context.Background(), "example/repo", []schemas.Category{
		schemas.CategorySecrets, schemas.CategoryIaC,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, rep.ScanID)
	assert.Equal(t, "example/repo", rep.Repo)
	require.Len(t, rep.Categories, 2)
	assert.Len(t, rep.Categories[schemas.CategorySecrets].Findings, 1)
	assert.Len(t, rep.Categories[schemas.CategoryIaC].Findings, 2)
	assert.Equal(t, 1, rep.Categories[schemas.CategorySecrets].RawExitCode)

	assert.Equal(t, 3, rep.Summary.Total)
	assert.Equal(t, 1, rep.Summary.High)
	assert.Equal(t, 1, rep.Summary.Medium)
	assert.Equal(t, 1, rep.Summary.Low)
}

func TestRunIsolatesFailingCategory(t *testing.T) {
	boom := &fakeScanner{
		category: schemas.CategorySecrets,
		err:      errors.New("gitleaks: executable file not found"),
	}
	healthy := &fakeScanner{
		category: schemas.CategoryIaC,
		records:  []schemas.RawRecord{{"check_name": "x", "severity": "low"}},
	}

	r := newTestRunner(t, boom, healthy)
	rep, err := r.Run(context.Background(), "", []schemas.Category{
		schemas.CategorySecrets, schemas.CategoryIaC,
	})
	require.NoError(t, err, "a failing scanner must not fail the run")

	failed := rep.Categories[schemas.CategorySecrets]
	assert.True(t, failed.Failed())
	assert.Contains(t, failed.ExecutionError, "executable file not found")
	assert.Empty(t, failed.Findings)

	// The sibling category is unaffected.
	assert.Len(t, rep.Categories[schemas.CategoryIaC].Findings, 1)
	assert.EqualValues(t, 1, healthy.calls.Load())
}

func TestRunCategoriesExecuteConcurrently(t *testing.T) {
	const delay = 100 * time.Millisecond
	slowA := &fakeScanner{category: schemas.CategorySecrets, delay: delay}
	slowB := &fakeScanner{category: schemas.CategoryIaC, delay: delay}
	slowC := &fakeScanner{category: schemas.CategoryContainer, delay: delay}

	r := newTestRunner(t, slowA, slowB, slowC)
	start := time.Now()
	_, err := r.Run(context.Background(), "", []schemas.Category{
		schemas.CategorySecrets, schemas.CategoryIaC, schemas.CategoryContainer,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*delay, "categories run in parallel, not back to back")
}

func TestRunUnregisteredCategory(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Run(context.Background(), "", []schemas.Category{schemas.CategorySecrets})
	assert.Error(t, err)
}

func TestRunEmptyCategoryList(t *testing.T) {
	r := newTestRunner(t)
	rep, err := r.Run(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Empty(t, rep.Categories)
	assert.Equal(t, 0, rep.Summary.Total)
}
