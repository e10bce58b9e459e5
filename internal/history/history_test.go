package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dverhoef/scanwarden/api/schemas"
)

func testReport(scanID string) *schemas.AggregateReport {
	return &schemas.AggregateReport{
		ScanID:    scanID,
		Repo:      "example/repo",
		Timestamp: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		Categories: map[schemas.Category]schemas.CategoryResult{
			schemas.CategorySecrets: {
				Category: schemas.CategorySecrets,
				Findings: []schemas.Finding{{ID: "f1", Title: "t", Severity: schemas.SeverityLow}},
			},
		},
		Summary: schemas.Summary{Low: 1, Total: 1},
	}
}

func TestFileStoreAppendAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "history.json"), 50, zap.NewNop())

	require.NoError(t, store.Append(ctx, testReport("scan-1")))
	require.NoError(t, store.Append(ctx, testReport("scan-2")))

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "scan-1", entries[0].ScanID)
	assert.Equal(t, "scan-2", entries[1].ScanID)
	assert.Equal(t, 1, entries[1].Summary.Total)
}

func TestFileStoreBound(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "history.json"), 50, zap.NewNop())

	for i := 0; i < 60; i++ {
		require.NoError(t, store.Append(ctx, testReport(fmt.Sprintf("scan-%02d", i))))
	}

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 50, "store must keep exactly the most recent 50 entries")

	// FIFO eviction: the first ten runs are gone, the rest in order.
	assert.Equal(t, "scan-10", entries[0].ScanID)
	assert.Equal(t, "scan-59", entries[49].ScanID)
}

func TestFileStoreLoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope", "history.json"), 50, zap.NewNop())

	entries, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileStoreLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{this is not json"), 0o644))

	store := NewFileStore(path, 50, zap.NewNop())
	entries, err := store.Load(context.Background())
	require.NoError(t, err, "corruption is tolerated by resetting history")
	assert.Empty(t, entries)

	// Appending over a corrupt file starts a fresh sequence.
	require.NoError(t, store.Append(context.Background(), testReport("scan-after-corruption")))
	entries, err = store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "scan-after-corruption", entries[0].ScanID)
}

func TestFileStoreWireFieldNames(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.json")
	store := NewFileStore(path, 50, zap.NewNop())
	require.NoError(t, store.Append(ctx, testReport("scan-wire")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, field := range []string{`"scan_id"`, `"repo"`, `"timestamp"`, `"summary"`, `"findings"`} {
		assert.Contains(t, string(raw), field)
	}
}

func TestFileStoreAppendRespectsContext(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "history.json"), 50, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.Append(ctx, testReport("scan-canceled")))
}

func TestFileStoreDefaultLimit(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "history.json"), 0, zap.NewNop())
	assert.Equal(t, DefaultLimit, store.limit)
}
