// Package history persists aggregate runs as a bounded, ordered sequence.
// The default backend is a JSON file capped at the configured entry limit;
// eviction is FIFO on insertion order. A Postgres backend is available for
// shared deployments.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/dverhoef/scanwarden/api/schemas"
)

// DefaultLimit caps the persisted sequence when no limit is configured.
const DefaultLimit = 50

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore persists history as a single JSON array on disk. Append's
// read-modify-write cycle is serialized for a single process; concurrent
// processes sharing one file need external mutual exclusion.
type FileStore struct {
	path  string
	limit int
	log   *zap.Logger

	mu sync.Mutex
}

// NewFileStore creates a file-backed store at path keeping the most recent
// limit entries (DefaultLimit when limit <= 0).
func NewFileStore(path string, limit int, logger *zap.Logger) *FileStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		path:  path,
		limit: limit,
		log:   logger.Named("history"),
	}
}

// Append adds a run to the persisted sequence, evicting the oldest entries
// beyond the limit, and writes the result back atomically (temp file plus
// rename).
func (s *FileStore) Append(ctx context.Context, report *schemas.AggregateReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.loadLocked()
	entries = append(entries, *report)
	if len(entries) > s.limit {
		entries = entries[len(entries)-s.limit:]
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp history file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp history file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace history file: %w", err)
	}

	s.log.Debug("Appended run to history",
		zap.String("scan_id", report.ScanID),
		zap.Int("entries", len(entries)))
	return nil
}

// Load returns the persisted sequence, oldest first. A missing or corrupt
// store yields an empty sequence, never an error: corruption is tolerated by
// resetting history.
func (s *FileStore) Load(ctx context.Context) ([]schemas.AggregateReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(), nil
}

func (s *FileStore) loadLocked() []schemas.AggregateReport {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("History file unreadable, starting fresh", zap.Error(err))
		}
		return nil
	}
	var entries []schemas.AggregateReport
	if err := json.Unmarshal(data, &entries); err != nil {
		s.log.Warn("History file corrupt, starting fresh", zap.Error(err))
		return nil
	}
	return entries
}
