package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/dverhoef/scanwarden/api/schemas"
)

// DBPool abstracts the pgxpool.Pool so the store can be mocked in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore persists history rows in a `scan_history` table. Eviction
// matches the file backend: insertion order, most recent limit rows kept.
type PostgresStore struct {
	pool  DBPool
	limit int
	log   *zap.Logger
}

// NewPostgresStore creates a Postgres-backed store and verifies the
// connection.
func NewPostgresStore(ctx context.Context, pool DBPool, limit int, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		pool:  pool,
		limit: limit,
		log:   logger.Named("history_pg"),
	}, nil
}

const sqlInsertRun = `
        INSERT INTO scan_history (scan_id, repo, created_at, report)
        VALUES ($1, $2, $3, $4);
    `

const sqlEvictOverflow = `
        DELETE FROM scan_history
        WHERE id NOT IN (
            SELECT id FROM scan_history ORDER BY id DESC LIMIT $1
        );
    `

const sqlSelectRuns = `
        SELECT report FROM scan_history ORDER BY id ASC;
    `

// Append inserts the run and evicts rows beyond the limit, oldest first.
func (s *PostgresStore) Append(ctx context.Context, report *schemas.AggregateReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	if _, err := s.pool.Exec(ctx, sqlInsertRun,
		report.ScanID, report.Repo, report.Timestamp.UTC(), payload); err != nil {
		return fmt.Errorf("failed to insert history row: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sqlEvictOverflow, s.limit); err != nil {
		return fmt.Errorf("failed to evict history overflow: %w", err)
	}

	s.log.Debug("Appended run to history", zap.String("scan_id", report.ScanID))
	return nil
}

// Load returns the persisted runs, oldest first. Unreadable rows are skipped
// rather than failing the whole load.
func (s *PostgresStore) Load(ctx context.Context) ([]schemas.AggregateReport, error) {
	rows, err := s.pool.Query(ctx, sqlSelectRuns)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []schemas.AggregateReport
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		var report schemas.AggregateReport
		if err := json.Unmarshal(payload, &report); err != nil {
			s.log.Warn("Skipping corrupt history row", zap.Error(err))
			continue
		}
		out = append(out, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
