package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	dbpkg "github.com/hydepark/worksync/internal/db"
	"github.com/hydepark/worksync/internal/worksync/store"
)

type RequestLogStore struct {
	db     *sql.DB
	writer *dbpkg.Worker

	// maxEntries caps the log size; oldest rows are evicted on append.
	// 0 disables the cap.
	maxEntries int
}

func NewRequestLogStore(db *sql.DB, writer *dbpkg.Worker, maxEntries int) *RequestLogStore {
	return &RequestLogStore{db: db, writer: writer, maxEntries: maxEntries}
}

func (s *RequestLogStore) Append(ctx context.Context, e store.RequestLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO request_logs(
  id, target, endpoint, method, status_code, duration_ms,
  error, request_body, response_body, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			e.ID, e.Target, e.Endpoint, e.Method, e.StatusCode, e.DurationMs,
			e.Error, e.RequestBody, e.ResponseBody, e.CreatedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("Append insert: %w", err)
		}

		if s.maxEntries > 0 {
			// Evict the oldest rows beyond the cap.
			if _, err := tx.ExecContext(ctx, `
DELETE FROM request_logs
WHERE id NOT IN (
  SELECT id FROM request_logs ORDER BY created_at_ms DESC LIMIT ?
);
`, s.maxEntries); err != nil {
				return fmt.Errorf("Append evict: %w", err)
			}
		}
		return nil
	})
}

func (s *RequestLogStore) Recent(ctx context.Context, limit int, target string) ([]store.RequestLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
SELECT id, target, endpoint, method, status_code, duration_ms,
       error, request_body, response_body, created_at_ms
FROM request_logs`
	var args []any
	if target != "" {
		query += " WHERE target = ?"
		args = append(args, target)
	}
	query += " ORDER BY created_at_ms DESC LIMIT ?;"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Recent query: %w", err)
	}
	defer rows.Close()

	var out []store.RequestLogEntry
	for rows.Next() {
		var (
			e         store.RequestLogEntry
			createdMs int64
		)
		if err := rows.Scan(
			&e.ID, &e.Target, &e.Endpoint, &e.Method, &e.StatusCode, &e.DurationMs,
			&e.Error, &e.RequestBody, &e.ResponseBody, &createdMs,
		); err != nil {
			return nil, fmt.Errorf("Recent scan: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Recent rows: %w", err)
	}
	return out, nil
}

func (s *RequestLogStore) Stats(ctx context.Context) (store.RequestLogStats, error) {
	var st store.RequestLogStats
	var avg sql.NullFloat64

	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN status_code < 200 OR status_code >= 300 THEN 1 ELSE 0 END), 0),
       AVG(duration_ms)
FROM request_logs;
`).Scan(&st.TotalRequests, &st.FailedRequests, &avg)
	if err != nil {
		return store.RequestLogStats{}, fmt.Errorf("Stats query: %w", err)
	}

	if avg.Valid {
		st.AvgDurationMs = avg.Float64
	}
	if st.TotalRequests > 0 {
		st.SuccessRate = float64(st.TotalRequests-st.FailedRequests) / float64(st.TotalRequests) * 100
	}
	return st, nil
}

// PruneOlderThan deletes log rows created before the given cutoff time.
// Returns the number of rows deleted.
//
// Uses the idx_request_logs_time index for an efficient range scan.
func (s *RequestLogStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM request_logs
WHERE created_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
