package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/hydepark/worksync/internal/db"
	"github.com/hydepark/worksync/internal/worksync/store"
	"github.com/hydepark/worksync/internal/worksync/types"
)

var ErrEmptyIdentityKey = errors.New("identity key is required")

type WorkerStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewWorkerStore(db *sql.DB, writer *dbpkg.Worker) *WorkerStore {
	return &WorkerStore{db: db, writer: writer}
}

const workerColumns = `
identity_key, external_worker_id, full_name, phone, email, status,
remote_person_id, has_access_grant, face_image_path, id_image_path,
blocked_reason, created_at_ms, updated_at_ms, blocked_at_ms,
unblocked_at_ms, deleted_at_ms`

func (s *WorkerStore) FindByIdentityKey(ctx context.Context, key string) (*types.WorkerRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrEmptyIdentityKey
	}

	row := s.db.QueryRowContext(ctx, `
SELECT `+workerColumns+`
FROM workers
WHERE identity_key = ?;
`, key)

	rec, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindByIdentityKey %s: %w", key, err)
	}
	return &rec, nil
}

// Upsert inserts rec or merges it into the existing row.  The merge keeps
// the original created_at, refreshes updated_at and will not clear a
// remote_person_id that is already set — the remote record outlives every
// local state change.
func (s *WorkerStore) Upsert(ctx context.Context, rec types.WorkerRecord) (types.WorkerRecord, error) {
	rec.IdentityKey = strings.TrimSpace(rec.IdentityKey)
	if rec.IdentityKey == "" {
		return types.WorkerRecord{}, ErrEmptyIdentityKey
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		existing, err := scanWorker(tx.QueryRowContext(ctx, `
SELECT `+workerColumns+`
FROM workers
WHERE identity_key = ?;
`, rec.IdentityKey))

		if err == sql.ErrNoRows {
			_, err = tx.ExecContext(ctx, `
INSERT INTO workers(`+workerColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
				rec.IdentityKey, rec.ExternalWorkerID, rec.FullName, rec.Phone, rec.Email,
				string(rec.Status), rec.RemotePersonID, boolToInt(rec.HasAccessGrant),
				rec.FaceImagePath, rec.IDImagePath, rec.BlockedReason,
				rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(),
				timePtrToMs(rec.BlockedAt), timePtrToMs(rec.UnblockedAt), timePtrToMs(rec.DeletedAt),
			)
			if err != nil {
				return fmt.Errorf("Upsert insert %s: %w", rec.IdentityKey, err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("Upsert lookup %s: %w", rec.IdentityKey, err)
		}

		rec.CreatedAt = existing.CreatedAt
		if rec.RemotePersonID == "" {
			rec.RemotePersonID = existing.RemotePersonID
		}
		if rec.BlockedAt == nil {
			rec.BlockedAt = existing.BlockedAt
		}
		if rec.UnblockedAt == nil {
			rec.UnblockedAt = existing.UnblockedAt
		}
		if rec.DeletedAt == nil {
			rec.DeletedAt = existing.DeletedAt
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE workers
SET external_worker_id = ?, full_name = ?, phone = ?, email = ?, status = ?,
    remote_person_id = ?, has_access_grant = ?, face_image_path = ?,
    id_image_path = ?, blocked_reason = ?, updated_at_ms = ?,
    blocked_at_ms = ?, unblocked_at_ms = ?, deleted_at_ms = ?
WHERE identity_key = ?;
`,
			rec.ExternalWorkerID, rec.FullName, rec.Phone, rec.Email, string(rec.Status),
			rec.RemotePersonID, boolToInt(rec.HasAccessGrant), rec.FaceImagePath,
			rec.IDImagePath, rec.BlockedReason, rec.UpdatedAt.UnixMilli(),
			timePtrToMs(rec.BlockedAt), timePtrToMs(rec.UnblockedAt), timePtrToMs(rec.DeletedAt),
			rec.IdentityKey,
		); err != nil {
			return fmt.Errorf("Upsert update %s: %w", rec.IdentityKey, err)
		}
		return nil
	})
	if err != nil {
		return types.WorkerRecord{}, err
	}
	return rec, nil
}

func (s *WorkerStore) Update(ctx context.Context, key string, upd store.WorkerUpdate) (int64, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, ErrEmptyIdentityKey
	}

	set := []string{"updated_at_ms = ?"}
	args := []any{time.Now().UTC().UnixMilli()}

	if upd.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.RemotePersonID != nil {
		set = append(set, "remote_person_id = ?")
		args = append(args, *upd.RemotePersonID)
	}
	if upd.HasAccessGrant != nil {
		set = append(set, "has_access_grant = ?")
		args = append(args, boolToInt(*upd.HasAccessGrant))
	}
	if upd.BlockedReason != nil {
		set = append(set, "blocked_reason = ?")
		args = append(args, *upd.BlockedReason)
	}
	if upd.BlockedAt != nil {
		set = append(set, "blocked_at_ms = ?")
		args = append(args, upd.BlockedAt.UTC().UnixMilli())
	}
	if upd.UnblockedAt != nil {
		set = append(set, "unblocked_at_ms = ?")
		args = append(args, upd.UnblockedAt.UTC().UnixMilli())
	}
	if upd.DeletedAt != nil {
		set = append(set, "deleted_at_ms = ?")
		args = append(args, upd.DeletedAt.UTC().UnixMilli())
	}
	args = append(args, key)

	var touched int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE workers SET "+strings.Join(set, ", ")+" WHERE identity_key = ?;",
			args...,
		)
		if err != nil {
			return fmt.Errorf("Update %s: %w", key, err)
		}
		touched, _ = res.RowsAffected()
		return nil
	})
	return touched, err
}

func (s *WorkerStore) ListAll(ctx context.Context, status types.WorkerStatus) ([]types.WorkerRecord, error) {
	query := "SELECT " + workerColumns + " FROM workers"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at_ms ASC;"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListAll query: %w", err)
	}
	defer rows.Close()

	var out []types.WorkerRecord
	for rows.Next() {
		rec, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAll scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListAll rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorker(row rowScanner) (types.WorkerRecord, error) {
	var (
		rec       types.WorkerRecord
		status    string
		hasGrant  int
		createdMs int64
		updatedMs int64
		blockedMs sql.NullInt64
		unblockMs sql.NullInt64
		deletedMs sql.NullInt64
	)

	err := row.Scan(
		&rec.IdentityKey, &rec.ExternalWorkerID, &rec.FullName, &rec.Phone, &rec.Email,
		&status, &rec.RemotePersonID, &hasGrant, &rec.FaceImagePath, &rec.IDImagePath,
		&rec.BlockedReason, &createdMs, &updatedMs, &blockedMs, &unblockMs, &deletedMs,
	)
	if err != nil {
		return types.WorkerRecord{}, err
	}

	rec.Status = types.WorkerStatus(status)
	rec.HasAccessGrant = hasGrant == 1
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	rec.BlockedAt = msToTimePtr(blockedMs)
	rec.UnblockedAt = msToTimePtr(unblockMs)
	rec.DeletedAt = msToTimePtr(deletedMs)
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtrToMs(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func msToTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
