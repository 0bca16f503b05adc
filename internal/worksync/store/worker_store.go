package store

import (
	"context"
	"time"

	"github.com/hydepark/worksync/internal/worksync/types"
)

// WorkerUpdate is a field-level patch for an existing record.  Nil fields
// are left untouched, so callers can flip status alone without clobbering
// unrelated columns.
type WorkerUpdate struct {
	Status         *types.WorkerStatus
	RemotePersonID *string
	HasAccessGrant *bool
	BlockedReason  *string
	BlockedAt      *time.Time
	UnblockedAt    *time.Time
	DeletedAt      *time.Time
}

type WorkerStore interface {
	// FindByIdentityKey returns the record for key, or (nil, nil) when absent.
	FindByIdentityKey(ctx context.Context, key string) (*types.WorkerRecord, error)

	// Upsert inserts rec or merges it into the existing record with the same
	// identity key.  Merging preserves CreatedAt and never clears an already
	// assigned RemotePersonID.  Returns the stored record.
	Upsert(ctx context.Context, rec types.WorkerRecord) (types.WorkerRecord, error)

	// Update applies a field-level patch to the record with the given key and
	// returns the number of rows touched (0 when the key is unknown).
	Update(ctx context.Context, key string, upd WorkerUpdate) (int64, error)

	// ListAll returns all records, optionally filtered by status ("" = all).
	ListAll(ctx context.Context, status types.WorkerStatus) ([]types.WorkerRecord, error)
}
