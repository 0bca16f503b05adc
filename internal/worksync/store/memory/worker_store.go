package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hydepark/worksync/internal/worksync/store"
	"github.com/hydepark/worksync/internal/worksync/types"
)

// WorkerStore is an in-memory WorkerStore with the same merge semantics as
// the sqlite implementation.  Used in tests and for local experimentation.
type WorkerStore struct {
	mu   sync.RWMutex
	recs map[string]types.WorkerRecord
}

func NewWorkerStore() *WorkerStore {
	return &WorkerStore{recs: make(map[string]types.WorkerRecord)}
}

func (s *WorkerStore) FindByIdentityKey(_ context.Context, key string) (*types.WorkerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recs[strings.TrimSpace(key)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *WorkerStore) Upsert(_ context.Context, rec types.WorkerRecord) (types.WorkerRecord, error) {
	rec.IdentityKey = strings.TrimSpace(rec.IdentityKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	rec.UpdatedAt = now

	if existing, ok := s.recs[rec.IdentityKey]; ok {
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
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	s.recs[rec.IdentityKey] = rec
	return rec, nil
}

func (s *WorkerStore) Update(_ context.Context, key string, upd store.WorkerUpdate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[strings.TrimSpace(key)]
	if !ok {
		return 0, nil
	}

	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.RemotePersonID != nil {
		rec.RemotePersonID = *upd.RemotePersonID
	}
	if upd.HasAccessGrant != nil {
		rec.HasAccessGrant = *upd.HasAccessGrant
	}
	if upd.BlockedReason != nil {
		rec.BlockedReason = *upd.BlockedReason
	}
	if upd.BlockedAt != nil {
		rec.BlockedAt = upd.BlockedAt
	}
	if upd.UnblockedAt != nil {
		rec.UnblockedAt = upd.UnblockedAt
	}
	if upd.DeletedAt != nil {
		rec.DeletedAt = upd.DeletedAt
	}
	rec.UpdatedAt = time.Now().UTC()

	s.recs[rec.IdentityKey] = rec
	return 1, nil
}

func (s *WorkerStore) ListAll(_ context.Context, status types.WorkerStatus) ([]types.WorkerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.WorkerRecord
	for _, rec := range s.recs {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
