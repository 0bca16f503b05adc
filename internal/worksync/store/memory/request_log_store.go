package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hydepark/worksync/internal/worksync/store"
)

type RequestLogStore struct {
	mu      sync.RWMutex
	entries []store.RequestLogEntry
}

func NewRequestLogStore() *RequestLogStore {
	return &RequestLogStore{}
}

func (s *RequestLogStore) Append(_ context.Context, e store.RequestLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *RequestLogStore) Recent(_ context.Context, limit int, target string) ([]store.RequestLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.RequestLogEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if target != "" && s.entries[i].Target != target {
			continue
		}
		out = append(out, s.entries[i])
	}
	return out, nil
}

func (s *RequestLogStore) Stats(_ context.Context) (store.RequestLogStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st store.RequestLogStats
	var totalDur int64
	for _, e := range s.entries {
		st.TotalRequests++
		if e.StatusCode < 200 || e.StatusCode >= 300 {
			st.FailedRequests++
		}
		totalDur += e.DurationMs
	}
	if st.TotalRequests > 0 {
		st.SuccessRate = float64(st.TotalRequests-st.FailedRequests) / float64(st.TotalRequests) * 100
		st.AvgDurationMs = float64(totalDur) / float64(st.TotalRequests)
	}
	return st, nil
}

func (s *RequestLogStore) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}
