package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/storage"
)

// ExecutionStore is an in-memory implementation of storage.ExecutionStore.
type ExecutionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ExecutionRecord // keyed by run_id
}

// NewExecutionStore creates a new in-memory execution store.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{
		data: make(map[string]*domain.ExecutionRecord),
	}
}

var (
	_ storage.ExecutionStore  = (*ExecutionStore)(nil)
	_ storage.ExecutionReader = (*ExecutionStore)(nil)
)

// InsertExecution adds a run record. Returns ErrDuplicateKey if run_id exists.
func (s *ExecutionStore) InsertExecution(_ context.Context, r *domain.ExecutionRecord) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.RunID]; exists {
		return storage.ErrDuplicateKey
	}
	rCopy := *r
	s.data[r.RunID] = &rCopy
	return nil
}

// GetExecution retrieves a run by ID. Returns ErrNotFound if not exists.
func (s *ExecutionStore) GetExecution(_ context.Context, runID string) (*domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	rCopy := *r
	return &rCopy, nil
}

// GetExecutionsByMint retrieves runs for a mint, ordered by started_at ASC.
func (s *ExecutionStore) GetExecutionsByMint(_ context.Context, mint string) ([]*domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(r *domain.ExecutionRecord) bool { return r.Mint == mint }), nil
}

// GetExecutionsBetween retrieves runs with from <= started_at < to, ordered by started_at ASC.
func (s *ExecutionStore) GetExecutionsBetween(_ context.Context, from, to time.Time) ([]*domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(r *domain.ExecutionRecord) bool {
		return !r.StartedAt.Before(from) && r.StartedAt.Before(to)
	}), nil
}

// collect copies matching records sorted by (started_at, run_id). Caller holds the lock.
func (s *ExecutionStore) collect(match func(*domain.ExecutionRecord) bool) []*domain.ExecutionRecord {
	var result []*domain.ExecutionRecord
	for _, r := range s.data {
		if match(r) {
			rCopy := *r
			result = append(result, &rCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.Before(result[j].StartedAt)
		}
		return result[i].RunID < result[j].RunID
	})
	return result
}
