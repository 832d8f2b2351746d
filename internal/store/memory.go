package store

import (
	"context"
	"sync"

	"jobmate/ingestion-service/internal/model"
)

// MemoryStore keeps postings in process memory. Used by tests and by the
// "memory" driver for local runs.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]model.ExternalJobRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]model.ExternalJobRecord)}
}

// UpsertByKey implements Store.
func (s *MemoryStore) UpsertByKey(ctx context.Context, rec model.ExternalJobRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validateKey(rec); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.rows[rec.Key()]
	s.rows[rec.Key()] = rec
	return !exists, nil
}

// CountBySource implements Store.
func (s *MemoryStore) CountBySource(_ context.Context, p model.Provider) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.rows {
		if r.Source == p {
			n++
		}
	}
	return n, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, p model.Provider, externalID string) (model.ExternalJobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rows[model.ExternalJobRecord{Source: p, ExternalID: externalID}.Key()]
	if !ok {
		return model.ExternalJobRecord{}, ErrNotFound
	}
	return rec, nil
}

// Len returns the total number of stored postings.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Close implements Store.
func (s *MemoryStore) Close() {}
