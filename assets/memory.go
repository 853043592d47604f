package assets

import (
	"context"
	"sort"
	"sync"
	"time"

	"hlsvault/models"
)

// MemoryStore keeps records in a map. Used by tests and throwaway setups.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.MediaAsset
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.MediaAsset), now: time.Now}
}

func (s *MemoryStore) Create(ctx context.Context, a models.MediaAsset) (models.MediaAsset, error) {
	a, err := prepareCreate(a, s.now())
	if err != nil {
		return models.MediaAsset{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[a.ID]; ok {
		return models.MediaAsset{}, ErrExists
	}
	s.records[a.ID] = a
	return a, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (models.MediaAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.records[id]
	if !ok {
		return models.MediaAsset{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, u Update) (models.MediaAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.records[id]
	if !ok {
		return models.MediaAsset{}, ErrNotFound
	}
	a, err := applyUpdate(a, u, s.now())
	if err != nil {
		return models.MediaAsset{}, err
	}
	s.records[id] = a
	return a, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, kind models.Kind, status models.Status) ([]models.MediaAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.MediaAsset
	for _, a := range s.records {
		if matches(a, kind, status) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CleanupOldRecords(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, a := range s.records {
		if a.Status == models.StatusFailed && a.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}
