package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pebble "github.com/cockroachdb/pebble"

	"hlsvault/models"
)

const keyPrefix = "asset/"

// PebbleStore keeps one JSON record per asset under asset/<id>.
type PebbleStore struct {
	db *pebble.DB
	// mu serialises read-modify-write cycles; pebble itself has no
	// compare-and-set.
	mu  sync.Mutex
	now func() time.Time
}

// OpenPebble opens (or creates) the store at dbPath. opts may be nil.
func OpenPebble(dbPath string, opts *pebble.Options) (*PebbleStore, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset store: %w", err)
	}
	return &PebbleStore{db: db, now: time.Now}, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func recordKey(id string) []byte {
	return []byte(keyPrefix + id)
}

func (s *PebbleStore) get(id string) (models.MediaAsset, error) {
	data, closer, err := s.db.Get(recordKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.MediaAsset{}, ErrNotFound
		}
		return models.MediaAsset{}, fmt.Errorf("failed to get asset %s: %w", id, err)
	}
	defer closer.Close()

	var a models.MediaAsset
	if err := json.Unmarshal(data, &a); err != nil {
		return models.MediaAsset{}, fmt.Errorf("failed to unmarshal asset %s: %w", id, err)
	}
	return a, nil
}

func (s *PebbleStore) put(a models.MediaAsset) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal asset %s: %w", a.ID, err)
	}
	return s.db.Set(recordKey(a.ID), data, pebble.Sync)
}

func (s *PebbleStore) Create(ctx context.Context, a models.MediaAsset) (models.MediaAsset, error) {
	a, err := prepareCreate(a, s.now())
	if err != nil {
		return models.MediaAsset{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.get(a.ID); err == nil {
		return models.MediaAsset{}, ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return models.MediaAsset{}, err
	}
	if err := s.put(a); err != nil {
		return models.MediaAsset{}, err
	}
	return a, nil
}

func (s *PebbleStore) Get(ctx context.Context, id string) (models.MediaAsset, error) {
	return s.get(id)
}

func (s *PebbleStore) Update(ctx context.Context, id string, u Update) (models.MediaAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.get(id)
	if err != nil {
		return models.MediaAsset{}, err
	}
	a, err = applyUpdate(a, u, s.now())
	if err != nil {
		return models.MediaAsset{}, err
	}
	if err := s.put(a); err != nil {
		return models.MediaAsset{}, err
	}
	return a, nil
}

func (s *PebbleStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.get(id); err != nil {
		return err
	}
	return s.db.Delete(recordKey(id), pebble.Sync)
}

// scan calls fn for every decodable record. Undecodable values are skipped.
func (s *PebbleStore) scan(fn func(a models.MediaAsset)) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte("asset0"), // '0' sorts right after '/'
	})
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var a models.MediaAsset
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			continue
		}
		fn(a)
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iteration error: %w", err)
	}
	return nil
}

func (s *PebbleStore) List(ctx context.Context, kind models.Kind, status models.Status) ([]models.MediaAsset, error) {
	var out []models.MediaAsset
	err := s.scan(func(a models.MediaAsset) {
		if matches(a, kind, status) {
			out = append(out, a)
		}
	})
	return out, err
}

func (s *PebbleStore) CleanupOldRecords(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	err := s.scan(func(a models.MediaAsset) {
		if a.Status == models.StatusFailed && a.UpdatedAt.Before(cutoff) {
			ids = append(ids, a.ID)
		}
	})
	if err != nil {
		return 0, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, id := range ids {
		if err := batch.Delete(recordKey(id), nil); err != nil {
			return 0, fmt.Errorf("failed to delete old asset record: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to delete old asset records: %w", err)
	}
	return len(ids), nil
}

// CheckHealth performs a read to verify the database is accessible.
func (s *PebbleStore) CheckHealth() error {
	_, closer, err := s.db.Get([]byte("__health_check__"))
	if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("asset store health check failed: %w", err)
	}
	if closer != nil {
		closer.Close()
	}
	return nil
}
