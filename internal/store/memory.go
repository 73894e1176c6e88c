package store

import (
	"context"
	"fmt"
	"sync"

	"execagenda/internal/model"
)

// MemoryStore keeps activities in process memory. Reads and writes copy, so
// callers never share pointers with the stored collection.
type MemoryStore struct {
	mu  sync.RWMutex
	all []model.Activity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) List(ctx context.Context) ([]model.Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.all), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (model.Activity, error) {
	if err := ctx.Err(); err != nil {
		return model.Activity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.all {
		if a.ID == id {
			return cloneActivity(a), nil
		}
	}
	return model.Activity{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *MemoryStore) ReplaceAll(ctx context.Context, all []model.Activity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = cloneAll(all)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
