// Package memory provides an in-memory checkpoint store for tests and
// single-run crawls that do not need durability.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lexharvest/lexharvest/internal/checkpoint"
	"github.com/lexharvest/lexharvest/internal/pipeline"
)

// Store keeps checkpoints in a map guarded by a mutex.
type Store struct {
	mu  sync.RWMutex
	cps map[uuid.UUID]pipeline.Checkpoint
}

// New returns an empty Store.
func New() *Store {
	return &Store{cps: make(map[uuid.UUID]pipeline.Checkpoint)}
}

// Save upserts cp keyed by its ID.
func (s *Store) Save(_ context.Context, cp pipeline.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cps[cp.ID] = cp
	return nil
}

// Load fetches one checkpoint by ID.
func (s *Store) Load(_ context.Context, id uuid.UUID) (pipeline.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.cps[id]
	if !ok {
		return pipeline.Checkpoint{}, checkpoint.ErrNotFound
	}
	return cp, nil
}

// Latest fetches the most recently created checkpoint for source.
func (s *Store) Latest(_ context.Context, source string) (pipeline.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best pipeline.Checkpoint
	found := false
	for _, cp := range s.cps {
		if cp.Source != source {
			continue
		}
		if !found || cp.CreatedAt.After(best.CreatedAt) {
			best = cp
			found = true
		}
	}
	if !found {
		return pipeline.Checkpoint{}, checkpoint.ErrNotFound
	}
	return best, nil
}

// Delete removes a checkpoint.
func (s *Store) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cps, id)
	return nil
}
