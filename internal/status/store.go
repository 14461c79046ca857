// Package status provides the shared lifecycle status store for sandbox projects.
package status

import (
	"context"
	"sync"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

// Store is the shared key-value store mapping a project identifier to its
// transient lifecycle state. It is the source of truth for in-flight operations
// and must be safe for concurrent use from multiple orchestrator instances.
//
// Writes for a given project are sequenced by the single background task that
// owns it, so per-key last-write-wins semantics are sufficient.
type Store interface {
	// Get returns the stored lifecycle state for a project.
	// The boolean is false when no entry exists.
	Get(ctx context.Context, projectID string) (Lifecycle, bool, error)

	// Set stores the lifecycle state for a project
	Set(ctx context.Context, projectID string, state Lifecycle) error

	// Clear removes the entry for a project entirely
	Clear(ctx context.Context, projectID string) error
}

// inMemoryStore implements Store with a process-local map. It is suitable for
// single-instance deployments and tests; multi-instance deployments should use
// the Redis store so all instances observe the same in-flight status.
type inMemoryStore struct {
	mu     sync.RWMutex
	states map[string]Lifecycle
}

// NewInMemoryStore creates a new process-local status store
func NewInMemoryStore() Store {
	return &inMemoryStore{
		states: make(map[string]Lifecycle),
	}
}

func (s *inMemoryStore) Get(_ context.Context, projectID string) (Lifecycle, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[projectID]
	return state, ok, nil
}

func (s *inMemoryStore) Set(_ context.Context, projectID string, state Lifecycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[projectID] = state
	return nil
}

func (s *inMemoryStore) Clear(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, projectID)
	return nil
}
