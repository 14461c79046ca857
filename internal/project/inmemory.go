package project

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryProvider holds project records in memory. Used in tests and as the
// registration target when projects are supplied programmatically.
type InMemoryProvider struct {
	mu       sync.RWMutex
	projects map[string]*Project
}

// NewInMemoryProvider creates an empty in-memory provider
func NewInMemoryProvider() *InMemoryProvider {
	return &InMemoryProvider{
		projects: make(map[string]*Project),
	}
}

// AddProject registers a project record, replacing any existing record with
// the same identifier
func (p *InMemoryProvider) AddProject(proj *Project) error {
	if err := proj.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.projects[proj.ID] = proj
	return nil
}

// GetProject implements Provider.GetProject
func (p *InMemoryProvider) GetProject(_ context.Context, id string) (*Project, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	proj, ok := p.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrProjectNotFound)
	}
	return proj, nil
}

// ListProjects implements Provider.ListProjects
func (p *InMemoryProvider) ListProjects(_ context.Context) ([]*Project, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*Project, 0, len(p.projects))
	for _, proj := range p.projects {
		result = append(result, proj)
	}
	return result, nil
}
