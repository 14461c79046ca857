package project

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileProvider reads project records from a YAML file. The file is loaded
// once at construction; the external CRUD layer owns mutation, so a restart
// picks up record changes.
type FileProvider struct {
	path string

	mu       sync.RWMutex
	projects map[string]*Project
}

// fileFormat is the on-disk shape of the projects file
type fileFormat struct {
	Projects []*Project `yaml:"projects"`
}

// NewFileProvider creates a provider backed by the YAML file at path
func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{path: path}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FileProvider) load() error {
	// #nosec G304 -- path comes from validated local configuration
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read projects file %s: %w", p.path, err)
	}

	var parsed fileFormat
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse projects file %s: %w", p.path, err)
	}

	projects := make(map[string]*Project, len(parsed.Projects))
	for _, proj := range parsed.Projects {
		if err := proj.Validate(); err != nil {
			return fmt.Errorf("invalid project in %s: %w", p.path, err)
		}
		if _, exists := projects[proj.ID]; exists {
			return fmt.Errorf("duplicate project id %s in %s", proj.ID, p.path)
		}
		projects[proj.ID] = proj
	}

	p.mu.Lock()
	p.projects = projects
	p.mu.Unlock()
	return nil
}

// GetProject implements Provider.GetProject
func (p *FileProvider) GetProject(_ context.Context, id string) (*Project, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	proj, ok := p.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrProjectNotFound)
	}
	return proj, nil
}

// ListProjects implements Provider.ListProjects
func (p *FileProvider) ListProjects(_ context.Context) ([]*Project, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*Project, 0, len(p.projects))
	for _, proj := range p.projects {
		result = append(result, proj)
	}
	return result, nil
}
