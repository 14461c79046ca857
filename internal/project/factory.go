package project

import (
	"fmt"

	"github.com/sandkit/sandboxd/internal/config"
)

// ProviderFactory creates project providers based on configuration
type ProviderFactory interface {
	// CreateProvider creates a project provider based on the provided configuration
	CreateProvider(cfg *config.Config) (Provider, error)
}

// defaultProviderFactory is the default implementation of ProviderFactory
type defaultProviderFactory struct{}

var _ ProviderFactory = (*defaultProviderFactory)(nil)

// NewProviderFactory creates a new default project provider factory
func NewProviderFactory() ProviderFactory {
	return &defaultProviderFactory{}
}

// CreateProvider implements ProviderFactory.CreateProvider
func (*defaultProviderFactory) CreateProvider(cfg *config.Config) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch cfg.Projects.Type {
	case config.ProjectsTypeFile:
		return NewFileProvider(cfg.Projects.File.Path)
	case config.ProjectsTypeMemory:
		return NewInMemoryProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported projects provider type: %s", cfg.Projects.Type)
	}
}
