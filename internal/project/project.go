// Package project defines the sandbox project descriptor and the providers
// that supply project records to the orchestrator. Project records are owned
// by an external CRUD layer; this package only reads them.
package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrProjectNotFound is returned when no project exists for an identifier
var ErrProjectNotFound = errors.New("project not found")

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=project.go Provider

// Project describes one sandbox: its desired image, derived container name,
// port mapping, and identity. All fields are read-only to the orchestrator.
// Ports are pointers so that "not configured" is distinguishable from zero.
type Project struct {
	// ID is the opaque, unique project identifier
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable project name, used only for logging
	Name string `yaml:"name" json:"name"`

	// Image is the image reference the sandbox runs
	Image string `yaml:"image" json:"image"`

	// ContainerName is derived once at project creation and never changes;
	// it is the binding key between the project and its runtime container
	ContainerName string `yaml:"containerName" json:"containerName"`

	// HostPort is the host port published for the sandbox, nil if unset
	HostPort *int `yaml:"hostPort" json:"hostPort"`

	// ContainerPort is the port exposed inside the container, nil if unset
	ContainerPort *int `yaml:"containerPort" json:"containerPort"`
}

// NewProject creates a project record with a generated identifier and a
// container name derived from it. Ports stay unset until assigned.
func NewProject(name, image string) *Project {
	id := uuid.NewString()
	return &Project{
		ID:            id,
		Name:          name,
		Image:         image,
		ContainerName: "sandbox-" + id,
	}
}

// PortsConfigured reports whether both ports needed to start the sandbox are set
func (p *Project) PortsConfigured() bool {
	return p.HostPort != nil && *p.HostPort != 0 && p.ContainerPort != nil && *p.ContainerPort != 0
}

// Validate checks the fields the orchestrator depends on
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("project id is required")
	}
	if p.Image == "" {
		return fmt.Errorf("project %s: image is required", p.ID)
	}
	if p.ContainerName == "" {
		return fmt.Errorf("project %s: container name is required", p.ID)
	}
	return nil
}

// Provider abstracts the source of project records. The CRUD layer that owns
// projects is out of scope here; providers only expose reads.
type Provider interface {
	// GetProject returns the project for the given identifier.
	// Returns ErrProjectNotFound when no such project exists.
	GetProject(ctx context.Context, id string) (*Project, error)

	// ListProjects returns all known projects
	ListProjects(ctx context.Context) ([]*Project, error)
}
