// Package runtime provides the container engine client used by the lifecycle
// orchestrator. The engine is treated as an external capability; this package
// defines the consumed contract and a Docker implementation.
package runtime

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mocks/mock_runtime.go -package=mocks -source=runtime.go Client

var (
	// ErrNotFound is returned when the requested image or container does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrUnavailable is returned when the container engine cannot be reached
	ErrUnavailable = errors.New("container engine unavailable")
)

// IsNotFound reports whether err indicates a missing image or container
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable reports whether err indicates an unreachable engine
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// State is the raw container state as reported by the engine
type State string

const (
	// StateRunning means the container is currently running
	StateRunning State = "running"

	// StateExited means the container has exited
	StateExited State = "exited"

	// StatePaused means the container is paused
	StatePaused State = "paused"

	// StateRestarting means the container is restarting
	StateRestarting State = "restarting"

	// StateDead means the container is defunct
	StateDead State = "dead"

	// StateCreated means the container was created but never started
	StateCreated State = "created"
)

// Running reports whether the raw state counts as running
func (s State) Running() bool {
	return s == StateRunning
}

// Limits holds the resource constraints applied to a sandbox container.
// Memory values use Docker's human-readable syntax ("1g", "512m").
type Limits struct {
	CPUCount     int64
	MemLimit     string
	MemswapLimit string
	PidsLimit    int64
}

// RunSpec describes a container to create and start
type RunSpec struct {
	Image         string
	Name          string
	HostPort      int
	ContainerPort int
	Limits        Limits
}

// ImageSummary describes one local image for listing purposes
type ImageSummary struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Tags    []string `json:"tags"`
	SizeMB  float64  `json:"size"`
	Created int64    `json:"created"`
}

// Client is the contract the orchestrator consumes from the container engine.
// Every method distinguishes "resource not found" (ErrNotFound) from operation
// failure and from an unreachable backend (ErrUnavailable); callers branch on
// the first and treat the latter two identically.
type Client interface {
	// Ping verifies connectivity with the engine
	Ping(ctx context.Context) error

	// ImageExists reports whether the image exists locally
	ImageExists(ctx context.Context, ref string) (bool, error)

	// BuildImage builds an image from the given build context directory
	BuildImage(ctx context.Context, ref string, contextDir string) error

	// ListImages returns all local images
	ListImages(ctx context.Context) ([]ImageSummary, error)

	// ContainerExists reports whether a container with the given name exists
	ContainerExists(ctx context.Context, name string) (bool, error)

	// ContainerState returns the raw engine state of the named container
	ContainerState(ctx context.Context, name string) (State, error)

	// RunContainer creates and starts a container, returning its ID
	RunContainer(ctx context.Context, spec RunSpec) (string, error)

	// StartContainer starts an existing, stopped container
	StartContainer(ctx context.Context, name string) error

	// StopContainer stops a running container
	StopContainer(ctx context.Context, name string) error

	// RemoveContainer forcibly removes a container
	RemoveContainer(ctx context.Context, name string) error

	// CopyToContainer uploads a single file into a directory inside the container
	CopyToContainer(ctx context.Context, name string, destDir string, filename string, data []byte) error
}
