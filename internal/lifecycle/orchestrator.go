// Package lifecycle implements the sandbox container lifecycle state machine.
// It coordinates start/stop/remove requests, applies single-flight
// deduplication per project, and drives the long-running build/run sequence
// on background tasks whose outcomes land in the shared status store.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandkit/sandboxd/internal/project"
	"github.com/sandkit/sandboxd/internal/runtime"
	"github.com/sandkit/sandboxd/internal/status"
	"github.com/sandkit/sandboxd/internal/telemetry"
)

//go:generate mockgen -destination=mocks/mock_orchestrator.go -package=mocks -source=orchestrator.go Orchestrator

var (
	// ErrPortsNotConfigured is returned when a project is missing the host
	// or container port required to start its sandbox
	ErrPortsNotConfigured = errors.New("project ports not configured")

	// ErrContainerNotFound is returned by stop/remove when no container
	// exists for the project
	ErrContainerNotFound = errors.New("container not found")

	// ErrOperationInFlight is returned when a conflicting lifecycle
	// operation is already running for the project
	ErrOperationInFlight = errors.New("lifecycle operation already in flight")
)

const (
	opStart  = "start"
	opStop   = "stop"
	opRemove = "remove"

	// defaultOperationTimeout bounds one background build/run sequence
	defaultOperationTimeout = 5 * time.Minute
)

// Orchestrator accepts lifecycle requests for sandbox projects. Start returns
// promptly; the build/run sequence executes on a background task that outlives
// the originating request.
type Orchestrator interface {
	// Start requests the project's sandbox to be started. It returns
	// status "starting" when a background task was launched or one is
	// already in flight for the project.
	Start(ctx context.Context, proj *project.Project) (status.Lifecycle, error)

	// Stop stops the project's running container. The container must exist.
	Stop(ctx context.Context, proj *project.Project) (status.Lifecycle, error)

	// Remove forcibly removes the project's container and clears its
	// status entry. The container must exist.
	Remove(ctx context.Context, proj *project.Project) (status.Lifecycle, error)

	// Status returns the project's lifecycle status, falling back to
	// runtime reconciliation when the status store has no entry.
	Status(ctx context.Context, proj *project.Project) (status.Lifecycle, error)

	// Drain waits for all in-flight background tasks to finish, or until
	// the context is cancelled.
	Drain(ctx context.Context) error
}

// Option is a function that configures the orchestrator
type Option func(*defaultOrchestrator)

// WithLimits sets the resource limits applied to sandbox containers
func WithLimits(limits runtime.Limits) Option {
	return func(o *defaultOrchestrator) {
		o.limits = limits
	}
}

// WithBuildContextDir sets the directory used as the image build context
func WithBuildContextDir(dir string) Option {
	return func(o *defaultOrchestrator) {
		o.buildContextDir = dir
	}
}

// WithOperationTimeout bounds the total execution time of one background
// build/run sequence. Zero disables the bound.
func WithOperationTimeout(d time.Duration) Option {
	return func(o *defaultOrchestrator) {
		o.opTimeout = d
	}
}

// WithMetrics sets the lifecycle metrics recorded by the orchestrator
func WithMetrics(metrics *telemetry.LifecycleMetrics) Option {
	return func(o *defaultOrchestrator) {
		o.metrics = metrics
	}
}

// defaultOrchestrator is the default implementation of Orchestrator
type defaultOrchestrator struct {
	rt         runtime.Client
	store      status.Store
	reconciler *Reconciler

	limits          runtime.Limits
	buildContextDir string
	opTimeout       time.Duration
	metrics         *telemetry.LifecycleMetrics

	// mu guards inflight; inflight maps a project ID to the name of the
	// operation currently holding its single-flight slot
	mu       sync.Mutex
	inflight map[string]string

	// wg tracks background start tasks for Drain
	wg sync.WaitGroup
}

// New creates an orchestrator with injected dependencies
func New(rt runtime.Client, store status.Store, opts ...Option) Orchestrator {
	o := &defaultOrchestrator{
		rt:              rt,
		store:           store,
		reconciler:      NewReconciler(rt),
		buildContextDir: ".",
		opTimeout:       defaultOperationTimeout,
		inflight:        make(map[string]string),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// acquire claims the project's single-flight slot for op. It returns the
// operation currently holding the slot when the claim fails.
func (o *defaultOrchestrator) acquire(projectID, op string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if holder, ok := o.inflight[projectID]; ok {
		return holder, false
	}
	o.inflight[projectID] = op
	return "", true
}

func (o *defaultOrchestrator) release(projectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, projectID)
}

// Start implements Orchestrator.Start
func (o *defaultOrchestrator) Start(ctx context.Context, proj *project.Project) (status.Lifecycle, error) {
	// Idempotent dedup: a start already in flight anywhere (this instance
	// or another sharing the status store) wins.
	stored, ok, err := o.store.Get(ctx, proj.ID)
	if err != nil {
		return "", fmt.Errorf("failed to read status for project %s: %w", proj.ID, err)
	}
	if ok && stored == status.LifecycleStarting {
		slog.Debug("Start already in flight, deduplicating", "project", proj.ID)
		return status.LifecycleStarting, nil
	}

	if !proj.PortsConfigured() {
		slog.Error("Cannot start sandbox, ports not configured",
			"project", proj.ID, "name", proj.Name)
		return "", fmt.Errorf("project %s: %w", proj.ID, ErrPortsNotConfigured)
	}

	holder, acquired := o.acquire(proj.ID, opStart)
	if !acquired {
		if holder == opStart {
			// Same dedup outcome as the status-store check above; the
			// local mark closes the window before the store write lands.
			return status.LifecycleStarting, nil
		}
		return "", fmt.Errorf("project %s: %s in progress: %w", proj.ID, holder, ErrOperationInFlight)
	}

	if err := o.store.Set(ctx, proj.ID, status.LifecycleStarting); err != nil {
		o.release(proj.ID)
		return "", fmt.Errorf("failed to mark project %s starting: %w", proj.ID, err)
	}

	// The background task outlives the originating request, so detach it
	// from the request's cancellation while keeping its values.
	bgCtx := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go o.buildAndStart(bgCtx, proj)

	slog.Info("Sandbox start accepted", "project", proj.ID, "name", proj.Name)
	return status.LifecycleStarting, nil
}

// buildAndStart runs the build-if-missing, create-or-start sequence and
// records the final state in the status store
func (o *defaultOrchestrator) buildAndStart(ctx context.Context, proj *project.Project) {
	started := time.Now()
	success := false

	var cancel context.CancelFunc
	if o.opTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.opTimeout)
	}

	defer func() {
		// Guaranteed cleanup: whatever happens above, a task that exits
		// while the stored state is still "starting" forces it to
		// "stopped" so the transient state is never orphaned.
		if r := recover(); r != nil {
			slog.Error("Panic in sandbox start task", "project", proj.ID, "panic", r)
		}

		cleanupCtx := context.WithoutCancel(ctx)
		stored, ok, err := o.store.Get(cleanupCtx, proj.ID)
		if err != nil {
			slog.Error("Failed to read status during start cleanup", "project", proj.ID, "error", err)
		} else if ok && stored == status.LifecycleStarting {
			if err := o.store.Set(cleanupCtx, proj.ID, status.LifecycleStopped); err != nil {
				slog.Error("Failed to force stopped state during start cleanup",
					"project", proj.ID, "error", err)
			} else {
				slog.Warn("Start task ended while still starting, forced to stopped",
					"project", proj.ID)
			}
		}

		o.metrics.RecordStartDuration(cleanupCtx, time.Since(started), success)
		o.metrics.RecordOperation(cleanupCtx, opStart, success)

		if cancel != nil {
			cancel()
		}
		o.release(proj.ID)
		o.wg.Done()
	}()

	slog.Info("Starting sandbox", "project", proj.ID, "name", proj.Name, "image", proj.Image)

	imageExists, err := o.rt.ImageExists(ctx, proj.Image)
	if err != nil {
		slog.Error("Failed to check image existence",
			"project", proj.ID, "image", proj.Image, "error", err)
		o.setStopped(ctx, proj.ID)
		return
	}

	if !imageExists {
		slog.Info("Image missing, building", "project", proj.ID, "image", proj.Image)
		if err := o.rt.BuildImage(ctx, proj.Image, o.buildContextDir); err != nil {
			// Build failures are terminal for this attempt; the caller
			// must re-issue start.
			slog.Error("Image build failed, start aborted",
				"project", proj.ID, "image", proj.Image, "error", err)
			o.setStopped(ctx, proj.ID)
			return
		}
	}

	containerExists, err := o.rt.ContainerExists(ctx, proj.ContainerName)
	if err != nil {
		slog.Error("Failed to check container existence",
			"project", proj.ID, "container", proj.ContainerName, "error", err)
		o.setStopped(ctx, proj.ID)
		return
	}

	if !containerExists {
		spec := runtime.RunSpec{
			Image:         proj.Image,
			Name:          proj.ContainerName,
			HostPort:      *proj.HostPort,
			ContainerPort: *proj.ContainerPort,
			Limits:        o.limits,
		}
		containerID, err := o.rt.RunContainer(ctx, spec)
		if err != nil {
			slog.Error("Container creation failed",
				"project", proj.ID, "container", proj.ContainerName, "error", err)
			o.setStopped(ctx, proj.ID)
			return
		}
		slog.Info("Sandbox container running",
			"project", proj.ID, "container", proj.ContainerName, "id", containerID)
	} else {
		if err := o.rt.StartContainer(ctx, proj.ContainerName); err != nil {
			slog.Error("Failed to start existing container",
				"project", proj.ID, "container", proj.ContainerName, "error", err)
			o.setStopped(ctx, proj.ID)
			return
		}
		slog.Info("Existing sandbox container started",
			"project", proj.ID, "container", proj.ContainerName)
	}

	if err := o.store.Set(ctx, proj.ID, status.LifecycleRunning); err != nil {
		slog.Error("Failed to record running state", "project", proj.ID, "error", err)
		return
	}
	success = true
}

func (o *defaultOrchestrator) setStopped(ctx context.Context, projectID string) {
	if err := o.store.Set(context.WithoutCancel(ctx), projectID, status.LifecycleStopped); err != nil {
		slog.Error("Failed to record stopped state", "project", projectID, "error", err)
	}
}

// Stop implements Orchestrator.Stop
func (o *defaultOrchestrator) Stop(ctx context.Context, proj *project.Project) (status.Lifecycle, error) {
	holder, acquired := o.acquire(proj.ID, opStop)
	if !acquired {
		return "", fmt.Errorf("project %s: %s in progress: %w", proj.ID, holder, ErrOperationInFlight)
	}
	defer o.release(proj.ID)

	exists, err := o.rt.ContainerExists(ctx, proj.ContainerName)
	if err != nil {
		o.metrics.RecordOperation(ctx, opStop, false)
		return "", fmt.Errorf("failed to check container %s: %w", proj.ContainerName, err)
	}
	if !exists {
		slog.Warn("Cannot stop sandbox, container does not exist",
			"project", proj.ID, "container", proj.ContainerName)
		return "", fmt.Errorf("project %s: %w", proj.ID, ErrContainerNotFound)
	}

	if err := o.rt.StopContainer(ctx, proj.ContainerName); err != nil {
		// Leave the stored state untouched; the runtime's actual state
		// remains authoritative and is reconciled on the next read.
		o.metrics.RecordOperation(ctx, opStop, false)
		return "", fmt.Errorf("failed to stop container %s: %w", proj.ContainerName, err)
	}

	if err := o.store.Set(ctx, proj.ID, status.LifecycleStopped); err != nil {
		return "", fmt.Errorf("failed to record stopped state for project %s: %w", proj.ID, err)
	}

	o.metrics.RecordOperation(ctx, opStop, true)
	slog.Info("Sandbox stopped", "project", proj.ID, "container", proj.ContainerName)
	return status.LifecycleStopped, nil
}

// Remove implements Orchestrator.Remove
func (o *defaultOrchestrator) Remove(ctx context.Context, proj *project.Project) (status.Lifecycle, error) {
	holder, acquired := o.acquire(proj.ID, opRemove)
	if !acquired {
		return "", fmt.Errorf("project %s: %s in progress: %w", proj.ID, holder, ErrOperationInFlight)
	}
	defer o.release(proj.ID)

	exists, err := o.rt.ContainerExists(ctx, proj.ContainerName)
	if err != nil {
		o.metrics.RecordOperation(ctx, opRemove, false)
		return "", fmt.Errorf("failed to check container %s: %w", proj.ContainerName, err)
	}
	if !exists {
		slog.Warn("Cannot remove sandbox, container does not exist",
			"project", proj.ID, "container", proj.ContainerName)
		return "", fmt.Errorf("project %s: %w", proj.ID, ErrContainerNotFound)
	}

	if err := o.rt.RemoveContainer(ctx, proj.ContainerName); err != nil {
		o.metrics.RecordOperation(ctx, opRemove, false)
		return "", fmt.Errorf("failed to remove container %s: %w", proj.ContainerName, err)
	}

	// A removed container has nothing to reconcile against, so the entry
	// is cleared entirely rather than set to stopped.
	if err := o.store.Clear(ctx, proj.ID); err != nil {
		return "", fmt.Errorf("failed to clear status for project %s: %w", proj.ID, err)
	}

	o.metrics.RecordOperation(ctx, opRemove, true)
	slog.Info("Sandbox removed", "project", proj.ID, "container", proj.ContainerName)
	return status.LifecycleStopped, nil
}

// Status implements Orchestrator.Status
func (o *defaultOrchestrator) Status(ctx context.Context, proj *project.Project) (status.Lifecycle, error) {
	stored, ok, err := o.store.Get(ctx, proj.ID)
	if err != nil {
		return "", fmt.Errorf("failed to read status for project %s: %w", proj.ID, err)
	}
	if ok {
		// The store is authoritative for in-flight operations
		return stored, nil
	}

	return o.reconciler.Reconcile(ctx, proj)
}

// Drain implements Orchestrator.Drain
func (o *defaultOrchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain interrupted with background tasks still running: %w", ctx.Err())
	}
}
