package lifecycle

import (
	"context"
	"fmt"

	"github.com/sandkit/sandboxd/internal/project"
	"github.com/sandkit/sandboxd/internal/runtime"
	"github.com/sandkit/sandboxd/internal/status"
)

// Reconciler resolves a project's lifecycle status directly from the runtime
// when the status store has no entry. All non-running raw states collapse to
// stopped; finer-grained states are not surfaced to callers.
type Reconciler struct {
	rt runtime.Client
}

// NewReconciler creates a reconciler querying the given runtime client
func NewReconciler(rt runtime.Client) *Reconciler {
	return &Reconciler{rt: rt}
}

// Reconcile maps the runtime's view of the project's container to a
// lifecycle status. A missing container means stopped.
func (r *Reconciler) Reconcile(ctx context.Context, proj *project.Project) (status.Lifecycle, error) {
	exists, err := r.rt.ContainerExists(ctx, proj.ContainerName)
	if err != nil {
		return "", fmt.Errorf("failed to reconcile project %s: %w", proj.ID, err)
	}
	if !exists {
		return status.LifecycleStopped, nil
	}

	state, err := r.rt.ContainerState(ctx, proj.ContainerName)
	if err != nil {
		if runtime.IsNotFound(err) {
			// Container disappeared between the two queries
			return status.LifecycleStopped, nil
		}
		return "", fmt.Errorf("failed to reconcile project %s: %w", proj.ID, err)
	}

	if state.Running() {
		return status.LifecycleRunning, nil
	}
	return status.LifecycleStopped, nil
}
