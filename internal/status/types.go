package status

// Lifecycle represents the transient lifecycle state of a project's sandbox
type Lifecycle string

const (
	// LifecycleStopped means no sandbox container is running for the project
	LifecycleStopped Lifecycle = "stopped"

	// LifecycleStarting means a background start task is in flight
	LifecycleStarting Lifecycle = "starting"

	// LifecycleRunning means the sandbox container is up and reachable
	LifecycleRunning Lifecycle = "running"
)

// Valid reports whether l is one of the three enumerated lifecycle states
func (l Lifecycle) Valid() bool {
	switch l {
	case LifecycleStopped, LifecycleStarting, LifecycleRunning:
		return true
	}
	return false
}
