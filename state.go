package ballast

// State represents the initialization state of a Manager.
//
// States are ordered: a Manager only ever moves to a numerically higher
// state, and the synchronous bootstrap path skips StateAwaitingCluster.
type State int32

const (
	// StateUninitialized indicates Initialize has not been called.
	StateUninitialized State = iota

	// StateAwaitingCluster indicates Initialize ran before the cluster
	// state was available and the Manager is waiting for the store to
	// signal availability.
	StateAwaitingCluster

	// StateBootstrapping indicates hook registration and the snapshot
	// request are in progress.
	StateBootstrapping

	// StateSteady indicates change hooks are registered and the snapshot
	// has been requested. The Manager now follows live changes.
	StateSteady
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingCluster:
		return "awaiting"
	case StateBootstrapping:
		return "bootstrapping"
	case StateSteady:
		return "steady"
	default:
		return "unknown"
	}
}
