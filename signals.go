package ballast

import "github.com/zoobzio/capitan"

// Manager lifecycle signals.
var (
	// ManagerInitialized is emitted when Initialize runs for the first time.
	ManagerInitialized = capitan.NewSignal(
		"ballast.manager.initialized",
		"Manager initialization started",
	)

	// ManagerStateChanged is emitted when the Manager transitions between states.
	ManagerStateChanged = capitan.NewSignal(
		"ballast.manager.state.changed",
		"Manager state transition",
	)

	// StateQueryFailed is emitted when the cluster state availability check
	// returns an error. The error is treated as "not available".
	StateQueryFailed = capitan.NewSignal(
		"ballast.cluster.query.failed",
		"Cluster state availability check failed",
	)
)

// Bootstrap signals.
var (
	// BootstrapDeferred is emitted when the cluster state is not yet
	// available and bootstrap waits for a state-change signal.
	BootstrapDeferred = capitan.NewSignal(
		"ballast.bootstrap.deferred",
		"Bootstrap deferred until cluster state is available",
	)

	// BootstrapStarted is emitted when the bootstrap sequence begins.
	BootstrapStarted = capitan.NewSignal(
		"ballast.bootstrap.started",
		"Bootstrap sequence started",
	)

	// HooksRegistered is emitted once all per-setting change hooks are in place.
	HooksRegistered = capitan.NewSignal(
		"ballast.bootstrap.hooks.registered",
		"Change hooks registered for all managed settings",
	)

	// BootstrapCompleted is emitted when the Manager reaches steady state.
	BootstrapCompleted = capitan.NewSignal(
		"ballast.bootstrap.completed",
		"Bootstrap sequence completed",
	)

	// SnapshotLoaded is emitted when the settings snapshot has been read
	// and dispatched.
	SnapshotLoaded = capitan.NewSignal(
		"ballast.snapshot.loaded",
		"Settings snapshot read and dispatched",
	)

	// SnapshotFailed is emitted when the settings snapshot read fails.
	// The read is not retried.
	SnapshotFailed = capitan.NewSignal(
		"ballast.snapshot.failed",
		"Settings snapshot read failed",
	)
)

// Dispatch and update signals.
var (
	// DispatchCompleted is emitted after a value has been fanned out to the
	// listeners of a setting, whether or not individual listeners failed.
	DispatchCompleted = capitan.NewSignal(
		"ballast.dispatch.completed",
		"Setting value fanned out to listeners",
	)

	// DispatchFailed is emitted when a listener returns an error or panics.
	// Remaining listeners still receive the value.
	DispatchFailed = capitan.NewSignal(
		"ballast.dispatch.failed",
		"Listener failed during dispatch",
	)

	// ValueInvalid is emitted when a raw value cannot be parsed for its
	// setting kind. The value is skipped and listeners never see it.
	ValueInvalid = capitan.NewSignal(
		"ballast.value.invalid",
		"Raw value failed to parse for its setting kind",
	)

	// UpdateRequested is emitted when a cluster-wide update is requested.
	UpdateRequested = capitan.NewSignal(
		"ballast.update.requested",
		"Cluster-wide setting update requested",
	)

	// UpdateFailed is emitted when persisting an update to the cluster
	// store fails. The failure is not surfaced to the caller.
	UpdateFailed = capitan.NewSignal(
		"ballast.update.failed",
		"Cluster-wide setting update failed to persist",
	)
)
