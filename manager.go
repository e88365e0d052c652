package ballast

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Manager keeps local listeners in sync with cluster-wide settings held in
// an external store. Applications declare the settings they manage,
// subscribe typed listeners, and call Initialize once; every later change
// published by the store is parsed and fanned out with per-listener failure
// isolation.
type Manager struct {
	cluster Cluster
	managed Managed

	clock    clockz.Clock
	metrics  MetricsProvider
	syncMode bool

	ints *registry[int]
	strs *registry[string]

	state     atomic.Int32
	lastError atomic.Pointer[error]
	failures  *failureRing

	mu          sync.Mutex
	initialized bool
}

// New creates a Manager bound to a cluster store and a managed setting set.
//
// Instance configuration uses chainable methods before calling Initialize:
//
//	manager := ballast.New(cluster, managed).
//	    Metrics(provider).
//	    FailureHistorySize(32)
func New(cluster Cluster, managed Managed) *Manager {
	m := &Manager{
		cluster:  cluster,
		managed:  managed,
		clock:    clockz.RealClock,
		ints:     newRegistry[int](),
		strs:     newRegistry[string](),
		failures: newFailureRing(0),
	}
	m.state.Store(int32(StateUninitialized))

	return m
}

// -----------------------------------------------------------------------------
// Chainable Instance Configuration
// -----------------------------------------------------------------------------

// Metrics sets a metrics provider for observability integration.
// The provider receives callbacks on state changes, dispatches, and
// failures. Must be called before Initialize().
func (m *Manager) Metrics(provider MetricsProvider) *Manager {
	m.metrics = provider
	return m
}

// Clock sets a custom clock for time operations.
// Use this with clockz.FakeClock for deterministic duration testing.
// Must be called before Initialize().
func (m *Manager) Clock(clock clockz.Clock) *Manager {
	m.clock = clock
	return m
}

// SyncMode makes bootstrap and updates run inline instead of on goroutines,
// making tests deterministic. Must be called before Initialize().
func (m *Manager) SyncMode() *Manager {
	m.syncMode = true
	return m
}

// FailureHistorySize sets the number of recent failures to retain.
// When set, RecentFailures() returns up to this many entries.
// Use 0 (default) to only retain the most recent error via LastError().
// Must be called before Initialize().
func (m *Manager) FailureHistorySize(n int) *Manager {
	m.failures = newFailureRing(n)
	return m
}

// -----------------------------------------------------------------------------
// Introspection
// -----------------------------------------------------------------------------

// State returns the current initialization state of the Manager.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// LastError returns the most recent failure recorded by the Manager, or nil
// if none occurred. Failures never propagate to callers; this is how they
// are observed programmatically.
func (m *Manager) LastError() error {
	ptr := m.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// RecentFailures returns the recent failure history, oldest first.
// Returns nil if failure history is not enabled (see FailureHistorySize).
func (m *Manager) RecentFailures() []Failure {
	return m.failures.all()
}

// -----------------------------------------------------------------------------
// Subscriptions
// -----------------------------------------------------------------------------

// SubscribeInt registers a listener for an int setting. Subscribing the
// same listener to the same setting twice is a no-op. Settings outside the
// managed set are rejected with ErrUnmanagedSetting, since no change hook
// will ever feed them.
func (m *Manager) SubscribeInt(s Setting[int], l Listener[int]) error {
	if l == nil {
		return ErrNilListener
	}
	if !m.managed.hasInt(s.key) {
		return fmt.Errorf("subscribe %q: %w", s.key, ErrUnmanagedSetting)
	}
	m.ints.add(s.key, l)
	return nil
}

// SubscribeString registers a listener for a string setting. Same contract
// as SubscribeInt.
func (m *Manager) SubscribeString(s Setting[string], l Listener[string]) error {
	if l == nil {
		return ErrNilListener
	}
	if !m.managed.hasString(s.key) {
		return fmt.Errorf("subscribe %q: %w", s.key, ErrUnmanagedSetting)
	}
	m.strs.add(s.key, l)
	return nil
}

// UnsubscribeInt removes a previously registered listener. Removing a
// listener that was never subscribed is a no-op. A dispatch already in
// flight may still deliver to the removed listener once.
func (m *Manager) UnsubscribeInt(s Setting[int], l Listener[int]) {
	if l == nil {
		return
	}
	m.ints.remove(s.key, l)
}

// UnsubscribeString removes a previously registered listener. Same contract
// as UnsubscribeInt.
func (m *Manager) UnsubscribeString(s Setting[string], l Listener[string]) {
	if l == nil {
		return
	}
	m.strs.remove(s.key, l)
}

// -----------------------------------------------------------------------------
// Initialization
// -----------------------------------------------------------------------------

// Initialize connects the Manager to the cluster store. The first call runs
// the bootstrap sequence; duplicate and concurrent calls are no-ops.
//
// If the cluster state is not yet available, bootstrap is deferred until
// the store signals availability; exactly one hook-registration pass and
// one snapshot request happen regardless of how many availability signals
// arrive.
//
// ctx bounds the whole synchronization: change hooks and state watches are
// registered under it, and canceling it detaches the Manager from the
// store. Initialize reports nothing to the caller; failures are emitted as
// signals and recorded in the failure history.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = true
	m.mu.Unlock()

	capitan.Emit(ctx, ManagerInitialized,
		KeySettings.Field(m.managed.Len()),
	)

	available, err := m.cluster.StateAvailable(ctx)
	if err != nil {
		capitan.Emit(ctx, StateQueryFailed,
			KeyError.Field(err.Error()),
		)
		available = false
	}

	if available {
		m.transition(ctx, StateBootstrapping)
		m.bootstrap(ctx)
		return
	}

	// Defer until the store reports availability. The watch is detached by
	// canceling its context the moment a signal wins the CAS below, so at
	// most one bootstrap ever runs.
	m.transition(ctx, StateAwaitingCluster)
	capitan.Emit(ctx, BootstrapDeferred)

	watchCtx, detach := context.WithCancel(ctx)
	m.cluster.OnStateChange(watchCtx, func(available bool) {
		if !available {
			return
		}
		if !m.state.CompareAndSwap(int32(StateAwaitingCluster), int32(StateBootstrapping)) {
			return
		}
		detach()
		m.announceTransition(ctx, StateAwaitingCluster, StateBootstrapping)
		m.bootstrap(ctx)
	})
}

// bootstrap registers one continuous change hook per managed setting, then
// requests the settings snapshot. Hooks always go in before the snapshot is
// read so no change published after the read is missed.
func (m *Manager) bootstrap(ctx context.Context) {
	capitan.Emit(ctx, BootstrapStarted)

	for _, s := range m.managed.ints {
		key := s.key
		m.cluster.OnSettingChange(ctx, key, func(raw string) {
			m.dispatchRawInt(ctx, key, raw)
		})
	}
	for _, s := range m.managed.strs {
		key := s.key
		m.cluster.OnSettingChange(ctx, key, func(raw string) {
			m.dispatchRawString(ctx, key, raw)
		})
	}
	capitan.Emit(ctx, HooksRegistered,
		KeySettings.Field(m.managed.Len()),
	)

	if m.syncMode {
		m.readSnapshot(ctx)
	} else {
		go m.readSnapshot(ctx)
	}

	m.transition(ctx, StateSteady)
	capitan.Emit(ctx, BootstrapCompleted)
}

// readSnapshot loads the current cluster values and dispatches once per
// managed setting present in the snapshot. Absent keys are skipped. One
// attempt only; failure is recorded, never retried.
func (m *Manager) readSnapshot(ctx context.Context) {
	snap, err := m.cluster.Snapshot(ctx)
	if err != nil {
		capitan.Emit(ctx, SnapshotFailed,
			KeyError.Field(err.Error()),
		)
		if m.metrics != nil {
			m.metrics.OnSnapshotFailure()
		}
		m.recordFailure("", fmt.Errorf("snapshot read: %w", err))
		return
	}

	applied := 0
	for _, s := range m.managed.ints {
		raw, ok := snap[s.key]
		if !ok {
			continue
		}
		m.dispatchRawInt(ctx, s.key, raw)
		applied++
	}
	for _, s := range m.managed.strs {
		raw, ok := snap[s.key]
		if !ok {
			continue
		}
		m.dispatchRawString(ctx, s.key, raw)
		applied++
	}
	capitan.Emit(ctx, SnapshotLoaded,
		KeySettings.Field(applied),
	)
}

// -----------------------------------------------------------------------------
// Updates
// -----------------------------------------------------------------------------

// UpdateInt requests a cluster-wide update of an int setting. The write is
// fire-and-forget: persistence failures are signaled and recorded but never
// returned. Local listeners see the new value only once the store publishes
// it back through the change hooks.
func (m *Manager) UpdateInt(ctx context.Context, s Setting[int], value int) {
	m.update(ctx, s.key, strconv.Itoa(value))
}

// UpdateString requests a cluster-wide update of a string setting. Same
// contract as UpdateInt.
func (m *Manager) UpdateString(ctx context.Context, s Setting[string], value string) {
	m.update(ctx, s.key, value)
}

func (m *Manager) update(ctx context.Context, key, raw string) {
	capitan.Emit(ctx, UpdateRequested,
		KeySetting.Field(key),
		KeyRaw.Field(raw),
	)
	if m.syncMode {
		m.persist(ctx, key, raw)
		return
	}
	go m.persist(ctx, key, raw)
}

func (m *Manager) persist(ctx context.Context, key, raw string) {
	if err := m.cluster.Persist(ctx, key, raw); err != nil {
		capitan.Emit(ctx, UpdateFailed,
			KeySetting.Field(key),
			KeyError.Field(err.Error()),
		)
		m.recordFailure(key, fmt.Errorf("persist %q: %w", key, err))
	}
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

// transition moves the state forward and emits the change if any.
func (m *Manager) transition(ctx context.Context, to State) {
	from := State(m.state.Swap(int32(to)))
	if from == to {
		return
	}
	m.announceTransition(ctx, from, to)
}

// announceTransition emits a state change that has already been stored.
func (m *Manager) announceTransition(ctx context.Context, from, to State) {
	capitan.Emit(ctx, ManagerStateChanged,
		KeyOldState.Field(from.String()),
		KeyNewState.Field(to.String()),
	)
	if m.metrics != nil {
		m.metrics.OnStateChange(from, to)
	}
}

// recordFailure stores err as the most recent error and appends it to the
// failure history.
func (m *Manager) recordFailure(setting string, err error) {
	e := err
	m.lastError.Store(&e)
	m.failures.push(Failure{Setting: setting, Err: err, At: m.clock.Now()})
}
