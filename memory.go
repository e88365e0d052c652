package ballast

import (
	"context"
	"sync"
)

// MemoryCluster is an in-process Cluster backed by a map. It serves tests
// and single-node deployments where no external store is wanted.
//
// Callbacks registered through OnStateChange and OnSettingChange are invoked
// synchronously on the goroutine that mutates the cluster (Set, Persist,
// SetAvailable), which makes Manager behavior deterministic when combined
// with SyncMode.
type MemoryCluster struct {
	mu          sync.Mutex
	available   bool
	stateErr    error
	snapshotErr error
	values      map[string]string
	hooks       map[string][]settingHook
	stateHooks  []stateHook
}

type settingHook struct {
	ctx context.Context
	fn  func(raw string)
}

type stateHook struct {
	ctx context.Context
	fn  func(available bool)
}

// NewMemoryCluster creates an empty, available MemoryCluster.
func NewMemoryCluster() *MemoryCluster {
	return &MemoryCluster{
		available: true,
		values:    make(map[string]string),
		hooks:     make(map[string][]settingHook),
	}
}

// Seed stores initial values without notifying any change hooks. Use it to
// populate the store before a Manager bootstraps against it.
func (m *MemoryCluster) Seed(values map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
}

// Set stores a value and notifies the hooks registered for the key. This is
// how a change made elsewhere in the cluster is simulated.
func (m *MemoryCluster) Set(key, raw string) {
	m.mu.Lock()
	m.values[key] = raw
	fns := m.collectSettingHooks(key)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(raw)
	}
}

// SetAvailable flips cluster state availability and notifies every state
// hook with the new value, even when it did not change. Managers must
// tolerate repeated signals.
func (m *MemoryCluster) SetAvailable(available bool) {
	m.mu.Lock()
	m.available = available
	fns := m.collectStateHooks()
	m.mu.Unlock()

	for _, fn := range fns {
		fn(available)
	}
}

// SetStateError makes StateAvailable return err until cleared with nil.
func (m *MemoryCluster) SetStateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateErr = err
}

// SetSnapshotError makes Snapshot return err until cleared with nil.
func (m *MemoryCluster) SetSnapshotError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshotErr = err
}

// StateAvailable implements StateQuerier.
func (m *MemoryCluster) StateAvailable(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stateErr != nil {
		return false, m.stateErr
	}
	return m.available, nil
}

// OnStateChange implements StateWatcher. The current availability is
// delivered to fn immediately, then again on every SetAvailable call.
func (m *MemoryCluster) OnStateChange(ctx context.Context, fn func(available bool)) {
	m.mu.Lock()
	m.stateHooks = append(m.stateHooks, stateHook{ctx: ctx, fn: fn})
	current := m.available
	m.mu.Unlock()

	fn(current)
}

// OnSettingChange implements ChangeWatcher.
func (m *MemoryCluster) OnSettingChange(ctx context.Context, key string, fn func(raw string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[key] = append(m.hooks[key], settingHook{ctx: ctx, fn: fn})
}

// Snapshot implements SnapshotReader.
func (m *MemoryCluster) Snapshot(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshotErr != nil {
		return nil, m.snapshotErr
	}
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

// Persist implements Writer. The write is immediately visible to change
// hooks, mirroring a store that publishes its own writes.
func (m *MemoryCluster) Persist(_ context.Context, key, raw string) error {
	m.Set(key, raw)
	return nil
}

// collectSettingHooks returns the live hook callbacks for a key and prunes
// canceled registrations. Callers must hold mu and must invoke the returned
// callbacks after releasing it.
func (m *MemoryCluster) collectSettingHooks(key string) []func(raw string) {
	hooks := m.hooks[key]
	live := hooks[:0]
	var fns []func(raw string)
	for _, h := range hooks {
		if h.ctx.Err() != nil {
			continue
		}
		live = append(live, h)
		fns = append(fns, h.fn)
	}
	if len(live) == 0 {
		delete(m.hooks, key)
	} else {
		m.hooks[key] = live
	}
	return fns
}

// collectStateHooks returns the live state callbacks and prunes canceled
// registrations. Same locking contract as collectSettingHooks.
func (m *MemoryCluster) collectStateHooks() []func(available bool) {
	live := m.stateHooks[:0]
	var fns []func(available bool)
	for _, h := range m.stateHooks {
		if h.ctx.Err() != nil {
			continue
		}
		live = append(live, h)
		fns = append(fns, h.fn)
	}
	m.stateHooks = live
	return fns
}
