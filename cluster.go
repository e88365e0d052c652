package ballast

import "context"

// StateQuerier reports whether the authoritative cluster state is available.
type StateQuerier interface {
	// StateAvailable reports whether the cluster state can be read right
	// now. The Manager treats an error the same as "not available".
	StateAvailable(ctx context.Context) (bool, error)
}

// StateWatcher signals changes in cluster state availability.
type StateWatcher interface {
	// OnStateChange registers fn to be called whenever cluster state
	// availability may have changed. Implementations must deliver the
	// current availability shortly after registration so a flip between
	// query and registration is never missed. fn runs on the
	// implementation's goroutines; it may be called with false while the
	// state remains unavailable, and more than once with true. The
	// registration lasts until ctx is canceled.
	OnStateChange(ctx context.Context, fn func(available bool))
}

// ChangeWatcher delivers raw value changes for individual setting keys.
type ChangeWatcher interface {
	// OnSettingChange registers fn to receive the raw value each time the
	// given key changes in the cluster store. fn runs on the
	// implementation's goroutines and must only be called for the key it
	// was registered for. The registration lasts until ctx is canceled.
	OnSettingChange(ctx context.Context, key string, fn func(raw string))
}

// SnapshotReader reads the current cluster-wide settings.
type SnapshotReader interface {
	// Snapshot returns the current raw value for every setting key present
	// in the cluster store. Keys with no stored value are absent from the
	// map. The call blocks; the Manager supplies any asynchrony.
	Snapshot(ctx context.Context) (map[string]string, error)
}

// Writer persists a setting value cluster-wide.
type Writer interface {
	// Persist writes the raw value for key to the cluster store. Delivery
	// back to listeners happens through OnSettingChange once the store
	// observes the write, never through this call.
	Persist(ctx context.Context, key, raw string) error
}

// Cluster is the full collaborator surface a Manager needs. A backend
// implements all five roles against one store; see MemoryCluster and the
// backend subpackages.
type Cluster interface {
	StateQuerier
	StateWatcher
	ChangeWatcher
	SnapshotReader
	Writer
}
