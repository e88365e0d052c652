package ballast

import "errors"

// Sentinel errors returned by Manager operations.
var (
	// ErrUnmanagedSetting is returned when subscribing to a setting that
	// is not part of the Manager's managed set. Such a listener would
	// never fire because no change hook is registered for the key.
	ErrUnmanagedSetting = errors.New("ballast: setting not in managed set")

	// ErrNilListener is returned when subscribing a nil listener.
	ErrNilListener = errors.New("ballast: nil listener")
)
