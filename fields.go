package ballast

import "github.com/zoobzio/capitan"

// Field keys for Manager events.
var (
	// KeySetting is the key of the setting involved in an event.
	KeySetting = capitan.NewStringKey("setting")

	// KeyRaw is the raw value as carried by the cluster store.
	KeyRaw = capitan.NewStringKey("raw")

	// KeyOldState is the previous state before a transition.
	KeyOldState = capitan.NewStringKey("old_state")

	// KeyNewState is the new state after a transition.
	KeyNewState = capitan.NewStringKey("new_state")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeySettings is a count of managed settings.
	KeySettings = capitan.NewIntKey("settings")

	// KeyListeners is the number of listeners notified in a dispatch.
	KeyListeners = capitan.NewIntKey("listeners")

	// KeyDuration is the time taken by a dispatch fan-out.
	KeyDuration = capitan.NewDurationKey("duration")

	// KeyStack is the captured stack trace when a listener panics.
	KeyStack = capitan.NewStringKey("stack")
)
