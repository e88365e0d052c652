package ballast

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on key manager events.
type MetricsProvider interface {
	// OnStateChange is called when the manager transitions between states.
	OnStateChange(from, to State)

	// OnDispatch is called after a setting value has been fanned out.
	// Listeners is the number of listeners notified; duration covers the
	// whole fan-out including failed listeners.
	OnDispatch(key string, listeners int, duration time.Duration)

	// OnListenerFailure is called when a listener returns an error or
	// panics during dispatch.
	OnListenerFailure(key string)

	// OnDecodeFailure is called when a raw value cannot be parsed for its
	// setting kind.
	OnDecodeFailure(key string)

	// OnSnapshotFailure is called when the bootstrap snapshot read fails.
	OnSnapshotFailure()
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnStateChange(_, _ State)                    {}
func (NoOpMetricsProvider) OnDispatch(_ string, _ int, _ time.Duration) {}
func (NoOpMetricsProvider) OnListenerFailure(_ string)                  {}
func (NoOpMetricsProvider) OnDecodeFailure(_ string)                    {}
func (NoOpMetricsProvider) OnSnapshotFailure()                          {}
