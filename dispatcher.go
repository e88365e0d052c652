package ballast

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"

	"github.com/zoobzio/capitan"
)

// dispatchRawInt parses a raw value as an int and fans it out to the
// listeners registered for the key. Unparseable values are recorded and
// skipped; listeners never see them.
func (m *Manager) dispatchRawInt(ctx context.Context, key, raw string) {
	value, err := strconv.Atoi(raw)
	if err != nil {
		m.recordDecodeFailure(ctx, key, raw, err)
		return
	}
	dispatch(ctx, m, m.ints, key, value)
}

// dispatchRawString fans a raw value out to the listeners registered for
// the key. String settings carry the raw value as-is.
func (m *Manager) dispatchRawString(ctx context.Context, key, raw string) {
	dispatch(ctx, m, m.strs, key, raw)
}

// dispatch delivers a value to every listener registered for the key in
// registration order. A listener error or panic is recorded and never stops
// delivery to the remaining listeners. No locks are held while listener
// code runs.
func dispatch[T Value](ctx context.Context, m *Manager, reg *registry[T], key string, value T) {
	listeners := reg.snapshot(key)
	if len(listeners) == 0 {
		return
	}

	start := m.clock.Now()
	for _, l := range listeners {
		if stack, err := invoke(ctx, l, value); err != nil {
			m.recordListenerFailure(ctx, key, err, stack)
		}
	}
	duration := m.clock.Since(start)

	capitan.Emit(ctx, DispatchCompleted,
		KeySetting.Field(key),
		KeyListeners.Field(len(listeners)),
		KeyDuration.Field(duration),
	)
	if m.metrics != nil {
		m.metrics.OnDispatch(key, len(listeners), duration)
	}
}

// invoke calls a single listener, converting a panic into an error with the
// captured stack.
func invoke[T Value](ctx context.Context, l Listener[T], value T) (stack []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack = debug.Stack()
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return nil, l.OnSettingUpdate(ctx, value)
}

// recordListenerFailure emits DispatchFailed, counts the failure, and
// stores it in the failure history.
func (m *Manager) recordListenerFailure(ctx context.Context, key string, err error, stack []byte) {
	if stack != nil {
		capitan.Emit(ctx, DispatchFailed,
			KeySetting.Field(key),
			KeyError.Field(err.Error()),
			KeyStack.Field(string(stack)),
		)
	} else {
		capitan.Emit(ctx, DispatchFailed,
			KeySetting.Field(key),
			KeyError.Field(err.Error()),
		)
	}
	if m.metrics != nil {
		m.metrics.OnListenerFailure(key)
	}
	m.recordFailure(key, err)
}

// recordDecodeFailure emits ValueInvalid, counts the failure, and stores it
// in the failure history.
func (m *Manager) recordDecodeFailure(ctx context.Context, key, raw string, err error) {
	capitan.Emit(ctx, ValueInvalid,
		KeySetting.Field(key),
		KeyRaw.Field(raw),
		KeyError.Field(err.Error()),
	)
	if m.metrics != nil {
		m.metrics.OnDecodeFailure(key)
	}
	m.recordFailure(key, fmt.Errorf("invalid value %q: %w", raw, err))
}
