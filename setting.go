package ballast

// Value constrains the types a setting can carry. Settings are either
// integer-valued or string-valued; each kind has its own listener registry.
type Value interface {
	int | string
}

// Setting is an immutable descriptor for one cluster-wide setting. Its
// identity is the key; the default is carried for application use and is
// never written to or read from the cluster store by the Manager.
type Setting[T Value] struct {
	key string
	def T
}

// IntSetting creates a descriptor for an integer-valued setting.
func IntSetting(key string, def int) Setting[int] {
	return Setting[int]{key: key, def: def}
}

// StringSetting creates a descriptor for a string-valued setting.
func StringSetting(key string, def string) Setting[string] {
	return Setting[string]{key: key, def: def}
}

// Key returns the unique key identifying the setting in the cluster store.
func (s Setting[T]) Key() string {
	return s.key
}

// Default returns the descriptor's default value.
func (s Setting[T]) Default() T {
	return s.def
}

// Managed is the fixed set of settings a Manager tracks. It is built once
// and never mutated; the Manager registers exactly one change hook per
// member during bootstrap.
type Managed struct {
	ints []Setting[int]
	strs []Setting[string]
}

// NewManaged builds a managed set from int and string descriptors. The
// slices are copied. Duplicate keys within a kind are collapsed, first
// occurrence wins, so hook registration stays one per setting.
func NewManaged(ints []Setting[int], strs []Setting[string]) Managed {
	m := Managed{
		ints: make([]Setting[int], 0, len(ints)),
		strs: make([]Setting[string], 0, len(strs)),
	}

	seen := make(map[string]bool, len(ints))
	for _, s := range ints {
		if seen[s.key] {
			continue
		}
		seen[s.key] = true
		m.ints = append(m.ints, s)
	}

	seen = make(map[string]bool, len(strs))
	for _, s := range strs {
		if seen[s.key] {
			continue
		}
		seen[s.key] = true
		m.strs = append(m.strs, s)
	}

	return m
}

// Ints returns a copy of the managed int settings in registration order.
func (m Managed) Ints() []Setting[int] {
	out := make([]Setting[int], len(m.ints))
	copy(out, m.ints)
	return out
}

// Strings returns a copy of the managed string settings in registration order.
func (m Managed) Strings() []Setting[string] {
	out := make([]Setting[string], len(m.strs))
	copy(out, m.strs)
	return out
}

// Len returns the total number of managed settings.
func (m Managed) Len() int {
	return len(m.ints) + len(m.strs)
}

// hasInt reports whether key is a managed int setting.
func (m Managed) hasInt(key string) bool {
	for _, s := range m.ints {
		if s.key == key {
			return true
		}
	}
	return false
}

// hasString reports whether key is a managed string setting.
func (m Managed) hasString(key string) bool {
	for _, s := range m.strs {
		if s.key == key {
			return true
		}
	}
	return false
}
