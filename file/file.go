// Package file provides a ballast.Cluster backed by a single YAML or
// JSON settings file on local disk.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Cluster reads and writes a flat settings document in one file and
// notifies hooks through filesystem events. The file holds a single
// mapping of setting keys to scalar values. Reads accept YAML or JSON;
// writes produce YAML unless WithJSON is given.
type Cluster struct {
	path   string
	asJSON bool
	mu     sync.Mutex // serializes read-modify-write in Persist
}

// Option configures a Cluster.
type Option func(*Cluster)

// WithJSON writes the settings file as JSON instead of YAML. Reads are
// unaffected, since YAML is a superset of JSON.
func WithJSON() Option {
	return func(c *Cluster) {
		c.asJSON = true
	}
}

// New creates a Cluster backed by the file at path. The file does not
// need to exist yet; StateAvailable reports false until it does, and the
// first Persist creates it.
func New(path string, opts ...Option) *Cluster {
	c := &Cluster{path: filepath.Clean(path)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StateAvailable reports whether the settings file exists.
func (c *Cluster) StateAvailable(ctx context.Context) (bool, error) {
	_, err := os.Stat(c.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", c.path, err)
}

// OnStateChange registers fn for availability flips of the settings
// file. The current availability is delivered as soon as the watch is
// armed, then again whenever the file appears or disappears.
func (c *Cluster) OnStateChange(ctx context.Context, fn func(available bool)) {
	delivered := false
	var last bool
	go c.watchFile(ctx, func() {
		avail := c.exists()
		if delivered && avail == last {
			return
		}
		delivered, last = true, avail
		fn(avail)
	})
}

// OnSettingChange registers fn for changes to one key in the settings
// document. The value present when the watch is armed is the baseline;
// only later writes that change the key fire fn. Removing the key does
// not fire.
func (c *Cluster) OnSettingChange(ctx context.Context, key string, fn func(raw string)) {
	primed := false
	var last string
	var ok bool
	go c.watchFile(ctx, func() {
		raw, present := c.current(key)
		if !primed {
			primed, last, ok = true, raw, present
			return
		}
		if !present {
			return
		}
		if ok && raw == last {
			return
		}
		last, ok = raw, true
		fn(raw)
	})
}

// Snapshot decodes the whole settings document. A missing file is an
// error; callers gate on StateAvailable first.
func (c *Cluster) Snapshot(ctx context.Context) (map[string]string, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.path, err)
	}
	settings, err := decodeSettings(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", c.path, err)
	}
	return settings, nil
}

// Persist writes raw under key, preserving every other key in the file.
// A missing file is created; a file that no longer decodes is left
// untouched and the error returned.
func (c *Cluster) Persist(ctx context.Context, key, raw string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	settings := make(map[string]string)
	data, err := os.ReadFile(c.path)
	switch {
	case err == nil:
		settings, err = decodeSettings(data)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", c.path, err)
		}
	case os.IsNotExist(err):
		// First write creates the file.
	default:
		return fmt.Errorf("failed to read %s: %w", c.path, err)
	}

	settings[key] = raw

	out, err := c.encode(settings)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.path, err)
	}
	return nil
}

func (c *Cluster) encode(settings map[string]string) ([]byte, error) {
	if c.asJSON {
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode settings: %w", err)
		}
		return append(data, '\n'), nil
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	return data, nil
}

func (c *Cluster) exists() bool {
	_, err := os.Stat(c.path)
	return err == nil
}

// current returns the stored raw value for key, if any. Read or decode
// failures read as absent; the next clean read catches up.
func (c *Cluster) current(key string) (string, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return "", false
	}
	settings, err := decodeSettings(data)
	if err != nil {
		return "", false
	}
	raw, ok := settings[key]
	return raw, ok
}

// watchFile owns one fsnotify watcher on the settings file's directory
// and runs onEvent once as soon as the watch is armed, then after every
// event touching the file, until ctx is canceled. Watching the directory
// rather than the file itself survives editors that replace via rename.
// If the watch cannot be established onEvent still runs once, so
// registrants always observe the current state.
func (c *Cluster) watchFile(ctx context.Context, onEvent func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		onEvent()
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		onEvent()
		return
	}

	onEvent()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != c.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			onEvent()
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are transient; keep watching.
		}
	}
}

// decodeSettings flattens a YAML or JSON mapping into raw string values.
// Scalars are rendered with fmt.Sprint so hand-edited files may use bare
// numbers and booleans; nested values and explicit nulls are dropped.
func decodeSettings(data []byte) (map[string]string, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	settings := make(map[string]string, len(doc))
	for k, v := range doc {
		switch v := v.(type) {
		case string:
			settings[k] = v
		case nil, map[string]any, []any:
			// Only flat scalar settings carry values.
		default:
			settings[k] = fmt.Sprint(v)
		}
	}
	return settings, nil
}
