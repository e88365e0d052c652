// Package zookeeper provides a ballast.Cluster backed by ZooKeeper
// znodes using the native watch API.
package zookeeper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

// Cluster stores each setting as a znode at <root>/<key>. Change hooks
// re-arm a GetW/ExistsW watch loop, the standard ZooKeeper idiom for
// continuous observation.
type Cluster struct {
	conn *zk.Conn
	root string
	poll time.Duration
}

// Option configures a Cluster.
type Option func(*Cluster)

// WithPollInterval sets how often availability is probed for
// OnStateChange registrations. The default is two seconds.
func WithPollInterval(d time.Duration) Option {
	return func(c *Cluster) {
		c.poll = d
	}
}

// New creates a Cluster over the given connection. All settings live
// under root, an absolute path without a trailing slash.
func New(conn *zk.Conn, root string, opts ...Option) *Cluster {
	c := &Cluster{
		conn: conn,
		root: strings.TrimRight(root, "/"),
		poll: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StateAvailable reports whether the connection has an established
// session.
func (c *Cluster) StateAvailable(ctx context.Context) (bool, error) {
	return c.conn.State() == zk.StateHasSession, nil
}

// OnStateChange polls session state on the configured interval. The
// current availability is delivered first, then every flip.
func (c *Cluster) OnStateChange(ctx context.Context, fn func(available bool)) {
	go func() {
		last, _ := c.StateAvailable(ctx)
		fn(last)

		ticker := time.NewTicker(c.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				available, _ := c.StateAvailable(ctx)
				if available == last {
					continue
				}
				last = available
				fn(available)
			}
		}
	}()
}

// OnSettingChange watches one setting znode. The data present at
// registration is the baseline; every later write, including the write
// that creates the node, fires fn. Deletes are not delivered.
func (c *Cluster) OnSettingChange(ctx context.Context, key string, fn func(raw string)) {
	go func() {
		path := c.settingPath(key)
		primed := false

		for {
			if ctx.Err() != nil {
				return
			}

			data, _, eventCh, err := c.conn.GetW(path)
			if err != nil {
				if err != zk.ErrNoNode {
					return
				}
				// Absent node: absence is the baseline, creation fires.
				exists, _, existCh, err := c.conn.ExistsW(path)
				if err != nil {
					return
				}
				primed = true
				if !exists {
					select {
					case <-ctx.Done():
						return
					case <-existCh:
					}
				}
				continue
			}

			if primed {
				fn(string(data))
			}
			primed = true

			select {
			case <-ctx.Done():
				return
			case <-eventCh:
				// Loop back to read the new data and re-arm the watch.
				// A delete lands in the ErrNoNode branch above.
			}
		}
	}()
}

// Snapshot reads every setting znode under the root.
func (c *Cluster) Snapshot(ctx context.Context) (map[string]string, error) {
	children, _, err := c.conn.Children(c.root)
	if err != nil {
		if err == zk.ErrNoNode {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to list children of %s: %w", c.root, err)
	}

	settings := make(map[string]string, len(children))
	for _, child := range children {
		data, _, err := c.conn.Get(c.root + "/" + child)
		if err != nil {
			// Deleted between the listing and the read.
			if err == zk.ErrNoNode {
				continue
			}
			return nil, fmt.Errorf("failed to read %s/%s: %w", c.root, child, err)
		}
		settings[child] = string(data)
	}
	return settings, nil
}

// Persist writes the raw value for key, creating the znode and the root
// as needed.
func (c *Cluster) Persist(ctx context.Context, key, raw string) error {
	path := c.settingPath(key)

	if _, err := c.conn.Set(path, []byte(raw), -1); err == nil {
		return nil
	} else if err != zk.ErrNoNode {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}

	if _, err := c.conn.Create(c.root, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("failed to create %s: %w", c.root, err)
	}
	if _, err := c.conn.Create(path, []byte(raw), 0, zk.WorldACL(zk.PermAll)); err != nil {
		// Lost a create race; the node exists now.
		if err == zk.ErrNodeExists {
			if _, err := c.conn.Set(path, []byte(raw), -1); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
			return nil
		}
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	return nil
}

func (c *Cluster) settingPath(key string) string {
	return c.root + "/" + key
}
