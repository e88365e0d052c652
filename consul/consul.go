// Package consul provides a ballast.Cluster backed by Consul KV using
// blocking queries.
package consul

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"
)

// Cluster stores each setting at <prefix>/<key> in Consul KV. Change
// hooks ride long-polling blocking queries pinned to the modify index
// observed at registration, so no write after registration is missed.
type Cluster struct {
	client *api.Client
	prefix string
	poll   time.Duration
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

// New creates a Cluster over the given client. All settings live under
// prefix, stored without a trailing slash.
func New(client *api.Client, prefix string, opts ...Option) *Cluster {
	c := &Cluster{
		client: client,
		prefix: strings.TrimRight(prefix, "/"),
		poll:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StateAvailable reports whether the Consul cluster has elected a
// leader. A reachable agent in a cluster that has not formed yet reads
// as unavailable, not as an error.
func (c *Cluster) StateAvailable(ctx context.Context) (bool, error) {
	opts := new(api.QueryOptions).WithContext(ctx)
	leader, err := c.client.Status().LeaderWithQueryOptions(opts)
	if err != nil {
		return false, fmt.Errorf("failed to probe consul: %w", err)
	}
	return leader != "", nil
}

// OnStateChange polls availability on the configured interval. The
// current availability is delivered first, then every flip.
func (c *Cluster) OnStateChange(ctx context.Context, fn func(available bool)) {
	go func() {
		last := c.probe(ctx)
		fn(last)

		ticker := time.NewTicker(c.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				available := c.probe(ctx)
				if available == last {
					continue
				}
				last = available
				fn(available)
			}
		}
	}()
}

func (c *Cluster) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, c.poll)
	defer cancel()
	available, _ := c.StateAvailable(probeCtx)
	return available
}

// OnSettingChange watches one setting key with blocking queries. The
// value present at registration is the baseline; only later writes that
// move the modify index fire fn. Deletes are not delivered.
func (c *Cluster) OnSettingChange(ctx context.Context, key string, fn func(raw string)) {
	go func() {
		kv := c.client.KV()
		target := c.settingKey(key)

		var lastIndex uint64
		if _, meta, err := kv.Get(target, new(api.QueryOptions).WithContext(ctx)); err == nil {
			lastIndex = meta.LastIndex
		}

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			opts := &api.QueryOptions{WaitIndex: lastIndex}
			pair, meta, err := kv.Get(target, opts.WithContext(ctx))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			if meta.LastIndex <= lastIndex {
				continue
			}
			lastIndex = meta.LastIndex
			if pair == nil {
				continue
			}
			fn(string(pair.Value))
		}
	}()
}

// Snapshot lists every setting under the prefix.
func (c *Cluster) Snapshot(ctx context.Context) (map[string]string, error) {
	pairs, _, err := c.client.KV().List(c.prefix+"/", new(api.QueryOptions).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list settings under %s: %w", c.prefix, err)
	}
	settings := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		settings[strings.TrimPrefix(pair.Key, c.prefix+"/")] = string(pair.Value)
	}
	return settings, nil
}

// Persist puts the raw value for key.
func (c *Cluster) Persist(ctx context.Context, key, raw string) error {
	pair := &api.KVPair{Key: c.settingKey(key), Value: []byte(raw)}
	if _, err := c.client.KV().Put(pair, new(api.WriteOptions).WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to put %s: %w", c.settingKey(key), err)
	}
	return nil
}

func (c *Cluster) settingKey(key string) string {
	return c.prefix + "/" + key
}
