// Package etcd provides a ballast.Cluster backed by an etcd key prefix.
package etcd

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Cluster stores each setting at <prefix>/<key> in etcd. Change hooks
// ride etcd watches pinned to the revision observed at registration, so
// no write between registration and watch establishment is missed.
type Cluster struct {
	client *clientv3.Client
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
func New(client *clientv3.Client, prefix string, opts ...Option) *Cluster {
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

// StateAvailable probes the store with a count-only read of the prefix.
func (c *Cluster) StateAvailable(ctx context.Context) (bool, error) {
	_, err := c.client.Get(ctx, c.prefix+"/", clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return false, fmt.Errorf("failed to probe etcd: %w", err)
	}
	return true, nil
}

// OnStateChange polls availability on the configured interval. The
// current availability is delivered first, then every flip. Each probe
// is bounded by the poll interval so a dead endpoint cannot stall the
// loop.
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

// OnSettingChange watches one setting key. A read pins the current
// revision and the watch starts just past it, so every later put is
// delivered. Deletes are not delivered.
func (c *Cluster) OnSettingChange(ctx context.Context, key string, fn func(raw string)) {
	go func() {
		target := c.settingKey(key)

		resp, err := c.client.Get(ctx, target)
		if err != nil {
			return
		}

		watchChan := c.client.Watch(ctx, target, clientv3.WithRev(resp.Header.Revision+1))

		for {
			select {
			case <-ctx.Done():
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					return
				}
				if watchResp.Err() != nil {
					continue
				}

				for _, event := range watchResp.Events {
					if event.Type == clientv3.EventTypePut {
						fn(string(event.Kv.Value))
					}
				}
			}
		}
	}()
}

// Snapshot reads every setting under the prefix.
func (c *Cluster) Snapshot(ctx context.Context) (map[string]string, error) {
	resp, err := c.client.Get(ctx, c.prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to read settings under %s: %w", c.prefix, err)
	}
	settings := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		settings[strings.TrimPrefix(string(kv.Key), c.prefix+"/")] = string(kv.Value)
	}
	return settings, nil
}

// Persist puts the raw value for key.
func (c *Cluster) Persist(ctx context.Context, key, raw string) error {
	if _, err := c.client.Put(ctx, c.settingKey(key), raw); err != nil {
		return fmt.Errorf("failed to put %s: %w", c.settingKey(key), err)
	}
	return nil
}

func (c *Cluster) settingKey(key string) string {
	return c.prefix + "/" + key
}
