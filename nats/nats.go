// Package nats provides a ballast.Cluster backed by a NATS JetStream
// key-value bucket.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cluster stores each setting as one key in a JetStream KV bucket.
// Change hooks ride the bucket's native Watch API.
type Cluster struct {
	kv   jetstream.KeyValue
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

// New creates a Cluster over the given KV bucket.
func New(kv jetstream.KeyValue, opts ...Option) *Cluster {
	c := &Cluster{
		kv:   kv,
		poll: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StateAvailable probes the bucket with a status request.
func (c *Cluster) StateAvailable(ctx context.Context) (bool, error) {
	if _, err := c.kv.Status(ctx); err != nil {
		return false, fmt.Errorf("failed to probe kv bucket: %w", err)
	}
	return true, nil
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

// OnSettingChange watches one key. UpdatesOnly skips the value present
// at registration, so only later puts fire fn. Deletes and purges are
// not delivered.
func (c *Cluster) OnSettingChange(ctx context.Context, key string, fn func(raw string)) {
	go func() {
		watcher, err := c.kv.Watch(ctx, key, jetstream.UpdatesOnly())
		if err != nil {
			return
		}
		defer watcher.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil entry marks the end of the initial replay.
				if entry == nil {
					continue
				}
				if entry.Operation() == jetstream.KeyValueDelete || entry.Operation() == jetstream.KeyValuePurge {
					continue
				}
				fn(string(entry.Value()))
			}
		}
	}()
}

// Snapshot reads every key in the bucket.
func (c *Cluster) Snapshot(ctx context.Context) (map[string]string, error) {
	keys, err := c.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to list kv keys: %w", err)
	}

	settings := make(map[string]string, len(keys))
	for _, key := range keys {
		entry, err := c.kv.Get(ctx, key)
		if err != nil {
			// Deleted between the listing and the read.
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to read key %s: %w", key, err)
		}
		settings[key] = string(entry.Value())
	}
	return settings, nil
}

// Persist puts the raw value for key.
func (c *Cluster) Persist(ctx context.Context, key, raw string) error {
	if _, err := c.kv.Put(ctx, key, []byte(raw)); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}
