// Package redis provides a ballast.Cluster backed by a Redis hash using
// keyspace notifications.
//
// Change hooks require keyspace notifications to be enabled on the
// server:
//
//	CONFIG SET notify-keyspace-events KEA
//
// Or in redis.conf:
//
//	notify-keyspace-events KEA
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cluster stores every setting as a field of one Redis hash. Writes to
// the hash publish a keyspace event; hooks re-read their field and fire
// only when its value actually changed, since the event names the hash,
// not the field.
type Cluster struct {
	client *redis.Client
	key    string
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

// New creates a Cluster storing settings in the hash at key.
func New(client *redis.Client, key string, opts ...Option) *Cluster {
	c := &Cluster{
		client: client,
		key:    key,
		poll:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StateAvailable probes the server with a ping.
func (c *Cluster) StateAvailable(ctx context.Context) (bool, error) {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return false, fmt.Errorf("failed to ping redis: %w", err)
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

// OnSettingChange watches one field of the settings hash. The field
// value at registration is the baseline; every keyspace event on the
// hash re-reads the field and fires fn only when it changed. Removing
// the field does not fire.
func (c *Cluster) OnSettingChange(ctx context.Context, key string, fn func(raw string)) {
	channel := fmt.Sprintf("__keyspace@%d__:%s", c.client.Options().DB, c.key)
	pubsub := c.client.Subscribe(ctx, channel)

	go func() {
		defer pubsub.Close()

		last, primed := c.current(ctx, key)

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				switch msg.Payload {
				case "hset", "hdel", "del":
				default:
					continue
				}

				raw, ok := c.current(ctx, key)
				if !ok {
					continue
				}
				if primed && raw == last {
					continue
				}
				last, primed = raw, true
				fn(raw)
			}
		}
	}()
}

// Snapshot reads the whole settings hash.
func (c *Cluster) Snapshot(ctx context.Context) (map[string]string, error) {
	settings, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read hash %s: %w", c.key, err)
	}
	return settings, nil
}

// Persist sets the raw value for key in the settings hash.
func (c *Cluster) Persist(ctx context.Context, key, raw string) error {
	if err := c.client.HSet(ctx, c.key, key, raw).Err(); err != nil {
		return fmt.Errorf("failed to set %s in hash %s: %w", key, c.key, err)
	}
	return nil
}

// current returns the stored raw value for key, if any. Read failures
// read as absent; the next event catches up.
func (c *Cluster) current(ctx context.Context, key string) (string, bool) {
	raw, err := c.client.HGet(ctx, c.key, key).Result()
	if err != nil {
		return "", false
	}
	return raw, true
}
