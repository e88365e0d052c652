// Package postgres provides a ballast.Cluster backed by a PostgreSQL
// table using LISTEN/NOTIFY.
//
// Persist upserts the row and notifies the channel itself, so no
// trigger is required when every writer goes through ballast. Writers
// that touch the table directly need a trigger to keep hooks firing:
//
//	CREATE OR REPLACE FUNCTION notify_setting_change() RETURNS trigger AS $$
//	BEGIN
//	    PERFORM pg_notify('ballast_settings', NEW.key);
//	    RETURN NEW;
//	END;
//	$$ LANGUAGE plpgsql;
//
//	CREATE TRIGGER setting_change_trigger
//	    AFTER INSERT OR UPDATE ON settings
//	    FOR EACH ROW EXECUTE FUNCTION notify_setting_change();
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Cluster stores one row per setting in a key/value table. Change hooks
// hold a LISTEN connection and re-read their row whenever a
// notification names their key.
type Cluster struct {
	pool    *pgxpool.Pool
	table   string
	channel string
	poll    time.Duration
}

// Option configures a Cluster.
type Option func(*Cluster)

// WithTable sets the settings table name. Defaults to "settings".
func WithTable(table string) Option {
	return func(c *Cluster) {
		c.table = table
	}
}

// WithChannel sets the notification channel name. Defaults to
// "ballast_settings".
func WithChannel(channel string) Option {
	return func(c *Cluster) {
		c.channel = channel
	}
}

// WithPollInterval sets how often availability is probed for
// OnStateChange registrations. The default is two seconds.
func WithPollInterval(d time.Duration) Option {
	return func(c *Cluster) {
		c.poll = d
	}
}

// New creates a Cluster over the given pool.
func New(pool *pgxpool.Pool, opts ...Option) *Cluster {
	c := &Cluster{
		pool:    pool,
		table:   "settings",
		channel: "ballast_settings",
		poll:    2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureSchema creates the settings table if it does not exist.
func (c *Cluster) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value TEXT NOT NULL)",
		c.table,
	)
	if _, err := c.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", c.table, err)
	}
	return nil
}

// StateAvailable probes the database with a ping.
func (c *Cluster) StateAvailable(ctx context.Context) (bool, error) {
	if err := c.pool.Ping(ctx); err != nil {
		return false, fmt.Errorf("failed to ping postgres: %w", err)
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

// OnSettingChange listens for notifications naming key and re-reads its
// row on each one. Notifications for other keys are ignored; a row that
// no longer exists does not fire.
func (c *Cluster) OnSettingChange(ctx context.Context, key string, fn func(raw string)) {
	go func() {
		conn, err := c.pool.Acquire(ctx)
		if err != nil {
			return
		}
		defer conn.Release()

		if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %s", c.channel)); err != nil {
			return
		}

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if notification.Payload != key {
				continue
			}

			raw, ok := c.current(ctx, key)
			if !ok {
				continue
			}
			fn(raw)
		}
	}()
}

// Snapshot reads every row of the settings table.
func (c *Cluster) Snapshot(ctx context.Context) (map[string]string, error) {
	rows, err := c.pool.Query(ctx, fmt.Sprintf("SELECT key, value FROM %s", c.table))
	if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", c.table, err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		settings[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", c.table, err)
	}
	return settings, nil
}

// Persist upserts the raw value for key and notifies the channel.
func (c *Cluster) Persist(ctx context.Context, key, raw string) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		c.table,
	)
	if _, err := c.pool.Exec(ctx, query, key, raw); err != nil {
		return fmt.Errorf("failed to upsert %s: %w", key, err)
	}
	if _, err := c.pool.Exec(ctx, "SELECT pg_notify($1, $2)", c.channel, key); err != nil {
		return fmt.Errorf("failed to notify %s: %w", c.channel, err)
	}
	return nil
}

// current returns the stored raw value for key, if any.
func (c *Cluster) current(ctx context.Context, key string) (string, bool) {
	var raw string
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", c.table)
	if err := c.pool.QueryRow(ctx, query, key).Scan(&raw); err != nil {
		return "", false
	}
	return raw, true
}
