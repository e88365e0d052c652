/*
Package ballast keeps local listeners in sync with cluster-wide settings
held in an external store.

ballast is designed to be embedded within services that manage a fixed set
of cluster-wide settings, not run as a standalone service. Applications
declare the settings they manage, subscribe typed listeners, and call
Initialize once at process start; every later change published by the store
is parsed and delivered with per-listener failure isolation.

# Basic Usage

Declare settings and build a manager:

	threshold := ballast.IntSetting("cluster.pa.threshold", 5)
	mode := ballast.StringSetting("cluster.pa.mode", "auto")

	managed := ballast.NewManaged(
	    []ballast.Setting[int]{threshold},
	    []ballast.Setting[string]{mode},
	)

	manager := ballast.New(cluster, managed)

Subscribe listeners and initialize:

	if err := manager.SubscribeInt(threshold, collector); err != nil {
	    log.Fatal(err)
	}
	manager.Initialize(ctx)

Request a cluster-wide change:

	manager.UpdateInt(ctx, threshold, 10)

The write is fire-and-forget. Listeners on every node, including this one,
receive the new value once the store publishes it back.

# Bootstrap

Initialize resolves the race between process start and cluster state
availability. If the store is ready, change hooks are registered and the
current settings snapshot is read immediately. If not, the Manager waits
for the store's availability signal and bootstraps exactly once when it
arrives. Hook registration always precedes the snapshot read, so a change
published during bootstrap is never missed.

# State Machine

A Manager moves through four states, reported by State():

  - Uninitialized: Initialize has not been called
  - AwaitingCluster: waiting for the store to become available
  - Bootstrapping: registering hooks and requesting the snapshot
  - Steady: following live changes

# Failure Isolation

A listener that returns an error or panics never blocks delivery to the
other listeners of the same setting, and nothing a listener does propagates
to the caller that triggered the change. Failures are emitted as capitan
signals, counted through the MetricsProvider, and retained in the failure
history (see FailureHistorySize).

# Cluster Backends

The Cluster interface abstracts the settings store. The core package
provides MemoryCluster for tests and single-node use. Production backends:

  - file: settings document watched with fsnotify
  - etcd: etcd v3 key prefix
  - consul: Consul KV with blocking queries
  - redis: Redis hash with keyspace notifications
  - nats: NATS JetStream key-value bucket
  - zookeeper: ZooKeeper znodes
  - postgres: PostgreSQL table with LISTEN/NOTIFY
*/
package ballast
