package raft

import (
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config holds the tunables of a single consensus node. Zero values are
// replaced by the defaults below during Validate.
type Config struct {
	// ID is the unique identifier of this node within the cluster.
	ID NodeID

	// Shard names the replication group this node serves. It scopes the
	// data directory and the metric labels. Defaults to "default".
	Shard string

	// Peers maps every cluster member (including this node) to its address.
	Peers map[NodeID]string

	// DataDir is the directory holding the log, stable state and snapshots
	// of this node. Each shard uses its own subdirectory.
	DataDir string

	// ElectionTimeoutMin/Max bound the randomized election timeout. A fresh
	// timeout is drawn uniformly from [Min, Max) whenever the timer resets,
	// so that split votes resolve quickly.
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration

	// HeartbeatInterval is how often a leader sends (possibly empty)
	// AppendEntries to each follower. Must be well below ElectionTimeoutMin.
	HeartbeatInterval time.Duration

	// RPCTimeout bounds a single outbound RPC.
	RPCTimeout time.Duration

	// SnapshotEntries triggers a snapshot once this many entries have been
	// applied since the last one. 0 disables automatic snapshots.
	SnapshotEntries uint64

	// CompactionOverhead is the number of applied entries kept in the log
	// after a snapshot, so slightly lagging followers can catch up without
	// a full state transfer.
	CompactionOverhead uint64

	// MaxEntriesPerRPC caps how many entries one AppendEntries carries.
	MaxEntriesPerRPC int

	// OnMembershipChange, if set, is invoked from the event loop whenever a
	// committed config change mutates the peer set. The callback receives a
	// copy and must not block.
	OnMembershipChange func(peers map[NodeID]string)
}

const (
	DefaultElectionTimeoutMin = 150 * time.Millisecond
	DefaultElectionTimeoutMax = 300 * time.Millisecond
	DefaultHeartbeatInterval  = 50 * time.Millisecond
	DefaultRPCTimeout         = 100 * time.Millisecond
	DefaultSnapshotEntries    = 10000
	DefaultCompactionOverhead = 500
	DefaultMaxEntriesPerRPC   = 64
)

// Validate fills in defaults and rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("config: node id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data dir must not be empty")
	}
	if c.Shard == "" {
		c.Shard = "default"
	}

	if c.ElectionTimeoutMin == 0 {
		c.ElectionTimeoutMin = DefaultElectionTimeoutMin
	}
	if c.ElectionTimeoutMax == 0 {
		c.ElectionTimeoutMax = DefaultElectionTimeoutMax
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = DefaultRPCTimeout
	}
	if c.CompactionOverhead == 0 {
		c.CompactionOverhead = DefaultCompactionOverhead
	}
	if c.MaxEntriesPerRPC == 0 {
		c.MaxEntriesPerRPC = DefaultMaxEntriesPerRPC
	}

	if c.ElectionTimeoutMax <= c.ElectionTimeoutMin {
		return fmt.Errorf("config: election timeout max (%v) must exceed min (%v)",
			c.ElectionTimeoutMax, c.ElectionTimeoutMin)
	}
	if c.HeartbeatInterval >= c.ElectionTimeoutMin {
		return fmt.Errorf("config: heartbeat interval (%v) must be below election timeout min (%v)",
			c.HeartbeatInterval, c.ElectionTimeoutMin)
	}

	return nil
}
