// Package rstore implements a replicated, fault-tolerant key-value store on
// top of the native consensus module in lib/raft. It provides a strongly
// consistent implementation of the store.IStore interface that can operate
// across multiple nodes.
//
// Architecture:
//
// The rstore implementation consists of three main components:
//
//   - Store Client: Implements the store.IStore interface and communicates with
//     the replication group. It serializes operations into commands, proposes
//     them to the consensus layer, and processes responses.
//
//   - State Machine: A raft.StateMachine implementation that processes commands
//     and queries on each node. The state machine contains the actual db.KVDB
//     instance and applies operations to it.
//
//   - Communication Protocol: Defined in the internal package, this consists of
//     Command, Query and Result structures with serialization logic, since all
//     payloads cross the consensus interface as raw bytes.
//
// Write Operations:
//
//	All write operations (Set, Delete) follow this flow:
//
//	1. The operation is serialized into a Command structure
//	2. The Command is proposed to the replication group via Propose
//	3. The leader appends it to its durable log and replicates it to followers
//	4. Once a majority has acknowledged, the command is committed and executed
//	   on the state machine of each node (Apply method in statemachine.go)
//	5. The result is returned to the client
//
//	The write index for all operations is the log index of the entry, ensuring
//	a globally consistent ordering of operations across the cluster. Engines
//	ignore commands whose index they have already applied, which makes replay
//	after a crash restart a no-op.
//
// Read Operations:
//
//   - Linearizable Reads: By default, Get and Has are served by the current
//     leader only. A non-leader replica rejects them with a NotLeader error
//     carrying a leader hint, so clients re-resolve instead of retrying blindly.
//
//   - Stale Reads: For less critical operations (GetDBInfo), the query is
//     answered from the local replica, which may lag the leader.
//
// Error Handling and Retries:
//
//	The store implements automatic retry logic for transient failures. A
//	proposal that misses its quorum deadline is retried after a short delay,
//	up to a configurable number of attempts; since commands are idempotent by
//	write index, retrying a possibly-committed command is safe. NotLeader and
//	IO faults are surfaced to the caller as store errors by code.
//
// Snapshotting and Recovery:
//
//	The state machine persists its state through the consensus module's
//	snapshot store, leveraging the db.KVDB's Save and Load methods. On
//	startup a node first restores the most recent snapshot, then reapplies
//	the committed log entries above it, reaching the same state as every
//	other node in the group.
//
// Usage:
//
//	// DB factory for the state machine
//	dbFactory := func() db.KVDB { return cedar.NewCedarDB() }
//
//	// Create the state machine and the consensus node
//	fsm := rstore.NewStateMachine("shard-0", dbFactory)
//	node, err := raft.NewNode(cfg, fsm, transport)
//	if err != nil { ... }
//
//	// Create the store with an appropriate timeout
//	kv := rstore.NewReplicatedStore(node, 5*time.Second)
//
// For scenarios where distributed consensus is not required, consider using the
// simpler and faster lstore package, which provides a single-node implementation
// of the same interface.
package rstore
