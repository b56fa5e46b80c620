/*
Package raft implements the replicated durable core of rkv: a leader-based
consensus module in the Raft family, together with the durable log store,
the stable state record and the snapshot store it builds on.

# Architecture

Each replication group (one per shard) runs a Node on every member. A Node
owns four pieces of durable state under its data directory:

  - log/     append-only entry log, synced on every append
  - stable.state  current term and vote, synced before any reply
  - snap/    point-in-time state machine snapshots

All consensus state transitions happen on a single event loop goroutine per
Node. The public API (Propose, Read, ProposeConfigChange) and the inbound
transport handlers communicate with the loop through messages, never through
shared mutable state.

# Usage

	node, err := raft.NewNode(raft.Config{
		ID:      "node-1",
		Peers:   map[raft.NodeID]string{"node-1": "...", "node-2": "...", "node-3": "..."},
		DataDir: "/var/lib/rkv",
	}, stateMachine, transport)
	if err != nil {
		...
	}
	defer node.Stop()

	result, err := node.Propose(ctx, command)

Proposals succeed once a majority has durably acknowledged the entry and the
local state machine has applied it. A timed-out proposal returns ErrNoQuorum
and its outcome is unknown: the entry may still commit later, so callers
retry with idempotent commands.

# Guarantees

At most one leader exists per term. Entries acknowledged as committed are
never lost or reordered as long as a majority of nodes keeps its disk state.
The commit index never moves backwards. After a crash, a node restores the
latest snapshot and reapplies committed entries above it; state machines
keyed by write index make that replay exactly-once.
*/
package raft
