package raft

import "errors"

// --------------------------------------------------------------------------
// Error Taxonomy
// --------------------------------------------------------------------------

var (
	// ErrIO signals a failure of the underlying durable storage (log, stable
	// state or snapshot files). Nodes treat it as fatal for the shard.
	ErrIO = errors.New("raft: io fault")

	// ErrNoQuorum is returned when a proposal could not be acknowledged by a
	// majority before its deadline expired. The entry may still commit later;
	// callers must treat the outcome as unknown, not as a rollback.
	ErrNoQuorum = errors.New("raft: no quorum")

	// ErrNotLeader is returned for proposals and strict reads on a node that
	// is not the current leader of the shard. The wrapped hint (if any) names
	// the last known leader.
	ErrNotLeader = errors.New("raft: not leader")

	// ErrShutdown is returned for operations on a node that has been stopped.
	ErrShutdown = errors.New("raft: node is shut down")

	// ErrCompacted is returned by the log store when the requested index has
	// been discarded by compaction and is only available via snapshot.
	ErrCompacted = errors.New("raft: index compacted")

	// ErrNotFound is returned by the log store when the requested index lies
	// beyond the end of the log.
	ErrNotFound = errors.New("raft: index not found")
)

// LeaderHintError wraps ErrNotLeader with the address of the node believed to
// be leader, so clients can redirect instead of retrying blindly.
type LeaderHintError struct {
	Leader NodeID
	Addr   string
}

func (e *LeaderHintError) Error() string {
	if e.Leader == "" {
		return "raft: not leader (leader unknown)"
	}
	return "raft: not leader (leader is " + string(e.Leader) + ")"
}

func (e *LeaderHintError) Unwrap() error {
	return ErrNotLeader
}
