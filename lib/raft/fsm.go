package raft

import "io"

// --------------------------------------------------------------------------
// State Machine Interface
// --------------------------------------------------------------------------

// StateMachine is the application state replicated by the consensus module.
// The node applies committed entries to it in log order, exactly once per
// index during normal operation.
//
// Apply must be deterministic: given the same sequence of entries, every
// replica must end in the same state. It must also tolerate replay of a
// committed prefix after a crash restart, since the snapshot a node restores
// from may lag the entries it has already acknowledged. Implementations keep
// the index of the last mutation inside their state (and inside snapshots)
// and turn replayed entries into no-ops.
type StateMachine interface {
	// Apply executes one committed command and returns its result. The
	// returned bytes are delivered to the proposal's waiter on the leader
	// and discarded on followers.
	Apply(entry LogEntry) ([]byte, error)

	// Lookup executes a read-only query against the current state. It must
	// not mutate the state machine.
	Lookup(query []byte) ([]byte, error)

	// SaveSnapshot streams a point-in-time copy of the complete state,
	// including the last applied index, to w.
	SaveSnapshot(w io.Writer) error

	// RecoverFromSnapshot replaces the state with the snapshot read from r.
	RecoverFromSnapshot(r io.Reader) error
}
