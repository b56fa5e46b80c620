package raft

import "context"

// --------------------------------------------------------------------------
// RPC Messages
// --------------------------------------------------------------------------

// RequestVoteRequest is sent by a candidate to gather votes for a term.
type RequestVoteRequest struct {
	Term         uint64
	Candidate    NodeID
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteResponse is a voter's reply. Granted is only valid together
// with the responder's Term: a response from an older exchange is discarded.
type RequestVoteResponse struct {
	Term    uint64
	Granted bool
}

// AppendEntriesRequest carries replication (or, with no entries, a
// heartbeat) from the leader. PrevLogIndex/PrevLogTerm anchor the entries:
// the follower accepts only if its own log matches at that position.
type AppendEntriesRequest struct {
	Term         uint64
	Leader       NodeID
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []LogEntry
	LeaderCommit uint64
}

// AppendEntriesResponse reports whether the follower accepted the entries.
// On rejection, ConflictIndex is the follower's suggestion for where the
// leader should retry, cutting the backoff from one probe per entry to one
// probe per diverging term.
type AppendEntriesResponse struct {
	Term          uint64
	Success       bool
	ConflictIndex uint64

	// MatchIndex is the follower's last log index after a successful append.
	MatchIndex uint64
}

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

// Transport delivers consensus RPCs between nodes. Implementations must be
// safe for concurrent use; the node issues RPCs to different peers in
// parallel. A transport error (unreachable peer, timeout) is returned to the
// caller, which treats it like a lost message.
type Transport interface {
	RequestVote(ctx context.Context, target NodeID, req *RequestVoteRequest) (*RequestVoteResponse, error)
	AppendEntries(ctx context.Context, target NodeID, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
}

// RPCHandler is the inbound side of the transport: the consensus node
// itself. Handlers are invoked from transport goroutines and hand the
// message to the shard's event loop.
type RPCHandler interface {
	HandleRequestVote(req *RequestVoteRequest) *RequestVoteResponse
	HandleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse
}
