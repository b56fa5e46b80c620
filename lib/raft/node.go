package raft

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/sirupsen/logrus"
)

// --------------------------------------------------------------------------
// Consensus Node
// --------------------------------------------------------------------------

// Node is one member of a replication group. All consensus state is owned by
// a single event loop goroutine; the public methods and the transport
// handlers communicate with it exclusively through messages, so there is no
// lock ordering to reason about and every state transition happens at one
// dispatch point.
type Node struct {
	cfg Config

	log   *LogStore
	state *StableState
	snaps *SnapshotStore
	sm    StateMachine
	trans Transport

	logger *logrus.Entry

	// owned by the event loop
	role        Role
	currentTerm uint64
	votedFor    NodeID
	leader      NodeID
	commitIndex uint64
	lastApplied uint64
	snapMeta    SnapshotMeta
	peers       map[NodeID]string

	// leader volatile state, reset on every accession
	nextIndex  map[NodeID]uint64
	matchIndex map[NodeID]uint64
	votes      map[NodeID]bool
	waiters    map[uint64]*pendingProposal

	electionTimer *time.Timer
	heartbeat     *time.Ticker

	msgc  chan message
	stopc chan struct{}
	donec chan struct{}

	statusMu sync.RWMutex
	status   Status

	stopOnce sync.Once

	mElections *metrics.Counter
	mProposals *metrics.Counter
	mApplied   *metrics.Counter
	mSnapshots *metrics.Counter
}

// Status is a point-in-time view of a node, safe to read from any goroutine.
type Status struct {
	ID          NodeID
	Shard       string
	Role        Role
	Term        uint64
	Leader      NodeID
	CommitIndex uint64
	LastApplied uint64
	FirstIndex  uint64
	LastIndex   uint64
	Peers       map[NodeID]string
}

// ReadConsistency selects how a read is routed.
type ReadConsistency uint8

const (
	// ReadLeaderStrict serves the read on the current leader only; a
	// non-leader returns ErrNotLeader with a leader hint.
	ReadLeaderStrict ReadConsistency = iota

	// ReadStaleOK serves the read from the local state machine, which may
	// lag the leader by uncommitted or unapplied entries.
	ReadStaleOK
)

// ---- Messages ----

type msgKind uint8

const (
	msgVoteRequest msgKind = iota
	msgAppendRequest
	msgVoteResponse
	msgAppendResponse
	msgPropose
	msgRead
)

type message struct {
	kind msgKind

	voteReq  *RequestVoteRequest
	voteRspc chan *RequestVoteResponse

	appendReq  *AppendEntriesRequest
	appendRspc chan *AppendEntriesResponse

	// async RPC results routed back into the loop
	from     NodeID
	sentTerm uint64
	voteResp *RequestVoteResponse
	appResp  *AppendEntriesResponse

	entryType EntryType
	command   []byte
	query     []byte
	respc     chan result
}

type result struct {
	data []byte
	err  error
}

type pendingProposal struct {
	term  uint64
	respc chan result
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// NewNode opens the node's durable stores under cfg.DataDir, restores the
// state machine from the latest snapshot if one exists, and starts the event
// loop as a follower. Entries above the snapshot are reapplied only once
// consensus reconfirms them as committed; combined with index-keyed apply in
// the state machine this makes crash-restart replay exactly-once.
func NewNode(cfg Config, sm StateMachine, trans Transport) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dir := filepath.Join(cfg.DataDir, cfg.Shard)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", ErrIO, err)
	}

	state, err := OpenStableState(dir)
	if err != nil {
		return nil, err
	}
	log, err := OpenLogStore(filepath.Join(dir, "log"))
	if err != nil {
		return nil, err
	}
	snaps, err := OpenSnapshotStore(filepath.Join(dir, "snap"))
	if err != nil {
		_ = log.Close()
		return nil, err
	}

	n := &Node{
		cfg:    cfg,
		log:    log,
		state:  state,
		snaps:  snaps,
		sm:     sm,
		trans:  trans,
		logger: logrus.WithFields(logrus.Fields{"component": "raft", "node": cfg.ID, "shard": cfg.Shard}),

		role:        Follower,
		currentTerm: state.CurrentTerm(),
		votedFor:    state.VotedFor(),
		peers:       make(map[NodeID]string, len(cfg.Peers)),
		waiters:     make(map[uint64]*pendingProposal),

		msgc:  make(chan message, 256),
		stopc: make(chan struct{}),
		donec: make(chan struct{}),

		mElections: metrics.GetOrCreateCounter(fmt.Sprintf(`rkv_raft_elections_total{node=%q,shard=%q}`, cfg.ID, cfg.Shard)),
		mProposals: metrics.GetOrCreateCounter(fmt.Sprintf(`rkv_raft_proposals_total{node=%q,shard=%q}`, cfg.ID, cfg.Shard)),
		mApplied:   metrics.GetOrCreateCounter(fmt.Sprintf(`rkv_raft_entries_applied_total{node=%q,shard=%q}`, cfg.ID, cfg.Shard)),
		mSnapshots: metrics.GetOrCreateCounter(fmt.Sprintf(`rkv_raft_snapshots_total{node=%q,shard=%q}`, cfg.ID, cfg.Shard)),
	}
	for id, addr := range cfg.Peers {
		n.peers[id] = addr
	}

	if err := n.restoreSnapshot(); err != nil {
		_ = log.Close()
		return nil, err
	}

	n.electionTimer = time.NewTimer(n.randomElectionTimeout())
	n.heartbeat = time.NewTicker(cfg.HeartbeatInterval)
	n.publishStatus()

	go n.run()

	n.logger.WithFields(logrus.Fields{
		"term":       n.currentTerm,
		"lastIndex":  log.LastIndex(),
		"snapshotAt": n.snapMeta.Index,
	}).Info("consensus node started")

	return n, nil
}

func (n *Node) restoreSnapshot() error {
	meta, body, ok, err := n.snaps.Open()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	defer body.Close()

	if err := n.sm.RecoverFromSnapshot(body); err != nil {
		return fmt.Errorf("%w: restore snapshot at index %d: %v", ErrIO, meta.Index, err)
	}
	n.snapMeta = meta
	n.commitIndex = meta.Index
	n.lastApplied = meta.Index
	return nil
}

// Stop shuts the node down and closes its stores. Pending proposals fail
// with ErrShutdown.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopc)
		<-n.donec
		if err := n.log.Close(); err != nil {
			n.logger.WithError(err).Warn("closing log store")
		}
		n.logger.Info("consensus node stopped")
	})
}

// --------------------------------------------------------------------------
// Public API
// --------------------------------------------------------------------------

// Propose replicates a command and applies it once committed. It returns the
// state machine's result on the leader. On a non-leader it fails fast with
// ErrNotLeader; if the context expires before a quorum acknowledged, it
// returns ErrNoQuorum. An ErrNoQuorum outcome is unknown, not rolled back:
// the entry may still commit later.
func (n *Node) Propose(ctx context.Context, cmd []byte) ([]byte, error) {
	return n.propose(ctx, EntryNormal, cmd)
}

// ProposeConfigChange replicates a membership change through the log, so the
// new configuration is agreed on like any other command.
func (n *Node) ProposeConfigChange(ctx context.Context, cc ConfigChange) error {
	_, err := n.propose(ctx, EntryConfigChange, cc.Serialize())
	return err
}

func (n *Node) propose(ctx context.Context, et EntryType, cmd []byte) ([]byte, error) {
	respc := make(chan result, 1)
	m := message{kind: msgPropose, entryType: et, command: cmd, respc: respc}

	select {
	case n.msgc <- m:
	case <-n.stopc:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNoQuorum, ctx.Err())
	}

	select {
	case r := <-respc:
		return r.data, r.err
	case <-n.stopc:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNoQuorum, ctx.Err())
	}
}

// Read executes a read-only query. ReadStaleOK answers from the local state
// machine without consulting the leader. ReadLeaderStrict answers on the
// leader only; note that without a leader lease a deposed leader that has
// not yet learned of its successor can briefly serve a stale strict read.
func (n *Node) Read(ctx context.Context, query []byte, c ReadConsistency) ([]byte, error) {
	if c == ReadStaleOK {
		return n.sm.Lookup(query)
	}

	respc := make(chan result, 1)
	m := message{kind: msgRead, query: query, respc: respc}

	select {
	case n.msgc <- m:
	case <-n.stopc:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-respc:
		return r.data, r.err
	case <-n.stopc:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns a copy of the node's current consensus state.
func (n *Node) Status() Status {
	n.statusMu.RLock()
	defer n.statusMu.RUnlock()

	s := n.status
	s.Peers = make(map[NodeID]string, len(n.status.Peers))
	for id, addr := range n.status.Peers {
		s.Peers[id] = addr
	}
	return s
}

// ---- Transport handlers ----

func (n *Node) HandleRequestVote(req *RequestVoteRequest) *RequestVoteResponse {
	rspc := make(chan *RequestVoteResponse, 1)
	select {
	case n.msgc <- message{kind: msgVoteRequest, voteReq: req, voteRspc: rspc}:
	case <-n.stopc:
		return &RequestVoteResponse{Term: req.Term, Granted: false}
	}
	select {
	case resp := <-rspc:
		return resp
	case <-n.stopc:
		return &RequestVoteResponse{Term: req.Term, Granted: false}
	}
}

func (n *Node) HandleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	rspc := make(chan *AppendEntriesResponse, 1)
	select {
	case n.msgc <- message{kind: msgAppendRequest, appendReq: req, appendRspc: rspc}:
	case <-n.stopc:
		return &AppendEntriesResponse{Term: req.Term, Success: false}
	}
	select {
	case resp := <-rspc:
		return resp
	case <-n.stopc:
		return &AppendEntriesResponse{Term: req.Term, Success: false}
	}
}

// --------------------------------------------------------------------------
// Event Loop
// --------------------------------------------------------------------------

func (n *Node) run() {
	defer close(n.donec)
	defer n.heartbeat.Stop()
	defer n.electionTimer.Stop()
	defer n.failAllWaiters(ErrShutdown)

	for {
		var hbc <-chan time.Time
		if n.role == Leader {
			hbc = n.heartbeat.C
		}

		select {
		case <-n.stopc:
			return
		case m := <-n.msgc:
			n.dispatch(m)
		case <-n.electionTimer.C:
			n.onElectionTimeout()
		case <-hbc:
			n.broadcastAppend()
		}
		n.publishStatus()
	}
}

func (n *Node) dispatch(m message) {
	switch m.kind {
	case msgVoteRequest:
		m.voteRspc <- n.onRequestVote(m.voteReq)
	case msgAppendRequest:
		m.appendRspc <- n.onAppendEntries(m.appendReq)
	case msgVoteResponse:
		n.onVoteResponse(m.from, m.sentTerm, m.voteResp)
	case msgAppendResponse:
		n.onAppendResponse(m.from, m.sentTerm, m.appResp)
	case msgPropose:
		n.onPropose(m)
	case msgRead:
		n.onRead(m)
	}
}

func (n *Node) publishStatus() {
	n.statusMu.Lock()
	defer n.statusMu.Unlock()

	peers := make(map[NodeID]string, len(n.peers))
	for id, addr := range n.peers {
		peers[id] = addr
	}
	n.status = Status{
		ID:          n.cfg.ID,
		Shard:       n.cfg.Shard,
		Role:        n.role,
		Term:        n.currentTerm,
		Leader:      n.leader,
		CommitIndex: n.commitIndex,
		LastApplied: n.lastApplied,
		FirstIndex:  n.log.FirstIndex(),
		LastIndex:   n.log.LastIndex(),
		Peers:       peers,
	}
}

// --------------------------------------------------------------------------
// Role Transitions
// --------------------------------------------------------------------------

func (n *Node) randomElectionTimeout() time.Duration {
	spread := int64(n.cfg.ElectionTimeoutMax - n.cfg.ElectionTimeoutMin)
	return n.cfg.ElectionTimeoutMin + time.Duration(rand.Int63n(spread))
}

func (n *Node) resetElectionTimer() {
	if !n.electionTimer.Stop() {
		select {
		case <-n.electionTimer.C:
		default:
		}
	}
	n.electionTimer.Reset(n.randomElectionTimeout())
}

// persistTermAndVote stores term and vote durably before any reply that
// depends on them leaves the node.
func (n *Node) persistTermAndVote(term uint64, vote NodeID) {
	if err := n.state.Set(term, vote); err != nil {
		n.fatal(err)
		return
	}
	n.currentTerm = term
	n.votedFor = vote
}

// stepDown moves to follower in the given term, dropping any leadership.
func (n *Node) stepDown(term uint64, leader NodeID) {
	wasLeader := n.role == Leader

	if term > n.currentTerm {
		n.persistTermAndVote(term, "")
	}
	n.role = Follower
	n.leader = leader
	n.resetElectionTimer()

	if wasLeader {
		n.logger.WithField("term", n.currentTerm).Info("stepping down from leadership")
		n.failAllWaiters(n.notLeaderError())
	}
}

func (n *Node) onElectionTimeout() {
	if n.role == Leader {
		return
	}
	if _, member := n.peers[n.cfg.ID]; !member {
		// removed from the cluster, stay quiet
		n.resetElectionTimer()
		return
	}

	n.mElections.Inc()
	n.role = Candidate
	n.leader = ""
	n.persistTermAndVote(n.currentTerm+1, n.cfg.ID)
	n.votes = map[NodeID]bool{n.cfg.ID: true}
	n.resetElectionTimer()

	n.logger.WithField("term", n.currentTerm).Info("starting election")

	if len(n.votes) >= n.quorum() {
		n.becomeLeader()
		return
	}

	req := &RequestVoteRequest{
		Term:         n.currentTerm,
		Candidate:    n.cfg.ID,
		LastLogIndex: n.lastLogIndex(),
		LastLogTerm:  n.lastLogTerm(),
	}
	for id := range n.peers {
		if id == n.cfg.ID {
			continue
		}
		go n.sendRequestVote(id, req)
	}
}

func (n *Node) sendRequestVote(target NodeID, req *RequestVoteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
	defer cancel()

	resp, err := n.trans.RequestVote(ctx, target, req)
	if err != nil {
		return // lost message, the election timer handles retries
	}
	select {
	case n.msgc <- message{kind: msgVoteResponse, from: target, sentTerm: req.Term, voteResp: resp}:
	case <-n.stopc:
	}
}

func (n *Node) onVoteResponse(from NodeID, sentTerm uint64, resp *RequestVoteResponse) {
	if resp.Term > n.currentTerm {
		n.stepDown(resp.Term, "")
		return
	}
	// discard replies from elections of a previous term
	if n.role != Candidate || sentTerm != n.currentTerm || !resp.Granted {
		return
	}

	n.votes[from] = true
	if len(n.votes) >= n.quorum() {
		n.becomeLeader()
	}
}

func (n *Node) becomeLeader() {
	n.role = Leader
	n.leader = n.cfg.ID
	n.nextIndex = make(map[NodeID]uint64, len(n.peers))
	n.matchIndex = make(map[NodeID]uint64, len(n.peers))
	for id := range n.peers {
		n.nextIndex[id] = n.lastLogIndex() + 1
		n.matchIndex[id] = 0
	}

	n.logger.WithField("term", n.currentTerm).Info("became leader")

	// A fresh leader may not commit entries from earlier terms by counting
	// replicas. Appending a no-op in the new term gives it an entry whose
	// commit pulls the whole prefix along.
	n.appendAsLeader(EntryNoop, nil)
	n.broadcastAppend()
}

func (n *Node) quorum() int {
	return len(n.peers)/2 + 1
}

func (n *Node) lastLogIndex() uint64 {
	if last := n.log.LastIndex(); last > 0 {
		return last
	}
	return n.snapMeta.Index
}

func (n *Node) lastLogTerm() uint64 {
	if n.log.LastIndex() > 0 {
		return n.log.LastTerm()
	}
	return n.snapMeta.Term
}

func (n *Node) notLeaderError() error {
	if n.leader == "" || n.leader == n.cfg.ID {
		return &LeaderHintError{}
	}
	return &LeaderHintError{Leader: n.leader, Addr: n.peers[n.leader]}
}

func (n *Node) fatal(err error) {
	n.logger.WithError(err).Error("fatal storage error, shutting down shard")
	go n.Stop()
}

// --------------------------------------------------------------------------
// Voting
// --------------------------------------------------------------------------

func (n *Node) onRequestVote(req *RequestVoteRequest) *RequestVoteResponse {
	if req.Term > n.currentTerm {
		n.stepDown(req.Term, "")
	}

	resp := &RequestVoteResponse{Term: n.currentTerm}
	if req.Term < n.currentTerm {
		return resp
	}

	// Grant only if the candidate's log is at least as complete as ours:
	// higher last term wins, equal terms compare by length. This is what
	// keeps committed entries on every electable node.
	upToDate := req.LastLogTerm > n.lastLogTerm() ||
		(req.LastLogTerm == n.lastLogTerm() && req.LastLogIndex >= n.lastLogIndex())

	if (n.votedFor == "" || n.votedFor == req.Candidate) && upToDate {
		n.persistTermAndVote(n.currentTerm, req.Candidate)
		n.resetElectionTimer()
		resp.Granted = true
	}
	return resp
}

// --------------------------------------------------------------------------
// Log Replication
// --------------------------------------------------------------------------

func (n *Node) onAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	resp := &AppendEntriesResponse{Term: n.currentTerm}
	if req.Term < n.currentTerm {
		return resp
	}

	// valid leader for this term
	if n.role != Follower || req.Term > n.currentTerm || n.leader != req.Leader {
		n.stepDown(req.Term, req.Leader)
	} else {
		n.resetElectionTimer()
	}
	resp.Term = n.currentTerm

	// consistency check: our log must contain the anchor entry
	if req.PrevLogIndex > n.lastLogIndex() {
		resp.ConflictIndex = n.lastLogIndex() + 1
		return resp
	}
	if req.PrevLogIndex > n.snapMeta.Index {
		term, err := n.log.Term(req.PrevLogIndex)
		if err != nil {
			n.fatal(err)
			return resp
		}
		if term != req.PrevLogTerm {
			resp.ConflictIndex = n.firstIndexOfTerm(term, req.PrevLogIndex)
			return resp
		}
	}

	if err := n.appendFromLeader(req.Entries); err != nil {
		n.fatal(err)
		return resp
	}

	resp.Success = true
	resp.MatchIndex = req.PrevLogIndex + uint64(len(req.Entries))
	if resp.MatchIndex < n.snapMeta.Index {
		resp.MatchIndex = n.snapMeta.Index
	}

	if req.LeaderCommit > n.commitIndex {
		n.commitIndex = min(req.LeaderCommit, n.lastLogIndex())
		n.applyCommitted()
	}
	return resp
}

// firstIndexOfTerm walks back to the first retained entry of the term at
// hint, so the leader can skip the whole diverging term in one step.
func (n *Node) firstIndexOfTerm(term uint64, hint uint64) uint64 {
	first := n.log.FirstIndex()
	idx := hint
	for idx > first {
		t, err := n.log.Term(idx - 1)
		if err != nil || t != term {
			break
		}
		idx--
	}
	return idx
}

// appendFromLeader merges the leader's entries into the local log. Entries
// already present with the same term are skipped; the first entry that
// disagrees truncates the local suffix before the remainder is appended.
func (n *Node) appendFromLeader(entries []LogEntry) error {
	for i := range entries {
		e := &entries[i]
		if e.Index <= n.snapMeta.Index {
			continue
		}
		if e.Index <= n.log.LastIndex() {
			local, err := n.log.Term(e.Index)
			if err == nil && local == e.Term {
				continue
			}
			if err != nil && !errors.Is(err, ErrCompacted) {
				return err
			}
			if e.Index <= n.commitIndex {
				return fmt.Errorf("%w: leader contradicts committed entry %d", ErrIO, e.Index)
			}
			if err := n.log.TruncateFrom(e.Index); err != nil {
				return err
			}
		}
		return n.log.Append(entries[i:]...)
	}
	return nil
}

// ---- Leader side ----

func (n *Node) appendAsLeader(et EntryType, cmd []byte) uint64 {
	index := n.lastLogIndex() + 1
	entry := LogEntry{Index: index, Term: n.currentTerm, Type: et, Command: cmd}
	if err := n.log.Append(entry); err != nil {
		n.fatal(err)
		return 0
	}
	n.matchIndex[n.cfg.ID] = index
	return index
}

func (n *Node) broadcastAppend() {
	if n.role != Leader {
		return
	}
	for id := range n.peers {
		if id == n.cfg.ID {
			continue
		}
		n.sendAppend(id)
	}
	// single-node cluster commits by itself
	n.advanceCommit()
}

func (n *Node) sendAppend(target NodeID) {
	next := n.nextIndex[target]
	if next == 0 {
		next = 1
	}

	if first := n.log.FirstIndex(); first > 0 && next < first {
		// the follower needs compacted entries; with the compaction
		// overhead this only happens to replicas that lagged by more
		// than the retained slack
		n.logger.WithFields(logrus.Fields{"peer": target, "next": next, "first": first}).
			Warn("follower lags behind compacted log")
		next = first
		n.nextIndex[target] = next
	}

	prevIndex := next - 1
	prevTerm := uint64(0)
	if prevIndex > 0 {
		if prevIndex == n.snapMeta.Index && prevIndex < n.log.FirstIndex() {
			prevTerm = n.snapMeta.Term
		} else {
			t, err := n.log.Term(prevIndex)
			if err != nil {
				n.fatal(err)
				return
			}
			prevTerm = t
		}
	}

	entries, err := n.log.Entries(next, n.log.LastIndex(), n.cfg.MaxEntriesPerRPC)
	if err != nil {
		n.fatal(err)
		return
	}

	req := &AppendEntriesRequest{
		Term:         n.currentTerm,
		Leader:       n.cfg.ID,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: n.commitIndex,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
		defer cancel()

		resp, err := n.trans.AppendEntries(ctx, target, req)
		if err != nil {
			return
		}
		select {
		case n.msgc <- message{kind: msgAppendResponse, from: target, sentTerm: req.Term, appResp: resp}:
		case <-n.stopc:
		}
	}()
}

func (n *Node) onAppendResponse(from NodeID, sentTerm uint64, resp *AppendEntriesResponse) {
	if resp.Term > n.currentTerm {
		n.stepDown(resp.Term, "")
		return
	}
	// discard replies to RPCs sent in an earlier term
	if n.role != Leader || sentTerm != n.currentTerm {
		return
	}

	if resp.Success {
		if resp.MatchIndex > n.matchIndex[from] {
			n.matchIndex[from] = resp.MatchIndex
		}
		n.nextIndex[from] = n.matchIndex[from] + 1
		n.advanceCommit()
		if n.nextIndex[from] <= n.log.LastIndex() {
			n.sendAppend(from)
		}
		return
	}

	// rejected: back off, guided by the follower's conflict hint
	next := n.nextIndex[from]
	if resp.ConflictIndex > 0 && resp.ConflictIndex < next {
		next = resp.ConflictIndex
	} else if next > 1 {
		next--
	}
	n.nextIndex[from] = next
	n.sendAppend(from)
}

// advanceCommit moves commitIndex to the highest majority-replicated index,
// but only if that entry carries the current term. Counting replicas of an
// older-term entry could commit something a later leader overwrites; such
// entries commit implicitly once a current-term entry above them does.
func (n *Node) advanceCommit() {
	for idx := n.lastLogIndex(); idx > n.commitIndex; idx-- {
		count := 0
		for id := range n.peers {
			if id == n.cfg.ID {
				if n.lastLogIndex() >= idx {
					count++
				}
			} else if n.matchIndex[id] >= idx {
				count++
			}
		}
		if count < n.quorum() {
			continue
		}

		term, err := n.log.Term(idx)
		if err != nil {
			if errors.Is(err, ErrCompacted) {
				return
			}
			n.fatal(err)
			return
		}
		if term == n.currentTerm {
			n.commitIndex = idx
			n.applyCommitted()
		}
		return
	}
}

// --------------------------------------------------------------------------
// Apply Path
// --------------------------------------------------------------------------

// applyCommitted feeds newly committed entries to the state machine in log
// order and resolves their waiting proposers.
func (n *Node) applyCommitted() {
	for n.lastApplied < n.commitIndex {
		idx := n.lastApplied + 1
		entry, err := n.log.Entry(idx)
		if err != nil {
			n.fatal(err)
			return
		}

		var res result
		switch entry.Type {
		case EntryNormal:
			res.data, res.err = n.sm.Apply(entry)
		case EntryConfigChange:
			res.err = n.applyConfigChange(entry)
		case EntryNoop:
			// nothing to apply
		}
		n.lastApplied = idx
		n.mApplied.Inc()

		if w, ok := n.waiters[idx]; ok {
			delete(n.waiters, idx)
			if entry.Term != w.term {
				// the slot was overwritten by another leader's entry
				w.respc <- result{err: n.notLeaderError()}
			} else {
				w.respc <- res
			}
		}
	}
	n.maybeSnapshot()
}

func (n *Node) applyConfigChange(entry LogEntry) error {
	var cc ConfigChange
	if err := cc.Deserialize(entry.Command); err != nil {
		return err
	}

	switch cc.Type {
	case AddNode:
		n.peers[cc.Node] = cc.Addr
		if n.role == Leader {
			if _, ok := n.nextIndex[cc.Node]; !ok {
				n.nextIndex[cc.Node] = n.lastLogIndex() + 1
				n.matchIndex[cc.Node] = 0
			}
		}
	case RemoveNode:
		delete(n.peers, cc.Node)
		delete(n.nextIndex, cc.Node)
		delete(n.matchIndex, cc.Node)
	}

	n.logger.WithFields(logrus.Fields{
		"change": cc.Type, "member": cc.Node, "members": len(n.peers),
	}).Info("membership changed")

	if n.cfg.OnMembershipChange != nil {
		peers := make(map[NodeID]string, len(n.peers))
		for id, addr := range n.peers {
			peers[id] = addr
		}
		n.cfg.OnMembershipChange(peers)
	}
	return nil
}

// maybeSnapshot persists the state machine once enough entries accumulated
// since the last snapshot, then compacts the log. CompactionOverhead applied
// entries stay in the log so slightly lagging followers catch up without a
// state transfer.
func (n *Node) maybeSnapshot() {
	if n.cfg.SnapshotEntries == 0 || n.lastApplied-n.snapMeta.Index < n.cfg.SnapshotEntries {
		return
	}

	term, err := n.log.Term(n.lastApplied)
	if err != nil {
		return
	}
	meta := SnapshotMeta{Index: n.lastApplied, Term: term}
	if err := n.snaps.Save(meta, n.sm.SaveSnapshot); err != nil {
		n.logger.WithError(err).Error("snapshot failed")
		return
	}
	n.snapMeta = meta
	n.mSnapshots.Inc()

	if meta.Index > n.cfg.CompactionOverhead {
		if err := n.log.Compact(meta.Index - n.cfg.CompactionOverhead); err != nil {
			n.logger.WithError(err).Warn("log compaction failed")
		}
	}

	n.logger.WithFields(logrus.Fields{"index": meta.Index, "term": meta.Term}).Info("snapshot taken")
}

// --------------------------------------------------------------------------
// Proposals and Reads
// --------------------------------------------------------------------------

func (n *Node) onPropose(m message) {
	n.mProposals.Inc()

	if n.role != Leader {
		m.respc <- result{err: n.notLeaderError()}
		return
	}

	index := n.appendAsLeader(m.entryType, m.command)
	if index == 0 {
		m.respc <- result{err: ErrIO}
		return
	}
	n.waiters[index] = &pendingProposal{term: n.currentTerm, respc: m.respc}
	n.broadcastAppend()
}

func (n *Node) onRead(m message) {
	if n.role != Leader {
		m.respc <- result{err: n.notLeaderError()}
		return
	}
	data, err := n.sm.Lookup(m.query)
	m.respc <- result{data: data, err: err}
}

func (n *Node) failAllWaiters(err error) {
	for idx, w := range n.waiters {
		delete(n.waiters, idx)
		w.respc <- result{err: err}
	}
}
