package raft

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Test State Machine
// --------------------------------------------------------------------------

// kvSM is a minimal key-value state machine. Commands are "key=value"
// strings; replayed entries at or below the recorded write index are
// ignored, so reapplying a committed prefix after a restart is a no-op.
type kvSM struct {
	mu       sync.Mutex
	data     map[string]string
	writeIdx uint64
}

func newKvSM() *kvSM {
	return &kvSM{data: make(map[string]string)}
}

func (s *kvSM) Apply(entry LogEntry) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Index <= s.writeIdx {
		return nil, nil
	}
	key, value, ok := strings.Cut(string(entry.Command), "=")
	if !ok {
		return nil, fmt.Errorf("malformed command %q", entry.Command)
	}
	s.data[key] = value
	s.writeIdx = entry.Index
	return []byte(value), nil
}

func (s *kvSM) Lookup(query []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[string(query)]; ok {
		return []byte(v), nil
	}
	return nil, nil
}

func (s *kvSM) SaveSnapshot(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gob.NewEncoder(w).Encode(struct {
		Data     map[string]string
		WriteIdx uint64
	}{s.data, s.writeIdx})
}

func (s *kvSM) RecoverFromSnapshot(r io.Reader) error {
	var snap struct {
		Data     map[string]string
		WriteIdx uint64
	}
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = snap.Data
	s.writeIdx = snap.WriteIdx
	return nil
}

func (s *kvSM) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// --------------------------------------------------------------------------
// Cluster Harness
// --------------------------------------------------------------------------

type testCluster struct {
	t     *testing.T
	net   *InprocNetwork
	peers map[NodeID]string

	mu    sync.Mutex
	nodes map[NodeID]*Node
	sms   map[NodeID]*kvSM
	dirs  map[NodeID]string

	snapshotEntries    uint64
	compactionOverhead uint64
}

func newTestCluster(t *testing.T, size int) *testCluster {
	t.Helper()
	c := &testCluster{
		t:     t,
		net:   NewInprocNetwork(),
		peers: make(map[NodeID]string, size),
		nodes: make(map[NodeID]*Node, size),
		sms:   make(map[NodeID]*kvSM, size),
		dirs:  make(map[NodeID]string, size),
	}
	for i := 1; i <= size; i++ {
		id := NodeID(fmt.Sprintf("node-%d", i))
		c.peers[id] = "inproc://" + string(id)
		c.dirs[id] = t.TempDir()
	}
	for id := range c.peers {
		c.start(id)
	}
	t.Cleanup(c.stopAll)
	return c
}

func (c *testCluster) config(id NodeID) Config {
	peers := make(map[NodeID]string, len(c.peers))
	for p, addr := range c.peers {
		peers[p] = addr
	}
	return Config{
		ID:                 id,
		Shard:              "test",
		Peers:              peers,
		DataDir:            c.dirs[id],
		ElectionTimeoutMin: 60 * time.Millisecond,
		ElectionTimeoutMax: 120 * time.Millisecond,
		HeartbeatInterval:  20 * time.Millisecond,
		RPCTimeout:         50 * time.Millisecond,
		SnapshotEntries:    c.snapshotEntries,
		CompactionOverhead: c.compactionOverhead,
	}
}

func (c *testCluster) start(id NodeID) {
	c.t.Helper()
	sm := newKvSM()

	node, err := NewNode(c.config(id), sm, c.net.Transport(id))
	if err != nil {
		c.t.Fatalf("start %s: %v", id, err)
	}
	c.net.Register(id, node)

	c.mu.Lock()
	c.nodes[id] = node
	c.sms[id] = sm
	c.mu.Unlock()
}

func (c *testCluster) stop(id NodeID) {
	c.mu.Lock()
	node := c.nodes[id]
	delete(c.nodes, id)
	delete(c.sms, id)
	c.mu.Unlock()

	if node != nil {
		c.net.Deregister(id)
		node.Stop()
	}
}

func (c *testCluster) stopAll() {
	c.mu.Lock()
	ids := make([]NodeID, 0, len(c.nodes))
	for id := range c.nodes {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.stop(id)
	}
}

func (c *testCluster) node(id NodeID) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[id]
}

func (c *testCluster) sm(id NodeID) *kvSM {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sms[id]
}

func (c *testCluster) waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// waitForLeader blocks until one running node is leader and a majority of
// the running nodes follows it, then returns its id.
func (c *testCluster) waitForLeader() NodeID {
	c.t.Helper()

	var leader NodeID
	ok := c.waitUntil(5*time.Second, func() bool {
		c.mu.Lock()
		nodes := make([]*Node, 0, len(c.nodes))
		for _, n := range c.nodes {
			nodes = append(nodes, n)
		}
		c.mu.Unlock()

		followers := make(map[NodeID]int)
		leader = ""
		for _, n := range nodes {
			st := n.Status()
			if st.Role == Leader {
				leader = st.ID
			}
			if st.Leader != "" {
				followers[st.Leader]++
			}
		}
		return leader != "" && followers[leader] > len(nodes)/2
	})
	if !ok {
		c.t.Fatal("no leader elected")
	}
	return leader
}

func (c *testCluster) propose(id NodeID, key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.node(id).Propose(ctx, []byte(key+"="+value))
	return err
}

// mustPropose retries through leadership changes until the write commits.
func (c *testCluster) mustPropose(key, value string) {
	c.t.Helper()
	ok := c.waitUntil(5*time.Second, func() bool {
		leader := c.waitForLeader()
		return c.propose(leader, key, value) == nil
	})
	if !ok {
		c.t.Fatalf("could not commit %s=%s", key, value)
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestSingleLeaderPerTerm(t *testing.T) {
	c := newTestCluster(t, 3)
	c.waitForLeader()

	// no two running nodes may claim leadership of the same term
	leadersByTerm := make(map[uint64]NodeID)
	for i := 0; i < 20; i++ {
		for id := range c.peers {
			n := c.node(id)
			if n == nil {
				continue
			}
			st := n.Status()
			if st.Role != Leader {
				continue
			}
			if prev, ok := leadersByTerm[st.Term]; ok && prev != st.ID {
				t.Fatalf("two leaders in term %d: %s and %s", st.Term, prev, st.ID)
			}
			leadersByTerm[st.Term] = st.ID
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProposeReplicatesToAll(t *testing.T) {
	c := newTestCluster(t, 3)
	leader := c.waitForLeader()

	if err := c.propose(leader, "alpha", "1"); err != nil {
		t.Fatalf("propose: %v", err)
	}

	for id := range c.peers {
		id := id
		ok := c.waitUntil(2*time.Second, func() bool {
			v, ok := c.sm(id).get("alpha")
			return ok && v == "1"
		})
		if !ok {
			t.Errorf("entry did not reach %s", id)
		}
	}
}

func TestProposeOnFollowerFailsFast(t *testing.T) {
	c := newTestCluster(t, 3)
	leader := c.waitForLeader()

	for id := range c.peers {
		if id == leader {
			continue
		}
		err := c.propose(id, "x", "y")
		if !errors.Is(err, ErrNotLeader) {
			t.Fatalf("expected ErrNotLeader on %s, got %v", id, err)
		}
		var hint *LeaderHintError
		if errors.As(err, &hint) && hint.Leader != "" && hint.Leader != leader {
			t.Errorf("leader hint points at %s, expected %s", hint.Leader, leader)
		}
		break
	}
}

func TestLeaderFailover(t *testing.T) {
	c := newTestCluster(t, 3)
	leader := c.waitForLeader()

	if err := c.propose(leader, "persist", "me"); err != nil {
		t.Fatalf("propose: %v", err)
	}

	c.stop(leader)
	next := c.waitForLeader()
	if next == leader {
		t.Fatalf("stopped node %s still reported as leader", leader)
	}

	// the committed entry must survive the failover
	v, err := c.node(next).Read(context.Background(), []byte("persist"), ReadLeaderStrict)
	if err != nil {
		t.Fatalf("read on new leader: %v", err)
	}
	if string(v) != "me" {
		t.Errorf("committed entry lost across failover: got %q", v)
	}

	// and the new leader must accept writes
	if err := c.propose(next, "after", "failover"); err != nil {
		t.Fatalf("propose on new leader: %v", err)
	}
}

func TestMinorityPartitionCannotCommit(t *testing.T) {
	c := newTestCluster(t, 3)
	leader := c.waitForLeader()

	c.net.Isolate(leader)

	// the isolated leader cannot reach a quorum
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := c.node(leader).Propose(ctx, []byte("lost=write"))
	if !errors.Is(err, ErrNoQuorum) && !errors.Is(err, ErrNotLeader) {
		t.Fatalf("expected ErrNoQuorum or ErrNotLeader in minority, got %v", err)
	}

	// the majority side elects a new leader and keeps committing
	var majorityLeader NodeID
	ok := c.waitUntil(5*time.Second, func() bool {
		for id := range c.peers {
			if id == leader {
				continue
			}
			if st := c.node(id).Status(); st.Role == Leader {
				majorityLeader = id
				return true
			}
		}
		return false
	})
	if !ok {
		t.Fatal("majority did not elect a leader")
	}
	if err := c.propose(majorityLeader, "majority", "wins"); err != nil {
		t.Fatalf("majority propose: %v", err)
	}

	// after healing, the old leader adopts the majority's log
	c.net.Rejoin(leader)
	okHealed := c.waitUntil(5*time.Second, func() bool {
		v, ok := c.sm(leader).get("majority")
		return ok && v == "wins"
	})
	if !okHealed {
		t.Error("healed node did not converge to the majority log")
	}
	if _, ok := c.sm(leader).get("lost"); ok {
		t.Error("unreplicated minority write leaked into the state machine")
	}
}

func TestCommitIndexMonotonic(t *testing.T) {
	c := newTestCluster(t, 3)
	leader := c.waitForLeader()

	high := make(map[NodeID]uint64)
	check := func() {
		for id := range c.peers {
			n := c.node(id)
			if n == nil {
				continue
			}
			st := n.Status()
			if st.CommitIndex < high[id] {
				t.Fatalf("commit index on %s went backwards: %d -> %d", id, high[id], st.CommitIndex)
			}
			high[id] = st.CommitIndex
		}
	}

	for i := 0; i < 5; i++ {
		if err := c.propose(leader, fmt.Sprintf("k%d", i), "v"); err != nil {
			t.Fatalf("propose: %v", err)
		}
		check()
	}

	c.stop(leader)
	c.waitForLeader()
	for i := 0; i < 20; i++ {
		check()
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCrashRestartReplay(t *testing.T) {
	c := newTestCluster(t, 1)
	c.waitForLeader()

	for i := 0; i < 10; i++ {
		c.mustPropose(fmt.Sprintf("key%d", i), fmt.Sprintf("v%d", i))
	}

	id := NodeID("node-1")
	c.stop(id)
	c.start(id)
	c.waitForLeader()

	// the rebuilt state machine must contain every acknowledged write
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("key%d", i)
		ok := c.waitUntil(3*time.Second, func() bool {
			v, ok := c.sm(id).get(key)
			return ok && v == fmt.Sprintf("v%d", i)
		})
		if !ok {
			t.Fatalf("write %s lost across restart", key)
		}
	}
}

func TestSnapshotAndCompaction(t *testing.T) {
	c := &testCluster{
		t:                  t,
		net:                NewInprocNetwork(),
		peers:              map[NodeID]string{"node-1": "inproc://node-1"},
		nodes:              make(map[NodeID]*Node),
		sms:                make(map[NodeID]*kvSM),
		dirs:               map[NodeID]string{"node-1": t.TempDir()},
		snapshotEntries:    10,
		compactionOverhead: 5,
	}
	c.start("node-1")
	t.Cleanup(c.stopAll)
	c.waitForLeader()

	for i := 0; i < 30; i++ {
		c.mustPropose(fmt.Sprintf("key%d", i), "v")
	}

	// the log prefix must be compacted away once snapshots exist
	ok := c.waitUntil(3*time.Second, func() bool {
		return c.node("node-1").Status().FirstIndex > 1
	})
	if !ok {
		t.Fatal("log was never compacted")
	}

	// a restart must restore from snapshot plus retained log suffix
	c.stop("node-1")
	c.start("node-1")
	c.waitForLeader()

	for i := 0; i < 30; i++ {
		key := fmt.Sprintf("key%d", i)
		ok := c.waitUntil(3*time.Second, func() bool {
			_, ok := c.sm("node-1").get(key)
			return ok
		})
		if !ok {
			t.Fatalf("write %s lost across snapshot restart", key)
		}
	}
}

func TestStaleReadServesLocally(t *testing.T) {
	c := newTestCluster(t, 3)
	leader := c.waitForLeader()

	if err := c.propose(leader, "stale", "ok"); err != nil {
		t.Fatalf("propose: %v", err)
	}

	for id := range c.peers {
		id := id
		ok := c.waitUntil(2*time.Second, func() bool {
			v, err := c.node(id).Read(context.Background(), []byte("stale"), ReadStaleOK)
			return err == nil && string(v) == "ok"
		})
		if !ok {
			t.Errorf("stale read on %s never saw the committed value", id)
		}

		// strict reads stay leader-only
		if id != leader {
			_, err := c.node(id).Read(context.Background(), []byte("stale"), ReadLeaderStrict)
			if !errors.Is(err, ErrNotLeader) {
				t.Errorf("expected ErrNotLeader for strict read on %s, got %v", id, err)
			}
		}
	}
}

func TestMembershipChange(t *testing.T) {
	c := newTestCluster(t, 3)
	leader := c.waitForLeader()

	var gone NodeID
	for id := range c.peers {
		if id != leader {
			gone = id
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.node(leader).ProposeConfigChange(ctx, ConfigChange{Type: RemoveNode, Node: gone})
	if err != nil {
		t.Fatalf("propose config change: %v", err)
	}

	ok := c.waitUntil(2*time.Second, func() bool {
		st := c.node(leader).Status()
		_, present := st.Peers[gone]
		return !present && len(st.Peers) == 2
	})
	if !ok {
		t.Fatal("membership change was not applied on the leader")
	}

	// the two remaining nodes still form a quorum
	if err := c.propose(leader, "after", "remove"); err != nil {
		t.Fatalf("propose after removal: %v", err)
	}
}

func TestConfigChangeSerialization(t *testing.T) {
	in := ConfigChange{Type: AddNode, Node: "node-9", Addr: "10.0.0.9:7070"}
	var out ConfigChange
	if err := out.Deserialize(in.Serialize()); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if out != in {
		t.Errorf("roundtrip mismatch: %+v != %+v", out, in)
	}
}

func TestLogEntrySerialization(t *testing.T) {
	in := LogEntry{Index: 12, Term: 4, Type: EntryConfigChange, Command: []byte("payload")}
	var out LogEntry
	if err := out.Deserialize(12, in.Serialize()); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if out.Index != in.Index || out.Term != in.Term || out.Type != in.Type ||
		!bytes.Equal(out.Command, in.Command) {
		t.Errorf("roundtrip mismatch: %+v != %+v", out, in)
	}

	empty := LogEntry{Index: 1, Term: 1, Type: EntryNoop}
	var out2 LogEntry
	if err := out2.Deserialize(1, empty.Serialize()); err != nil {
		t.Fatalf("deserialize empty command: %v", err)
	}
	if out2.Command != nil {
		t.Errorf("expected nil command, got %v", out2.Command)
	}
}
