package shard

import (
	"fmt"

	"github.com/ValentinKolb/rkv/lib/raft"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Shard Map
// --------------------------------------------------------------------------

const (
	// DefaultNumShards is the fixed number of replication groups the key
	// space is split into. It never changes at runtime; rebalancing moves
	// whole shards between members, never re-splits them.
	DefaultNumShards = 32

	// DefaultReplicas is the replication factor per shard.
	DefaultReplicas = 3
)

// ShardID identifies one replication group.
type ShardID uint32

// String returns the canonical shard name used for ring placement, data
// directories and metric labels.
func (s ShardID) String() string {
	return fmt.Sprintf("shard-%d", uint32(s))
}

// Map assigns keys to shards and shards to members. The key to shard
// mapping is a pure function of the key; the shard to member mapping walks
// the consistent hash ring, so it only changes where membership changed.
type Map struct {
	ring      *Ring
	numShards uint32
	replicas  int
	leaders   *xsync.MapOf[ShardID, raft.NodeID]
}

// NewMap creates a shard map over its own ring. Zero values select defaults.
func NewMap(numShards uint32, replicas, virtualNodes int) *Map {
	if numShards == 0 {
		numShards = DefaultNumShards
	}
	if replicas <= 0 {
		replicas = DefaultReplicas
	}
	return &Map{
		ring:      NewRing(virtualNodes),
		numShards: numShards,
		replicas:  replicas,
		leaders:   xsync.NewMapOf[ShardID, raft.NodeID](),
	}
}

// Ring exposes the underlying member ring.
func (m *Map) Ring() *Ring {
	return m.ring
}

// NumShards returns the fixed shard count.
func (m *Map) NumShards() uint32 {
	return m.numShards
}

// ShardForKey maps a key to its shard. Every node computes the same shard
// for the same key regardless of membership.
func (m *Map) ShardForKey(key string) ShardID {
	return ShardID(ringHash(key) % uint64(m.numShards))
}

// Replicas returns the members responsible for a shard, primary first.
func (m *Map) Replicas(id ShardID) []raft.NodeID {
	return m.ring.LookupN(id.String(), m.replicas)
}

// ReplicasForKey is shorthand for Replicas(ShardForKey(key)).
func (m *Map) ReplicasForKey(key string) []raft.NodeID {
	return m.Replicas(m.ShardForKey(key))
}

// Assignments returns the complete shard to replica-set table.
func (m *Map) Assignments() map[ShardID][]raft.NodeID {
	out := make(map[ShardID][]raft.NodeID, m.numShards)
	for id := uint32(0); id < m.numShards; id++ {
		out[ShardID(id)] = m.Replicas(ShardID(id))
	}
	return out
}

// ShardsFor returns the shards a member participates in.
func (m *Map) ShardsFor(node raft.NodeID) []ShardID {
	var out []ShardID
	for id := uint32(0); id < m.numShards; id++ {
		for _, n := range m.Replicas(ShardID(id)) {
			if n == node {
				out = append(out, ShardID(id))
				break
			}
		}
	}
	return out
}

// --------------------------------------------------------------------------
// Rebalancing
// --------------------------------------------------------------------------

// Migration describes one shard whose replica set changed across a
// membership change.
type Migration struct {
	Shard  ShardID
	Before []raft.NodeID
	After  []raft.NodeID
}

// Diff compares two assignment tables and returns the shards that moved.
// Membership changes reassign only the shards adjacent to the changed
// member's ring positions, so the result is a small fraction of the table.
func Diff(before, after map[ShardID][]raft.NodeID) []Migration {
	var out []Migration
	for id, prev := range before {
		next := after[id]
		if !sameReplicas(prev, next) {
			out = append(out, Migration{Shard: id, Before: prev, After: next})
		}
	}
	return out
}

func sameReplicas(a, b []raft.NodeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
