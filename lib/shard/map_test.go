package shard

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/rkv/lib/raft"
)

func mapWith(nodes ...raft.NodeID) *Map {
	m := NewMap(0, 0, 0)
	for _, n := range nodes {
		m.Ring().Add(n)
	}
	return m
}

func TestShardForKeyIsStable(t *testing.T) {
	small := mapWith("node-1")
	large := mapWith("node-1", "node-2", "node-3", "node-4", "node-5")

	// the key to shard mapping must not depend on membership
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%d", i)
		if small.ShardForKey(key) != large.ShardForKey(key) {
			t.Fatalf("shard of %q changed with membership", key)
		}
	}
}

func TestShardForKeyInRange(t *testing.T) {
	m := mapWith("node-1")
	for i := 0; i < 500; i++ {
		if s := m.ShardForKey(fmt.Sprintf("key-%d", i)); uint32(s) >= m.NumShards() {
			t.Fatalf("shard %d out of range", s)
		}
	}
}

func TestReplicasDistinctAndComplete(t *testing.T) {
	m := mapWith("node-1", "node-2", "node-3", "node-4", "node-5")

	for id, replicas := range m.Assignments() {
		if len(replicas) != DefaultReplicas {
			t.Fatalf("shard %s has %d replicas", id, len(replicas))
		}
		seen := make(map[raft.NodeID]bool)
		for _, r := range replicas {
			if seen[r] {
				t.Fatalf("shard %s has duplicate replica %s", id, r)
			}
			seen[r] = true
		}
	}
}

func TestShardsForCoversAllShards(t *testing.T) {
	m := mapWith("node-1", "node-2", "node-3")

	covered := make(map[ShardID]int)
	for _, n := range []raft.NodeID{"node-1", "node-2", "node-3"} {
		for _, s := range m.ShardsFor(n) {
			covered[s]++
		}
	}
	// with 3 members and replication factor 3 every member holds every shard
	for id := uint32(0); id < m.NumShards(); id++ {
		if covered[ShardID(id)] != 3 {
			t.Errorf("shard %d covered %d times, expected 3", id, covered[ShardID(id)])
		}
	}
}

func TestDiffFindsOnlyMovedShards(t *testing.T) {
	before := mapWith("node-1", "node-2", "node-3", "node-4")
	beforeTable := before.Assignments()

	after := mapWith("node-1", "node-2", "node-3", "node-4")
	after.Ring().Add("node-5")
	afterTable := after.Assignments()

	migrations := Diff(beforeTable, afterTable)
	if len(migrations) == 0 {
		t.Fatal("expected some shards to move to the new member")
	}
	if len(migrations) == int(before.NumShards()) {
		t.Fatal("every shard moved, reassignment is not bounded")
	}
	for _, mig := range migrations {
		found := false
		for _, n := range mig.After {
			if n == "node-5" {
				found = true
			}
		}
		if !found {
			t.Errorf("shard %s moved without involving the new member: %v -> %v",
				mig.Shard, mig.Before, mig.After)
		}
	}

	// identical membership must produce an empty diff
	if migs := Diff(beforeTable, before.Assignments()); len(migs) != 0 {
		t.Errorf("expected no migrations for identical membership, got %d", len(migs))
	}
}
