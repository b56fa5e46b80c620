package shard

import (
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/rkv/lib/raft"
)

func TestMembershipJoinUpdatesRing(t *testing.T) {
	m := mapWith()
	var mu sync.Mutex
	added := make(map[raft.NodeID]string)
	ms := NewMembership(m, MembershipConfig{
		HeartbeatInterval: time.Hour,
		OnNodeAdded: func(id raft.NodeID, addr string) {
			mu.Lock()
			defer mu.Unlock()
			added[id] = addr
		},
	})
	defer ms.Stop()

	ms.Heartbeat("node-1", "10.0.0.1:7070")
	ms.Heartbeat("node-2", "10.0.0.2:7070")
	ms.Heartbeat("node-1", "10.0.0.1:7070") // repeat must not re-add

	if m.Ring().Size() != 2 {
		t.Fatalf("expected 2 ring members, got %d", m.Ring().Size())
	}
	mu.Lock()
	if len(added) != 2 || added["node-1"] != "10.0.0.1:7070" {
		t.Errorf("unexpected join callbacks: %v", added)
	}
	mu.Unlock()

	if addr, ok := ms.Addr("node-2"); !ok || addr != "10.0.0.2:7070" {
		t.Errorf("expected address of node-2, got %q, %v", addr, ok)
	}
}

func TestMembershipExplicitRemove(t *testing.T) {
	m := mapWith()
	var removed []raft.NodeID
	ms := NewMembership(m, MembershipConfig{
		HeartbeatInterval: time.Hour,
		OnNodeRemoved:     func(id raft.NodeID) { removed = append(removed, id) },
	})
	defer ms.Stop()

	ms.Heartbeat("node-1", "a")
	ms.Heartbeat("node-2", "b")
	ms.Remove("node-1")
	ms.Remove("node-1") // idempotent

	if m.Ring().Size() != 1 {
		t.Fatalf("expected 1 ring member, got %d", m.Ring().Size())
	}
	if len(removed) != 1 || removed[0] != "node-1" {
		t.Errorf("unexpected remove callbacks: %v", removed)
	}
}

func TestMembershipDetectsDeadMembers(t *testing.T) {
	m := mapWith()
	removedc := make(chan raft.NodeID, 4)
	ms := NewMembership(m, MembershipConfig{
		HeartbeatInterval: 20 * time.Millisecond,
		OnNodeRemoved:     func(id raft.NodeID) { removedc <- id },
	})
	defer ms.Stop()

	ms.Heartbeat("silent", "a")
	ms.Heartbeat("chatty", "b")

	// keep one member alive past the other's deadline
	deadline := time.After(2 * time.Second)
	for {
		select {
		case id := <-removedc:
			if id != "silent" {
				t.Fatalf("live member %s was declared dead", id)
			}
			if _, ok := ms.Addr("chatty"); !ok {
				t.Fatal("heartbeating member was dropped")
			}
			return
		case <-time.After(10 * time.Millisecond):
			ms.Heartbeat("chatty", "b")
		case <-deadline:
			t.Fatal("silent member was never declared dead")
		}
	}
}
