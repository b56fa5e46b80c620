package shard

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ValentinKolb/rkv/lib/db/util"
	"github.com/ValentinKolb/rkv/lib/raft"
)

// --------------------------------------------------------------------------
// Consistent Hash Ring
// --------------------------------------------------------------------------

// DefaultVirtualNodes is the number of points each member contributes to the
// ring. More points smooth the distribution at the cost of lookup table size.
const DefaultVirtualNodes = 150

// ringSeed is fixed so every node computes the identical ring for the same
// member set. Placement must never depend on which node evaluates it.
const ringSeed uint64 = 0x726b762d72696e67 // "rkv-ring"

// ringHash hashes a label to a ring position. FNV alone does not avalanche:
// vnode labels differ only in a trailing counter, which leaves the high bits
// identical and collapses a member's positions into one contiguous band. The
// finalizer (splitmix64) spreads that difference over all 64 bits.
func ringHash(s string) uint64 {
	h := util.HashString(s, ringSeed)
	h ^= h >> 30
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 27
	h *= 0x94d049bb133111eb
	h ^= h >> 31
	return h
}

type vnode struct {
	hash uint64
	node raft.NodeID
}

// Ring is a consistent hash ring over cluster members. Each member is
// inserted at VirtualNodes deterministic positions; a key is owned by the
// first member at or after the key's hash, wrapping around. Adding or
// removing one member only moves the keys adjacent to its positions, which
// bounds reassignment during membership changes.
//
// Ring is safe for concurrent use.
type Ring struct {
	mu           sync.RWMutex
	virtualNodes int
	vnodes       []vnode // sorted by (hash, node)
	members      map[raft.NodeID]struct{}
}

// NewRing creates an empty ring. virtualNodes <= 0 selects the default.
func NewRing(virtualNodes int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	return &Ring{
		virtualNodes: virtualNodes,
		members:      make(map[raft.NodeID]struct{}),
	}
}

// Add inserts a member. Adding an existing member is a no-op.
func (r *Ring) Add(node raft.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[node]; ok {
		return
	}
	r.members[node] = struct{}{}

	for i := 0; i < r.virtualNodes; i++ {
		h := ringHash(fmt.Sprintf("%s#%d", node, i))
		r.vnodes = append(r.vnodes, vnode{hash: h, node: node})
	}
	sort.Slice(r.vnodes, func(a, b int) bool {
		if r.vnodes[a].hash != r.vnodes[b].hash {
			return r.vnodes[a].hash < r.vnodes[b].hash
		}
		return r.vnodes[a].node < r.vnodes[b].node
	})
}

// Remove deletes a member and all its ring positions.
func (r *Ring) Remove(node raft.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[node]; !ok {
		return
	}
	delete(r.members, node)

	kept := r.vnodes[:0]
	for _, v := range r.vnodes {
		if v.node != node {
			kept = append(kept, v)
		}
	}
	r.vnodes = kept
}

// Members returns the current member set, sorted.
func (r *Ring) Members() []raft.NodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]raft.NodeID, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Size returns the number of members.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Lookup returns the member owning key, or "" on an empty ring.
func (r *Ring) Lookup(key string) raft.NodeID {
	owners := r.LookupN(key, 1)
	if len(owners) == 0 {
		return ""
	}
	return owners[0]
}

// LookupN returns up to n distinct members for key, walking clockwise from
// the key's position. The first entry is the primary owner, the rest are the
// successors used as replicas. Fewer members than n shortens the result.
func (r *Ring) LookupN(key string, n int) []raft.NodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.vnodes) == 0 || n <= 0 {
		return nil
	}
	if n > len(r.members) {
		n = len(r.members)
	}

	h := ringHash(key)
	start := sort.Search(len(r.vnodes), func(i int) bool { return r.vnodes[i].hash >= h })

	out := make([]raft.NodeID, 0, n)
	seen := make(map[raft.NodeID]struct{}, n)
	for i := 0; i < len(r.vnodes) && len(out) < n; i++ {
		v := r.vnodes[(start+i)%len(r.vnodes)]
		if _, dup := seen[v.node]; dup {
			continue
		}
		seen[v.node] = struct{}{}
		out = append(out, v.node)
	}
	return out
}
