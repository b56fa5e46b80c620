package shard

import (
	"github.com/ValentinKolb/rkv/lib/raft"
)

// --------------------------------------------------------------------------
// Shard Descriptor
// --------------------------------------------------------------------------

// Descriptor is the routing view of one shard: its replica set derived from
// the ring and the last leader this process has heard of.
type Descriptor struct {
	Shard    ShardID
	Replicas []raft.NodeID

	// CurrentLeader is empty until a leader has been observed.
	CurrentLeader raft.NodeID
}

// SetLeader records the observed leader of a shard. Callers update the
// cache when a request is rejected with a leader hint or when a local
// consensus group reports its leader.
func (m *Map) SetLeader(id ShardID, leader raft.NodeID) {
	if leader == "" {
		m.ForgetLeader(id)
		return
	}
	m.leaders.Store(id, leader)
}

// ForgetLeader drops the cached leader of a shard, forcing rediscovery.
func (m *Map) ForgetLeader(id ShardID) {
	m.leaders.Delete(id)
}

// Leader returns the cached leader of a shard. The second return value is
// false while no leader has been observed.
func (m *Map) Leader(id ShardID) (raft.NodeID, bool) {
	return m.leaders.Load(id)
}

// Descriptor returns the routing view of one shard.
func (m *Map) Descriptor(id ShardID) Descriptor {
	leader, _ := m.leaders.Load(id)
	return Descriptor{
		Shard:         id,
		Replicas:      m.Replicas(id),
		CurrentLeader: leader,
	}
}

// DescriptorForKey returns the routing view of the shard owning a key.
func (m *Map) DescriptorForKey(key string) Descriptor {
	return m.Descriptor(m.ShardForKey(key))
}
