package shard

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"

	"github.com/ValentinKolb/rkv/lib/raft"
)

// --------------------------------------------------------------------------
// Membership Tracking
// --------------------------------------------------------------------------

// DefaultHeartbeatInterval is the expected gap between member heartbeats.
// A member missing three consecutive heartbeats is declared dead and taken
// off the ring.
const DefaultHeartbeatInterval = 2 * time.Second

const missedHeartbeatsUntilDead = 3

// MembershipConfig configures the health monitor.
type MembershipConfig struct {
	// HeartbeatInterval is the expected heartbeat cadence. Defaults to
	// DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// OnNodeAdded is invoked when a previously unknown member heartbeats.
	OnNodeAdded func(id raft.NodeID, addr string)

	// OnNodeRemoved is invoked when a member is removed, either explicitly
	// or by the health monitor.
	OnNodeRemoved func(id raft.NodeID)
}

type memberState struct {
	addr     string
	lastSeen time.Time
}

// Membership tracks live cluster members by heartbeat and keeps the shard
// map's ring in sync with them. Placement therefore reacts to both explicit
// joins/leaves and silent failures.
type Membership struct {
	cfg MembershipConfig
	m   *Map

	members *xsync.MapOf[raft.NodeID, *memberState]
	logger  *logrus.Entry

	stopc    chan struct{}
	donec    chan struct{}
	stopOnce sync.Once
}

// NewMembership creates a monitor bound to the given shard map and starts
// its background health check.
func NewMembership(m *Map, cfg MembershipConfig) *Membership {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	ms := &Membership{
		cfg:     cfg,
		m:       m,
		members: xsync.NewMapOf[raft.NodeID, *memberState](),
		logger:  logrus.WithField("component", "membership"),
		stopc:   make(chan struct{}),
		donec:   make(chan struct{}),
	}
	go ms.monitor()
	return ms
}

// Heartbeat records a sign of life from a member. The first heartbeat of an
// unknown member joins it to the ring.
func (ms *Membership) Heartbeat(id raft.NodeID, addr string) {
	now := time.Now()
	_, existed := ms.members.LoadOrCompute(id, func() *memberState {
		return &memberState{addr: addr, lastSeen: now}
	})
	if existed {
		ms.members.Store(id, &memberState{addr: addr, lastSeen: now})
		return
	}

	ms.m.Ring().Add(id)
	ms.logger.WithFields(logrus.Fields{"member": id, "addr": addr}).Info("member joined")
	if ms.cfg.OnNodeAdded != nil {
		ms.cfg.OnNodeAdded(id, addr)
	}
}

// Remove takes a member off the ring explicitly.
func (ms *Membership) Remove(id raft.NodeID) {
	if _, ok := ms.members.LoadAndDelete(id); !ok {
		return
	}
	ms.m.Ring().Remove(id)
	ms.logger.WithField("member", id).Info("member removed")
	if ms.cfg.OnNodeRemoved != nil {
		ms.cfg.OnNodeRemoved(id)
	}
}

// Addr returns the last advertised address of a member.
func (ms *Membership) Addr(id raft.NodeID) (string, bool) {
	st, ok := ms.members.Load(id)
	if !ok {
		return "", false
	}
	return st.addr, true
}

// Stop terminates the health monitor. Members stay on the ring.
func (ms *Membership) Stop() {
	ms.stopOnce.Do(func() {
		close(ms.stopc)
		<-ms.donec
	})
}

func (ms *Membership) monitor() {
	defer close(ms.donec)

	ticker := time.NewTicker(ms.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ms.stopc:
			return
		case now := <-ticker.C:
			deadline := now.Add(-missedHeartbeatsUntilDead * ms.cfg.HeartbeatInterval)
			var dead []raft.NodeID
			ms.members.Range(func(id raft.NodeID, st *memberState) bool {
				if st.lastSeen.Before(deadline) {
					dead = append(dead, id)
				}
				return true
			})
			for _, id := range dead {
				ms.logger.WithField("member", id).Warn("member missed heartbeats, declaring dead")
				ms.Remove(id)
			}
		}
	}
}
