package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/rkv/lib/raft"
)

// --------------------------------------------------------------------------
// helper functions to interface with the consensus layer (for the server util)
// --------------------------------------------------------------------------

// The consensus layer uses RTT (Round Trip Time) to determine the timing of
// elections and heartbeats. These default factors are selected according to
// the RAFT Paper.
const (
	electionMinRTTFactor = 10
	electionMaxRTTFactor = 20
	heartbeatRTTFactor   = 2
)

// ToConsensusConfig converts the ServerConfig to a raft.Config for one shard
func (c *ServerConfig) ToConsensusConfig(shard string) raft.Config {
	rtt := time.Duration(c.RTTMillisecond) * time.Millisecond

	peers := make(map[raft.NodeID]string, len(c.ClusterMembers))
	for id, addr := range c.ClusterMembers {
		peers[raft.NodeID(id)] = addr
	}

	return raft.Config{
		ID:                 raft.NodeID(c.NodeID),
		Shard:              shard,
		Peers:              peers,
		DataDir:            c.DataDir,
		ElectionTimeoutMin: rtt * electionMinRTTFactor,
		ElectionTimeoutMax: rtt * electionMaxRTTFactor,
		HeartbeatInterval:  rtt * heartbeatRTTFactor,
		RPCTimeout:         rtt * electionMinRTTFactor,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
	}
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for a storage node.
type ServerConfig struct {
	// Node identity
	NodeID         string
	ClusterMembers map[string]string

	// Shard map parameters
	NumShards int
	Replicas  int

	// Consensus parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string

	// Storage engine for the replicated state machines
	Engine string

	// remote kvStore parameters
	TimeoutSecond int64

	// RPC api settings
	Endpoint string

	// Logging configuration
	LogLevel string
}

// IsSingleNode checks if the configuration describes a single node cluster
func (c *ServerConfig) IsSingleNode() bool {
	return len(c.ClusterMembers) <= 1
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Node Identity
	addSection("Node Identity")
	addField("RAFT Address", c.ClusterMembers[c.NodeID])
	addField("Node ID", c.NodeID)

	// Shard map
	addSection("Shard Map")
	addField("Shards", strconv.Itoa(c.NumShards))
	addField("Replicas", strconv.Itoa(c.Replicas))

	// RAFT parameters
	addSection("RAFT Parameters")
	addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
	addField("Election Timeout (ms)", fmt.Sprintf("%d-%d", c.RTTMillisecond*electionMinRTTFactor, c.RTTMillisecond*electionMaxRTTFactor))
	addField("Heartbeat (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
	addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
	addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

	// Storage
	addSection("Storage")
	addField("Data Directory", c.DataDir)
	addField("Engine", c.Engine)

	// Cluster configuration
	addSection("Cluster")
	sb.WriteString("  Initial Cluster Members:\n")

	// Sort keys for consistent output
	var keys []string
	for k := range c.ClusterMembers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("    Node %s: %s\n", k, c.ClusterMembers[k]))
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int

	// NumShards must match the server's shard map for key routing.
	// A value of zero means the client talks to a single shard (shard 0).
	NumShards int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.ConnectionsPerEndpoint)))))
	addField("Shards", strconv.Itoa(int(math.Max(1, float64(c.NumShards)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
