package server

import (
	"fmt"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/rkv/lib/db"
	"github.com/ValentinKolb/rkv/lib/db/engines/cedar"
	"github.com/ValentinKolb/rkv/lib/raft"
	"github.com/ValentinKolb/rkv/lib/shard"
	"github.com/ValentinKolb/rkv/lib/store"
	"github.com/ValentinKolb/rkv/lib/store/lstore"
	"github.com/ValentinKolb/rkv/lib/store/rstore"
	"github.com/ValentinKolb/rkv/rpc/common"
	"github.com/ValentinKolb/rkv/rpc/serializer"
	"github.com/ValentinKolb/rkv/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
)

var Logger = log.WithField("component", "rpc")

// serverShard is a struct that represents a shard in the RPC server
// It contains the store it encapsulates and the adapter
// that handles requests for the store
type serverShard struct {
	Store   store.IStore
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := rpc.NewRPCServer(
//		*config,
//		tcp.NewTCPDefaultServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) rpcServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	// Create shards map
	shardMap := xsync.NewMapOf[uint32, serverShard]()

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	// Create the RPC server
	return rpcServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     shardMap,
	}
}

type rpcServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint32, serverShard]

	// consensus plumbing, nil for purely local deployments
	network  *raft.TCPNetwork
	shardMap *shard.Map
	nodes    []*raft.Node
}

func (s *rpcServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(shardId uint32, req []byte) []byte {
		var msg common.Message
		var respMsg common.Message

		// Get appropriate shard
		srvShard, ok := s.shards.Load(shardId)

		// Case shard does not exist -> error
		if !ok {
			respMsg = common.Message{
				MsgType: common.MsgTError,
				Err:     fmt.Sprintf("shard %d not hosted on this node", shardId),
			}
		} else {
			// Decode the request
			err := s.serializer.Deserialize(req, &msg)

			if err != nil {
				respMsg = common.Message{
					MsgType: common.MsgTError,
					Err:     fmt.Sprintf("failed to deserialize request: %s", err),
				}
			} else {
				// Let the adapter handle the request
				respMsg = *srvShard.Adapter.Handle(&msg, srvShard.Store)

				// A leader hint in the response means the request landed on
				// a follower, remember the leader for this shard
				if respMsg.LeaderHint != "" && s.shardMap != nil {
					s.shardMap.SetLeader(shard.ShardID(shardId), s.nodeIDForAddr(respMsg.LeaderHint))
				}
			}
		}

		// Return result
		val, err := s.serializer.Serialize(respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response: %s", err)
			return nil
		}
		return val
	})
}

func (s *rpcServer) init() error {

	// Init logger
	common.InitLoggers(s.config)

	// Function to create a new database instance
	dbFactory, err := engineFactory(s.config.Engine)
	if err != nil {
		return err
	}

	// CREATE SHARDS

	/*
		Note: Without cluster members the server runs every shard as a plain
		local store (development mode). With cluster members, shards are
		placed on nodes by the consistent-hash shard map and each shard
		hosted here runs its own consensus group.
	*/

	if len(s.config.ClusterMembers) == 0 {
		numShards := s.config.NumShards
		if numShards <= 0 {
			numShards = 1
		}
		for id := uint32(0); id < uint32(numShards); id++ {
			s.shards.Store(id, serverShard{
				Store:   lstore.NewLocalStore(dbFactory),
				Adapter: NewIStoreServerAdapter(),
			})
		}
		Logger.Infof("created %d local shards", numShards)
	} else {
		if err := s.initReplicatedShards(dbFactory); err != nil {
			return err
		}
	}

	Logger.Infof("rkv setup completed successfully")

	// Configure the transport layer
	s.registerTransportHandler()

	return nil
}

// initReplicatedShards builds the shard map from the cluster members and
// starts one consensus group per shard this node is a replica of.
func (s *rpcServer) initReplicatedShards(dbFactory store.DBFactory) error {
	self := raft.NodeID(s.config.NodeID)
	selfAddr, ok := s.config.ClusterMembers[s.config.NodeID]
	if !ok {
		return fmt.Errorf("node %q is not part of the cluster members", s.config.NodeID)
	}

	// Fill shard map defaults
	numShards := uint32(s.config.NumShards)
	if numShards == 0 {
		numShards = shard.DefaultNumShards
	}
	replicas := s.config.Replicas
	if replicas <= 0 {
		replicas = shard.DefaultReplicas
	}
	if replicas > len(s.config.ClusterMembers) {
		replicas = len(s.config.ClusterMembers)
	}

	// Build the shard map
	s.shardMap = shard.NewMap(numShards, replicas, shard.DefaultVirtualNodes)
	for id := range s.config.ClusterMembers {
		s.shardMap.Ring().Add(raft.NodeID(id))
	}

	// Start the inter-node consensus transport
	s.network = raft.NewTCPNetwork(selfAddr)
	if err := s.network.Start(); err != nil {
		return err
	}
	for id, addr := range s.config.ClusterMembers {
		if id != s.config.NodeID {
			s.network.SetPeer(raft.NodeID(id), addr)
		}
	}

	timeout := time.Duration(s.config.TimeoutSecond) * time.Second

	// Start a consensus group for every shard placed on this node
	hosted := 0
	for id := uint32(0); id < numShards; id++ {
		shardID := shard.ShardID(id)
		members := s.shardMap.Replicas(shardID)

		if !containsNode(members, self) {
			continue
		}

		cfg := s.config.ToConsensusConfig(shardID.String())

		// Restrict the peer set to this shard's replicas
		peers := make(map[raft.NodeID]string, len(members))
		for _, member := range members {
			peers[member] = s.config.ClusterMembers[string(member)]
		}
		cfg.Peers = peers

		sm := rstore.NewStateMachine(shardID.String(), dbFactory)
		node, err := raft.NewNode(cfg, sm, s.network.Transport(shardID.String()))
		if err != nil {
			return fmt.Errorf("failed to start shard %s: %w", shardID, err)
		}
		s.network.Register(shardID.String(), node)
		s.nodes = append(s.nodes, node)

		s.shards.Store(id, serverShard{
			Store:   rstore.NewReplicatedStore(node, timeout),
			Adapter: NewIStoreServerAdapter(),
		})
		hosted++
	}

	Logger.Infof("hosting %d of %d shards (replication factor %d)", hosted, numShards, replicas)
	return nil
}

// Serve starts the RPC server
// This function will also initialize the server plus the shards and start the transport layer
func (s *rpcServer) Serve() error {
	err := s.init()
	if err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// Stop shuts down every consensus group and the inter-node transport.
func (s *rpcServer) Stop() {
	for _, node := range s.nodes {
		node.Stop()
	}
	if s.network != nil {
		s.network.Close()
	}
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// engineFactory maps an engine name from the config to a database factory
func engineFactory(name string) (store.DBFactory, error) {
	switch name {
	case "", "cedar":
		return func() db.KVDB { return cedar.NewCedarDB() }, nil
	default:
		return nil, fmt.Errorf("unknown storage engine: %s", name)
	}
}

// nodeIDForAddr resolves a consensus address back to its cluster member id.
// Returns the empty id if the address is not a known member.
func (s *rpcServer) nodeIDForAddr(addr string) raft.NodeID {
	for id, a := range s.config.ClusterMembers {
		if a == addr {
			return raft.NodeID(id)
		}
	}
	return ""
}

func containsNode(nodes []raft.NodeID, id raft.NodeID) bool {
	for _, n := range nodes {
		if n == id {
			return true
		}
	}
	return false
}
