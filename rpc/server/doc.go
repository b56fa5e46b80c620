// Package server implements the RPC server for the distributed key-value store system.
// It provides adapters for handling RPC requests against stores, along with the core
// server implementation that manages shards and request routing.
//
// The package focuses on:
//   - Server-side RPC request handling for key-value store operations
//   - Adapter pattern to decouple application logic from RPC mechanisms
//   - Shard placement via the consistent-hash shard map
//   - Starting one consensus group per hosted shard
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that processes incoming requests against a store.IStore.
//
//   - NewIStoreServerAdapter: Factory function creating an adapter for key-value
//     store operations, translating RPC requests to store.IStore method calls.
//     Non-leader rejections carry the leader address as a routing hint.
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport and serializer mechanisms.
//
// Usage Example:
//
//	// Create server configuration
//	config := common.ServerConfig{
//	  NodeID: "n1",
//	  ClusterMembers: map[string]string{
//	    "n1": "10.0.0.1:8200",
//	    "n2": "10.0.0.2:8200",
//	    "n3": "10.0.0.3:8200",
//	  },
//	  NumShards: 32,
//	  Replicas: 3,
//	  Endpoint: "0.0.0.0:8080",
//	  TimeoutSecond: 5,
//	  LogLevel: "info",
//	}
//
//	// Create and start the server
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPDefaultServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	// Start the server
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// The server runs in one of two modes:
//
//   - Local mode (no ClusterMembers): every shard is a plain in-process store.
//     Suitable for development environments and single-node deployments where
//     durability across restarts is not required.
//
//   - Replicated mode (ClusterMembers set): shards are placed on nodes by the
//     consistent-hash shard map, and each shard hosted on this node runs its
//     own consensus group. RAFT configuration (RTTMillisecond, SnapshotEntries,
//     CompactionOverhead, DataDir, NodeID, and ClusterMembers) must be properly
//     configured.
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent requests
//	Across multiple connections. Each request is processed independently.
//	The Listen method is not thread-safe and should be called only once.
package server
