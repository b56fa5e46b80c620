// Package client implements RPC clients for the distributed key-value store system.
// It provides implementations of the store.IStore interface that communicate with
// remote servers via RPC.
//
// The package focuses on:
//   - Transparent RPC access to store implementations
//   - Key-to-shard routing matching the server's hash ring
//   - Integration with the transport and serialization layers
//   - Error handling and conversion between RPC and domain errors
//
// Key Components:
//
//   - NewRPCStore: Factory function that creates a client bound to a single shard.
//     This client forwards all operations to remote servers via the configured
//     transport layer.
//
//   - NewShardedRPCStore: Factory function that creates a client routing every
//     key to its owning shard. NotLeader and NoQuorum rejections are retried,
//     each retry moving to the next endpoint via the transport's round robin.
//
// Usage Example:
//
//	// Configure the client
//	config := common.ClientConfig{
//	  Endpoints:              []string{"localhost:5000", "localhost:5001"},
//	  TimeoutSecond:          5,
//	  RetryCount:             3,
//	  ConnectionsPerEndpoint: 1,
//	  NumShards:              32,
//	}
//
//	// Create a serializer
//	serializer := serializer.NewBinarySerializer()
//
//	// Create store client
//	store, _ := client.NewShardedRPCStore(config, tcp.NewTCPClientTransport(), serializer)
//
//	// Use the store
//	store.Set("mykey", []byte("myvalue"))
//	value, exists, _ := store.Get("mykey")
//
// Performance Considerations:
//
//   - For applications that frequently send large payloads, increasing ConnectionsPerEndpoint
//     can improve throughput by allowing parallel requests.
//
//   - For small messages, a single connection per endpoint is often more efficient due to
//     reduced connection overhead.
//
//   - The choice of serializer significantly affects performance. The binary serializer
//     provides the best performance and smallest payload size.
//
// Thread Safety:
//
//	All client implementations are thread-safe and can be used concurrently from
//	multiple goroutines without additional synchronization.
package client
