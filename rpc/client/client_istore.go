package client

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/ValentinKolb/rkv/lib/db"
	"github.com/ValentinKolb/rkv/lib/shard"
	"github.com/ValentinKolb/rkv/lib/store"
	"github.com/ValentinKolb/rkv/rpc/common"
	"github.com/ValentinKolb/rkv/rpc/serializer"
	"github.com/ValentinKolb/rkv/rpc/transport"
)

// --------------------------------------------------------------------------
// Single-Shard Store
// --------------------------------------------------------------------------

// NewRPCStore creates a new RPC store bound to a single shard
// The function takes a shard, a config, a transport and a serializer as parameters
// It returns a store.IStore and an error
func NewRPCStore(
	shardId uint32,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	// Create a new RPC store
	s := rpcStore{
		rpcClientAdapter: rpcClientAdapter{
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
		shard: shardId,
	}

	// Return the RPC store
	return &s, nil
}

type rpcStore struct {
	rpcClientAdapter
	shard uint32
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) Set(key string, value []byte) (err error) {
	req := common.NewSetRequest(key, value)
	_, err = invokeRPCRequest(i.shard, req, i.transport, i.serializer)
	return err
}

func (i *rpcStore) Delete(key string) (err error) {
	req := common.NewDeleteRequest(key)
	_, err = invokeRPCRequest(i.shard, req, i.transport, i.serializer)
	return err
}

func (i *rpcStore) Get(key string) (value []byte, loaded bool, err error) {
	req := common.NewGetRequest(key)
	resp, err := invokeRPCRequest(i.shard, req, i.transport, i.serializer)
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Ok, nil
}

func (i *rpcStore) Has(key string) (loaded bool, err error) {
	req := common.NewHasRequest(key)
	resp, err := invokeRPCRequest(i.shard, req, i.transport, i.serializer)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) GetDBInfo() (info db.DatabaseInfo, err error) {
	req := common.NewInfoRequest(i.shard)
	resp, err := invokeRPCRequest(i.shard, req, i.transport, i.serializer)
	if err != nil {
		return db.DatabaseInfo{}, err
	}
	err = json.Unmarshal(resp.Value, &info)
	return info, err
}

// --------------------------------------------------------------------------
// Sharded Store
// --------------------------------------------------------------------------

// NewShardedRPCStore creates an RPC store that routes every key to its shard
// using the same hash ring parameters as the server. Operations rejected
// with NotLeader or NoQuorum are retried up to the configured retry count;
// the round-robin transport moves each retry to another endpoint, so writes
// eventually reach the shard leader after a failover.
func NewShardedRPCStore(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	// 0 means "not configured", fall back to the server default so a client
	// and a default-configured cluster agree on the key -> shard mapping
	numShards := uint32(config.NumShards)
	if numShards == 0 {
		numShards = shard.DefaultNumShards
	}

	s := shardedStore{
		rpcClientAdapter: rpcClientAdapter{
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
		// replica count and vnodes do not matter for key -> shard mapping
		shardMap: shard.NewMap(numShards, 1, 1),
	}
	return &s, nil
}

type shardedStore struct {
	rpcClientAdapter
	shardMap *shard.Map
}

// invoke routes the request to the shard owning key and retries rejections
// that a different replica (or a later moment) can serve.
func (i *shardedStore) invoke(key string, req *common.Message) (*common.Message, error) {
	sh := uint32(i.shardMap.ShardForKey(key))
	req.Shard = sh

	attempts := i.config.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for a := 0; a < attempts; a++ {
		resp, err := invokeRPCRequest(sh, req, i.transport, i.serializer)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var storeErr *store.Error
		if !errors.As(err, &storeErr) ||
			(storeErr.Code != store.RetCNotLeader && storeErr.Code != store.RetCNoQuorum) {
			return nil, err
		}

		if storeErr.Code == store.RetCNotLeader && storeErr.Msg != "" {
			Logger.Debugf("shard %d leader moved (hint %s), retrying (%d/%d)", sh, storeErr.Msg, a+1, attempts)
		}
		time.Sleep(time.Duration(50*(a+1)) * time.Millisecond)
	}
	return nil, lastErr
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *shardedStore) Set(key string, value []byte) (err error) {
	_, err = i.invoke(key, common.NewSetRequest(key, value))
	return err
}

func (i *shardedStore) Delete(key string) (err error) {
	_, err = i.invoke(key, common.NewDeleteRequest(key))
	return err
}

func (i *shardedStore) Get(key string) (value []byte, loaded bool, err error) {
	resp, err := i.invoke(key, common.NewGetRequest(key))
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Ok, nil
}

func (i *shardedStore) Has(key string) (loaded bool, err error) {
	resp, err := i.invoke(key, common.NewHasRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

// GetDBInfo reports the info of shard 0 only, the shards are independent
// databases.
func (i *shardedStore) GetDBInfo() (info db.DatabaseInfo, err error) {
	resp, err := invokeRPCRequest(0, common.NewInfoRequest(0), i.transport, i.serializer)
	if err != nil {
		return db.DatabaseInfo{}, err
	}
	err = json.Unmarshal(resp.Value, &info)
	return info, err
}
