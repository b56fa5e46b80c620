package client

import (
	"fmt"

	"github.com/ValentinKolb/rkv/lib/store"
	"github.com/ValentinKolb/rkv/rpc/common"
	"github.com/ValentinKolb/rkv/rpc/serializer"
	"github.com/ValentinKolb/rkv/rpc/transport"
	log "github.com/sirupsen/logrus"
)

var (
	Logger = log.WithField("component", "rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
// Used by the RPC store implementations with composition pattern
type rpcClientAdapter struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invokeRPCRequest is a helper function used for all RPC Clients to send requests
// It takes a shard, a request message, a transport layer and a serializer as parameters
// It returns a response message and an error if any occurs
// This method also checks if the response is an error response and if the type of the response is the expected type
func invokeRPCRequest(shard uint32, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	// Send the handler
	respBytes, err := transport.Send(shard, reqBytes)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	err = serializer.Deserialize(respBytes, resp)
	if err != nil {
		return nil, fmt.Errorf("RPC IStoreAdapter - Error: %s", err)
	}

	// Check if the response is an error response
	if resp.MsgType == common.MsgTError || resp.Err != "" {
		// Retryable rejections travel as a return code so callers can
		// distinguish them from terminal failures
		switch store.RetCode(resp.Code) {
		case store.RetCNotLeader:
			return nil, store.NewError(store.RetCNotLeader, resp.LeaderHint)
		case store.RetCNoQuorum:
			return nil, store.NewError(store.RetCNoQuorum, resp.Err)
		}
		return nil, fmt.Errorf("RPC IStoreAdapter - Error: %s", resp.Err)
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("RPC IStoreAdapter - Unexpected message type: %s, exected %s", resp.MsgType, req.MsgType)
	}

	// Return the response
	return resp, nil
}
