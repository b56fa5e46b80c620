package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/rkv/lib/store"
	"github.com/ValentinKolb/rkv/rpc/common"
)

func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message, kvStore store.IStore) *common.Message {
	// Check for nil store
	if kvStore == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTKVSet:
		err := kvStore.Set(req.Key, req.Value)
		return withLeaderHint(common.NewSetResponse(err), err)
	case common.MsgTKVDelete:
		err := kvStore.Delete(req.Key)
		return withLeaderHint(common.NewDeleteResponse(err), err)
	case common.MsgTKVGet:
		val, ok, err := kvStore.Get(req.Key)
		return withLeaderHint(common.NewGetResponse(val, ok, err), err)
	case common.MsgTKVHas:
		ok, err := kvStore.Has(req.Key)
		return withLeaderHint(common.NewHasResponse(ok, err), err)
	case common.MsgTKVInfo:
		info, err := kvStore.GetDBInfo()
		if err != nil {
			return common.NewInfoResponse(nil, err)
		}
		data, err := json.Marshal(info)
		return common.NewInfoResponse(data, err)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IStoreAdapter - Unsuported message type: %s", req.MsgType),
		)
	}
}

// withLeaderHint copies the store return code into the response so clients
// can tell retryable rejections apart without parsing error strings. For
// non-leader rejections the leader address travels along as a routing hint.
func withLeaderHint(resp *common.Message, err error) *common.Message {
	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		resp.Code = uint8(storeErr.Code)
		if storeErr.Code == store.RetCNotLeader && storeErr.Msg != "" {
			resp.LeaderHint = storeErr.Msg
		}
	}
	return resp
}
