package server

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/rkv/lib/db"
	"github.com/ValentinKolb/rkv/lib/db/engines/cedar"
	"github.com/ValentinKolb/rkv/lib/store"
	"github.com/ValentinKolb/rkv/lib/store/lstore"
	"github.com/ValentinKolb/rkv/rpc/common"
)

func newTestStore() store.IStore {
	return lstore.NewLocalStore(func() db.KVDB { return cedar.NewCedarDB() })
}

func TestAdapterKVRoundTrip(t *testing.T) {
	adapter := NewIStoreServerAdapter()
	kv := newTestStore()

	// set
	resp := adapter.Handle(common.NewSetRequest("k1", []byte("v1")), kv)
	if resp.Err != "" {
		t.Fatalf("set failed: %s", resp.Err)
	}

	// get
	resp = adapter.Handle(common.NewGetRequest("k1"), kv)
	if resp.Err != "" || !resp.Ok {
		t.Fatalf("get failed: ok=%v err=%s", resp.Ok, resp.Err)
	}
	if string(resp.Value) != "v1" {
		t.Errorf("get returned %q, want %q", resp.Value, "v1")
	}

	// has
	resp = adapter.Handle(common.NewHasRequest("k1"), kv)
	if resp.Err != "" || !resp.Ok {
		t.Fatalf("has failed: ok=%v err=%s", resp.Ok, resp.Err)
	}

	// delete
	resp = adapter.Handle(common.NewDeleteRequest("k1"), kv)
	if resp.Err != "" {
		t.Fatalf("delete failed: %s", resp.Err)
	}
	resp = adapter.Handle(common.NewHasRequest("k1"), kv)
	if resp.Ok {
		t.Error("key still present after delete")
	}
}

func TestAdapterGetMissingKey(t *testing.T) {
	adapter := NewIStoreServerAdapter()

	resp := adapter.Handle(common.NewGetRequest("missing"), newTestStore())
	if resp.Err != "" {
		t.Fatalf("get of missing key should not error, got: %s", resp.Err)
	}
	if resp.Ok {
		t.Error("get of missing key reported Ok")
	}
}

func TestAdapterInfo(t *testing.T) {
	adapter := NewIStoreServerAdapter()
	kv := newTestStore()

	adapter.Handle(common.NewSetRequest("k1", []byte("v1")), kv)

	resp := adapter.Handle(common.NewInfoRequest(0), kv)
	if resp.Err != "" {
		t.Fatalf("info failed: %s", resp.Err)
	}
	if len(resp.Value) == 0 || !strings.Contains(string(resp.Value), "entries") {
		t.Errorf("info response is not the encoded database info: %s", resp.Value)
	}
}

func TestAdapterNilStore(t *testing.T) {
	adapter := NewIStoreServerAdapter()

	resp := adapter.Handle(common.NewGetRequest("k1"), nil)
	if resp.MsgType != common.MsgTError || resp.Err == "" {
		t.Errorf("expected error response for nil store, got %+v", resp)
	}
}

func TestAdapterUnsupportedMessage(t *testing.T) {
	adapter := NewIStoreServerAdapter()

	resp := adapter.Handle(&common.Message{MsgType: common.MsgTCustom}, newTestStore())
	if resp.MsgType != common.MsgTError || resp.Err == "" {
		t.Errorf("expected error response for custom message, got %+v", resp)
	}
}

// notLeaderStore rejects every operation the way a follower replica does.
type notLeaderStore struct {
	leader string
}

func (s *notLeaderStore) err() error { return store.NewError(store.RetCNotLeader, s.leader) }

func (s *notLeaderStore) Set(string, []byte) error         { return s.err() }
func (s *notLeaderStore) Delete(string) error              { return s.err() }
func (s *notLeaderStore) Get(string) ([]byte, bool, error) { return nil, false, s.err() }
func (s *notLeaderStore) Has(string) (bool, error)         { return false, s.err() }
func (s *notLeaderStore) GetDBInfo() (db.DatabaseInfo, error) {
	return db.DatabaseInfo{}, s.err()
}

func TestAdapterLeaderHint(t *testing.T) {
	adapter := NewIStoreServerAdapter()
	follower := &notLeaderStore{leader: "localhost:63001"}

	for _, req := range []*common.Message{
		common.NewSetRequest("k1", []byte("v1")),
		common.NewDeleteRequest("k1"),
		common.NewGetRequest("k1"),
		common.NewHasRequest("k1"),
	} {
		resp := adapter.Handle(req, follower)
		if resp.Err == "" {
			t.Errorf("%s: follower should reject the request", req.MsgType)
		}
		if resp.LeaderHint != follower.leader {
			t.Errorf("%s: leader hint = %q, want %q", req.MsgType, resp.LeaderHint, follower.leader)
		}
		if resp.Code != uint8(store.RetCNotLeader) {
			t.Errorf("%s: code = %d, want %d", req.MsgType, resp.Code, store.RetCNotLeader)
		}
	}
}
