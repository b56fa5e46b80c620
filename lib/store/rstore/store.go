package rstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ValentinKolb/rkv/lib/db"
	"github.com/ValentinKolb/rkv/lib/raft"
	"github.com/ValentinKolb/rkv/lib/store"
	"github.com/ValentinKolb/rkv/lib/store/rstore/internal"
)

var retries = 5

// storeImpl is the concrete implementation of the replicated store.
// It encapsulates a consensus node which is used to communicate with the state machine.
type storeImpl struct {
	node    *raft.Node
	timeout time.Duration
}

// NewReplicatedStore creates a new replicated store instance which uses consensus to ensure
// that writes survive node failures as long as a majority keeps its disk state.
// The node must have been created with a KVStateMachine from this package.
func NewReplicatedStore(node *raft.Node, timeout time.Duration) store.IStore {
	return &storeImpl{
		node:    node,
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write serializes a Command and proposes it to the replication group.
// It returns a *store.Error if an error occurs, or nil on success.
func (s *storeImpl) write(cmd internal.Command) error {
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		data, err := s.node.Propose(ctx, cmd.Serialize())
		cancel()

		// A quorum miss may be transient (election in progress, slow
		// follower); retry with the same idempotent command.
		if errors.Is(err, raft.ErrNoQuorum) {
			log.Infof("Propose: no quorum, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}
		if err != nil {
			return store.FromConsensusError(err)
		}

		res := internal.Result{}
		if err := res.Deserialize(data); err != nil {
			return store.NewError(store.RetCInternalError, err.Error())
		}
		if res.Code != uint64(store.RetCSuccess) {
			return store.NewError(store.RetCode(res.Code), string(res.Data))
		}
		return nil
	}
	return store.NewError(store.RetCNoQuorum, "timeout")
}

// read queries the state machine. Strict reads are served by the leader;
// if linearizability is not required, the stale parameter can be set to true
// to read from the local replica without consulting the leader.
func (s *storeImpl) read(q internal.Query, stale bool) ([]byte, error) {
	consistency := raft.ReadLeaderStrict
	if stale {
		consistency = raft.ReadStaleOK
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	data, err := s.node.Read(ctx, q.Serialize(), consistency)
	if err != nil {
		var serr *store.Error
		if errors.As(err, &serr) {
			return nil, serr
		}
		return nil, store.FromConsensusError(err)
	}
	return data, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	return s.write(internal.Command{
		Type:  internal.CommandTSet,
		Key:   key,
		Value: value,
	})
}

func (s *storeImpl) Delete(key string) error {
	return s.write(internal.Command{
		Type: internal.CommandTDelete,
		Key:  key,
	})
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	data, err := s.read(internal.Query{
		Type: internal.QueryTGet,
		Key:  key,
	}, false)
	if err != nil {
		return nil, false, err
	}

	res := internal.QueryResult{}
	if err := res.Deserialize(data); err != nil {
		return nil, false, store.NewError(store.RetCInternalError, err.Error())
	}
	return res.Value, res.Ok, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	data, err := s.read(internal.Query{
		Type: internal.QueryTHas,
		Key:  key,
	}, false)
	if err != nil {
		return false, err
	}

	res := internal.QueryResult{}
	if err := res.Deserialize(data); err != nil {
		return false, store.NewError(store.RetCInternalError, err.Error())
	}
	return res.Ok, nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	data, err := s.read(internal.Query{
		Type: internal.QueryTGetDBInfo,
	}, true) // Note: allow for stale reads
	if err != nil {
		return db.DatabaseInfo{}, err
	}

	var info db.DatabaseInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return db.DatabaseInfo{}, store.NewError(store.RetCInternalError, err.Error())
	}
	return info, nil
}
