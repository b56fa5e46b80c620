package rstore

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ValentinKolb/rkv/lib/db"
	"github.com/ValentinKolb/rkv/lib/raft"
	"github.com/ValentinKolb/rkv/lib/store"
	"github.com/ValentinKolb/rkv/lib/store/rstore/internal"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// KVStateMachine adapts a db.KVDB to the consensus module's StateMachine
// interface. Commands carry the write index of their log entry into the
// engine, which ignores stale indexes, so replaying a committed prefix
// after a restart leaves the state unchanged.
type KVStateMachine struct {
	shard    string
	database db.KVDB
}

// NewStateMachine creates a state machine for one shard.
// The factory pattern is used to enable the caller to pass an interchangeable dbFactory.
func NewStateMachine(shard string, dbFactory store.DBFactory) *KVStateMachine {
	return &KVStateMachine{
		shard:    shard,
		database: dbFactory(),
	}
}

// Apply executes one committed write command on the KVDB instance. Failures
// are encoded into the result rather than returned as errors, so a bad
// command never stalls the apply loop.
func (fsm *KVStateMachine) Apply(entry raft.LogEntry) ([]byte, error) {
	start := time.Now()

	if len(entry.Command) == 0 {
		return resultBytes(store.RetCInvalidOperation, "empty command ignored"), nil
	}

	cmd := internal.Command{}
	if err := cmd.Deserialize(entry.Command); err != nil {
		return resultBytes(store.RetCInternalError, fmt.Sprintf("failed to deserialize command: %v", err)), nil
	}

	// Check if the db supports the operation
	feat, err := cmd.Type.ToDBFeature()
	if err != nil {
		return resultBytes(store.RetCInvalidOperation, fmt.Sprintf("unknown Command operation: %s", cmd.Type)), nil
	}
	if !fsm.database.SupportsFeature(feat) {
		return resultBytes(store.RetCUnsupportedOperation, fmt.Sprintf("%s operation is not supported", cmd.Type)), nil
	}

	switch cmd.Type {
	case internal.CommandTSet:
		fsm.database.Set(cmd.Key, cmd.Value, entry.Index)
	case internal.CommandTDelete:
		fsm.database.Delete(cmd.Key, entry.Index)
	default:
		return resultBytes(store.RetCInvalidOperation, fmt.Sprintf("unknown Command operation: %s", cmd.Type)), nil
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Debugf("state machine apply took %.2fms (shard %s, key %s)",
			float64(elapsed)/float64(time.Millisecond), fsm.shard, cmd.Key)
	}
	return resultBytes(store.RetCSuccess, fmt.Sprintf("%s: key=%s", cmd.Type, cmd.Key)), nil
}

// Lookup handles read-only queries by mapping each Query operation to the corresponding KVDB method.
func (fsm *KVStateMachine) Lookup(query []byte) ([]byte, error) {
	q := internal.Query{}
	if err := q.Deserialize(query); err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid query: %v", err))
	}

	switch q.Type {
	case internal.QueryTGet:
		if !fsm.database.SupportsFeature(db.FeatureGet) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Get operation is not supported")
		}
		val, ok := fsm.database.Get(q.Key)
		res := internal.QueryResult{Value: val, Ok: ok}
		return res.Serialize(), nil
	case internal.QueryTHas:
		if !fsm.database.SupportsFeature(db.FeatureHas) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Has operation is not supported")
		}
		res := internal.QueryResult{Ok: fsm.database.Has(q.Key)}
		return res.Serialize(), nil
	case internal.QueryTGetDBInfo:
		return json.Marshal(fsm.database.GetInfo())
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// SaveSnapshot saves a fuzzy db snapshot to the writer
func (fsm *KVStateMachine) SaveSnapshot(w io.Writer) error {
	if !fsm.database.SupportsFeature(db.FeatureSave) {
		return fmt.Errorf("the used KVDB implementation does not support Save() operations")
	}
	return fsm.database.Save(w)
}

// RecoverFromSnapshot replaces the db contents with the snapshot.
func (fsm *KVStateMachine) RecoverFromSnapshot(r io.Reader) error {
	if !fsm.database.SupportsFeature(db.FeatureLoad) {
		return fmt.Errorf("the used KVDB implementation does not support Load() operations")
	}
	return fsm.database.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *KVStateMachine) Close() error {
	return fsm.database.Close()
}

func resultBytes(code store.RetCode, msg string) []byte {
	res := internal.Result{Code: uint64(code), Data: []byte(msg)}
	return res.Serialize()
}
