package store

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/rkv/lib/db"
	"github.com/ValentinKolb/rkv/lib/raft"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() db.KVDB

// IStore is the generic interface for interacting with a key–value store.
// All write operations return only an error (nil on success),
// while read operations return the requested data along with an error (nil on success).
type IStore interface {
	// Set inserts or updates a key–value pair.
	Set(key string, value []byte) (err error)
	// Delete deletes a key–value pair. The key should be removed from the store.
	Delete(key string) (err error)
	// Get returns the value for a key. The boolean return value indicates whether a value for the key was found.
	Get(key string) (value []byte, loaded bool, err error)
	// Has returns whether a key exists in the store.
	Has(key string) (loaded bool, err error)
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// FromConsensusError translates an error returned by the consensus module
// into the store error taxonomy, so clients can react by code: NotLeader
// means re-resolve and retry elsewhere, NoQuorum means retry later with the
// outcome unknown, IOFault means the replica is unhealthy.
func FromConsensusError(err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, raft.ErrNotLeader):
		var hint *raft.LeaderHintError
		if errors.As(err, &hint) && hint.Addr != "" {
			return NewError(RetCNotLeader, hint.Addr)
		} else if hint != nil && hint.Leader != "" {
			return NewError(RetCNotLeader, string(hint.Leader))
		}
		return NewError(RetCNotLeader, "")
	case errors.Is(err, raft.ErrNoQuorum):
		return NewError(RetCNoQuorum, err.Error())
	case errors.Is(err, raft.ErrIO):
		return NewError(RetCIOFault, err.Error())
	default:
		return NewError(RetCInternalError, err.Error())
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCNotLeader                           // 4: Operation was sent to a non-leader replica. Msg carries the leader hint.
	RetCNoQuorum                            // 5: No majority acknowledged in time; the outcome is unknown.
	RetCIOFault                             // 6: Durable storage of the replica failed.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotLeader:
		return "NotLeader"
	case RetCNoQuorum:
		return "NoQuorum"
	case RetCIOFault:
		return "IOFault"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(c))
	}
}
