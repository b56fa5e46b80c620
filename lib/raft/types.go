package raft

import (
	"encoding/binary"
	"fmt"
)

// --------------------------------------------------------------------------
// Core Types
// --------------------------------------------------------------------------

// NodeID identifies one node in the cluster (e.g. "node-1").
type NodeID string

// Role is the consensus role a node currently holds for one shard.
type Role uint32

const (
	Follower Role = iota // default
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(r))
	}
}

// EntryType distinguishes the kinds of records carried by the replicated log.
type EntryType uint8

const (
	EntryNormal       EntryType = iota // A state machine command
	EntryConfigChange                  // A cluster membership change
	EntryNoop                          // Appended by a fresh leader to commit prior-term entries
)

func (et EntryType) String() string {
	switch et {
	case EntryNormal:
		return "Normal"
	case EntryConfigChange:
		return "ConfigChange"
	case EntryNoop:
		return "Noop"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(et))
	}
}

// LogEntry is a single record of the replicated log. Entries are immutable
// once appended; Index is strictly increasing and gap-free within one log.
type LogEntry struct {
	Index   uint64
	Term    uint64
	Type    EntryType
	Command []byte
}

// --------------------------------------------------------------------------
// LogEntry Serialization
// --------------------------------------------------------------------------

// entryHeaderSize is the fixed prefix of a serialized entry:
// 8 bytes term, 1 byte type, 4 bytes command length.
const entryHeaderSize = 8 + 1 + 4

// SizeBytes returns the exact number of bytes needed to serialize this entry.
// The index is not part of the serialized form, the log store keys records by it.
func (e *LogEntry) SizeBytes() int {
	return entryHeaderSize + len(e.Command)
}

// Serialize encodes the entry into a byte array with the format:
// 8 bytes for the term (big endian),
// 1 byte for the entry type,
// 4 bytes for the command length (big endian),
// N bytes for the command data.
func (e *LogEntry) Serialize() []byte {
	result := make([]byte, e.SizeBytes())

	binary.BigEndian.PutUint64(result[0:8], e.Term)
	result[8] = byte(e.Type)
	binary.BigEndian.PutUint32(result[9:13], uint32(len(e.Command)))
	copy(result[entryHeaderSize:], e.Command)

	return result
}

// Deserialize extracts term, type and command from a byte array. The caller
// supplies the index the record was stored under.
func (e *LogEntry) Deserialize(index uint64, data []byte) error {
	if len(data) < entryHeaderSize {
		return fmt.Errorf("data too short for log entry: %d bytes", len(data))
	}

	e.Index = index
	e.Term = binary.BigEndian.Uint64(data[0:8])
	e.Type = EntryType(data[8])

	cmdLen := binary.BigEndian.Uint32(data[9:13])
	if len(data) < entryHeaderSize+int(cmdLen) {
		return fmt.Errorf("data too short for command of length %d", cmdLen)
	}

	if cmdLen > 0 {
		e.Command = make([]byte, cmdLen)
		copy(e.Command, data[entryHeaderSize:entryHeaderSize+cmdLen])
	} else {
		e.Command = nil
	}

	return nil
}

// --------------------------------------------------------------------------
// Membership Types
// --------------------------------------------------------------------------

// ConfigChangeType is the kind of membership mutation a config-change entry carries.
type ConfigChangeType uint8

const (
	AddNode ConfigChangeType = iota
	RemoveNode
)

// ConfigChange describes a single-node membership mutation. Membership is
// mutated only via committed config-change log entries, never by direct
// local writes, so membership changes themselves go through consensus.
type ConfigChange struct {
	Type ConfigChangeType
	Node NodeID
	Addr string
}

// Serialize encodes a config change with the format:
// 1 byte for the change type,
// 2 bytes for the node id length (big endian),
// N bytes node id, remainder address.
func (cc *ConfigChange) Serialize() []byte {
	result := make([]byte, 3+len(cc.Node)+len(cc.Addr))
	result[0] = byte(cc.Type)
	binary.BigEndian.PutUint16(result[1:3], uint16(len(cc.Node)))
	copy(result[3:], cc.Node)
	copy(result[3+len(cc.Node):], cc.Addr)
	return result
}

// Deserialize extracts all ConfigChange fields from a byte array.
func (cc *ConfigChange) Deserialize(data []byte) error {
	if len(data) < 3 {
		return fmt.Errorf("data too short for config change")
	}
	cc.Type = ConfigChangeType(data[0])
	idLen := binary.BigEndian.Uint16(data[1:3])
	if len(data) < 3+int(idLen) {
		return fmt.Errorf("data too short for node id of length %d", idLen)
	}
	cc.Node = NodeID(data[3 : 3+idLen])
	cc.Addr = string(data[3+idLen:])
	return nil
}
