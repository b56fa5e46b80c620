// Package internal provides the communication protocol structures and serialization
// logic for the rstore package. It defines the wire format used to transmit operations
// between the store client and the replicated state machine.
//
// This package is intended for internal use by the rstore implementation and should
// not be imported directly by external code.
//
// The package consists of three main components:
//
//   - Command System: Defines write operations (Set, Delete) that modify the state
//     of the database. Commands are serialized and proposed to the consensus cluster,
//     executed on the state machine, and produce results that are returned to the
//     client. The Command structure includes efficient binary serialization.
//
//   - Query System: Defines read operations (Get, Has, GetDBInfo) that retrieve
//     data from the database without modifying its state. Queries cross the
//     consensus interface as raw bytes and therefore carry their own compact codec.
//
//   - Result System: Defines the reply format of applied commands, a return code
//     plus detail bytes, so results survive the byte-oriented consensus interface.
//
// Command Format:
//
//	Commands are serialized into a binary format with the following structure:
//
//	- 1 byte: Command type (Set, Delete)
//	- 4 bytes: Key length (uint32, big endian)
//	- N bytes: Key data (string as byte array)
//	- M bytes: Value data (optional, only present for Set operations)
//
//	This format ensures efficient storage in the replicated log while providing
//	all necessary information for the operation.
//
// Type Mapping:
//
//	The package provides bidirectional mapping between:
//	- Command types and db.Feature (db.KVDB) flags for feature detection
//	- String representations for logging and debugging
//
// Thread Safety:
//
//	The types in this package are not thread-safe and should not be shared
//	across goroutines without external synchronization. However, this is not
//	typically an issue as the consensus protocol ensures sequential processing
//	of commands on the state machine.
package internal
