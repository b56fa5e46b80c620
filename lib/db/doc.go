// Package db provides a standardized interface for key-value database implementations.
// It defines a KVDB interface that allows for consistent interaction with various
// database backends while abstracting implementation details. In rkv, a KVDB is the
// storage engine behind a replicated state machine: committed log commands mutate it,
// and its Save/Load methods produce and restore the snapshots used for log compaction.
//
// The package focuses on:
//   - A unified interface for key-value operations
//   - Feature discovery through capability flags
//   - Standardized persistence operations for snapshotting
//   - Metadata reporting
//
// Key Components:
//
//   - KVDB Interface: The core interface that all database implementations must satisfy.
//     It provides methods for basic operations (Set, Get, Has, Delete), metadata
//     retrieval (GetInfo), and persistence operations (Save, Load).
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method. This allows clients to
//     discover supported operations at runtime.
//
//   - Implementation Identifiers: The Implementation type provides string constants
//     for different database backends (currently "cedar").
//
//   - Database Information: The DatabaseInfo structure provides standardized
//     reporting on database state, including size statistics and implementation type.
//     Size statistics may be estimated since a precise calculation can be expensive.
//
// Note on Write Indexes:
//   - All write operations require a write-index parameter that serves as a logical
//     timestamp. In replicated use this is the log index of the command being applied,
//     which makes re-application after a crash-restart replay idempotent: an entry
//     already stored with an equal or higher index is left untouched.
//   - Monotonicity Guarantee: implementations must ensure that the tracked write-index
//     only increases. Attempts to apply a write with an index lower than the entry's
//     stored index must be ignored.
//
// Related Packages:
//
// The engines/cedar package (github.com/ValentinKolb/rkv/lib/db/engines/cedar) provides
// an implementation of the KVDB interface backed by a concurrent hash map. It supports
// concurrent readers during writes and snapshots, and binary persistence with a
// versioned file format.
//
// The util package (github.com/ValentinKolb/rkv/lib/db/util) provides complementary
// tools shared by engine and shard-map code, notably the seeded FNV-1a string hash.
//
// The testing package (github.com/ValentinKolb/rkv/lib/db/testing) provides
// standardized tests for database implementations that satisfy the db.KVDB interface:
//   - RunKVDBTests: Runs a standardized test suite to validate implementations
package db
