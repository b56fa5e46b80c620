// Package cedar implements the db.KVDB interface backed by a concurrent
// hash map (xsync.MapOf).
//
// Design:
//
//   - Single-writer, many-readers: in replicated use, the state machine
//     applier is the only writer and applies commands strictly in log-index
//     order. Readers (Get, Has, Save) may run concurrently at any time.
//
//   - Idempotent application: every entry remembers the write index of the
//     command that produced it. A command replayed with an index that is not
//     newer than the stored one is ignored, which makes crash-restart log
//     replay safe.
//
//   - Snapshot persistence: Save writes a versioned binary file
//     (magic number, format version, write index, entry count, records) and
//     Load restores it, discarding any previous state. Save tolerates
//     concurrent writers by working on copied entries; Load does not.
//
// The engine keeps no expiration or garbage-collection machinery: entries
// live until deleted by a command.
package cedar
