package raft

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/wal"
)

// --------------------------------------------------------------------------
// Durable Log Store
// --------------------------------------------------------------------------

// LogStore is the durable, append-only record of consensus entries for one
// shard. It is backed by a segmented write-ahead log on disk; every append
// is synced before it is acknowledged, so acknowledged entries survive a
// crash. Indexes are 1-based and contiguous.
//
// LogStore is safe for concurrent use, though the consensus loop is its only
// writer in practice.
type LogStore struct {
	mu  sync.RWMutex
	log *wal.Log
	dir string

	// cached bounds, 0/0 means empty
	firstIndex uint64
	lastIndex  uint64

	// term of the entry at lastIndex, cached for AppendEntries headers
	lastTerm uint64
}

// OpenLogStore opens (or creates) the log under dir and scans its bounds.
// Recovery is implicit: the underlying segments discard any torn tail record
// from a mid-write crash, so the store always reopens at the last fully
// synced entry.
func OpenLogStore(dir string) (*LogStore, error) {
	opts := wal.DefaultOptions
	opts.NoSync = true // we sync explicitly after each batch

	w, err := wal.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open log at %s: %v", ErrIO, dir, err)
	}

	s := &LogStore{log: w, dir: dir}
	if err := s.loadBounds(); err != nil {
		_ = w.Close()
		return nil, err
	}
	return s, nil
}

func (s *LogStore) loadBounds() error {
	first, err := s.log.FirstIndex()
	if err != nil {
		return fmt.Errorf("%w: read first index: %v", ErrIO, err)
	}
	last, err := s.log.LastIndex()
	if err != nil {
		return fmt.Errorf("%w: read last index: %v", ErrIO, err)
	}
	s.firstIndex = first
	s.lastIndex = last

	if last > 0 {
		data, err := s.log.Read(last)
		if err != nil {
			return fmt.Errorf("%w: read entry %d: %v", ErrIO, last, err)
		}
		var e LogEntry
		if err := e.Deserialize(last, data); err != nil {
			return fmt.Errorf("%w: decode entry %d: %v", ErrIO, last, err)
		}
		s.lastTerm = e.Term
	}
	return nil
}

// ---- Reads ----

// FirstIndex returns the lowest retained index, or 0 for an empty log.
func (s *LogStore) FirstIndex() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.firstIndex
}

// LastIndex returns the highest stored index, or 0 for an empty log.
func (s *LogStore) LastIndex() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastIndex
}

// LastTerm returns the term of the entry at LastIndex, or 0 for an empty log.
func (s *LogStore) LastTerm() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTerm
}

// Entry reads a single entry by index. Returns ErrCompacted below the first
// retained index and ErrNotFound beyond the last.
func (s *LogStore) Entry(index uint64) (LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entryLocked(index)
}

func (s *LogStore) entryLocked(index uint64) (LogEntry, error) {
	var e LogEntry
	if s.lastIndex == 0 || index < s.firstIndex {
		return e, ErrCompacted
	}
	if index > s.lastIndex {
		return e, ErrNotFound
	}

	data, err := s.log.Read(index)
	if err != nil {
		if errors.Is(err, wal.ErrNotFound) {
			return e, ErrNotFound
		}
		return e, fmt.Errorf("%w: read entry %d: %v", ErrIO, index, err)
	}
	if err := e.Deserialize(index, data); err != nil {
		return e, fmt.Errorf("%w: decode entry %d: %v", ErrIO, index, err)
	}
	return e, nil
}

// Term returns the term of the entry at index. As a convenience for the
// consistency check, index 0 yields term 0 without error.
func (s *LogStore) Term(index uint64) (uint64, error) {
	if index == 0 {
		return 0, nil
	}
	e, err := s.Entry(index)
	if err != nil {
		return 0, err
	}
	return e.Term, nil
}

// Entries reads the range [lo, hi] inclusive, capped at max entries
// (max <= 0 means unbounded).
func (s *LogStore) Entries(lo, hi uint64, max int) ([]LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if hi > s.lastIndex {
		hi = s.lastIndex
	}
	if lo > hi {
		return nil, nil
	}

	result := make([]LogEntry, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		e, err := s.entryLocked(i)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
		if max > 0 && len(result) >= max {
			break
		}
	}
	return result, nil
}

// ---- Writes ----

// Append atomically appends entries to the tail of the log and syncs them to
// disk before returning. Entry indexes must continue the log without gaps.
func (s *LogStore) Append(entries ...LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.lastIndex + 1
	if s.lastIndex == 0 && entries[0].Index != 1 {
		return fmt.Errorf("%w: first entry must have index 1, got %d", ErrIO, entries[0].Index)
	}

	batch := new(wal.Batch)
	for i := range entries {
		if s.lastIndex > 0 && entries[i].Index != next {
			return fmt.Errorf("%w: append gap: want index %d, got %d", ErrIO, next, entries[i].Index)
		}
		batch.Write(entries[i].Index, entries[i].Serialize())
		next = entries[i].Index + 1
	}

	if err := s.log.WriteBatch(batch); err != nil {
		return fmt.Errorf("%w: append batch: %v", ErrIO, err)
	}
	if err := s.log.Sync(); err != nil {
		return fmt.Errorf("%w: sync log: %v", ErrIO, err)
	}

	last := entries[len(entries)-1]
	if s.firstIndex == 0 {
		s.firstIndex = entries[0].Index
	}
	s.lastIndex = last.Index
	s.lastTerm = last.Term
	return nil
}

// TruncateFrom removes all entries with index >= index. It is used to resolve
// log conflicts: a follower discards its divergent suffix before accepting
// the leader's entries. Truncating at or below the first index clears the
// whole log.
func (s *LogStore) TruncateFrom(index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastIndex == 0 || index > s.lastIndex {
		return nil
	}

	if index <= s.firstIndex {
		return s.resetLocked()
	}

	if err := s.log.TruncateBack(index - 1); err != nil {
		return fmt.Errorf("%w: truncate back to %d: %v", ErrIO, index-1, err)
	}
	s.lastIndex = index - 1

	e, err := s.entryLocked(s.lastIndex)
	if err != nil {
		return err
	}
	s.lastTerm = e.Term
	return nil
}

// Compact discards all entries with index <= upTo. Entries at or below a
// snapshot boundary are only reachable via the snapshot afterwards. The last
// entry is always retained so the log never loses its term anchor.
func (s *LogStore) Compact(upTo uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastIndex == 0 || upTo < s.firstIndex {
		return nil
	}
	if upTo >= s.lastIndex {
		upTo = s.lastIndex - 1
	}
	if upTo < s.firstIndex {
		return nil
	}

	if err := s.log.TruncateFront(upTo + 1); err != nil {
		return fmt.Errorf("%w: truncate front to %d: %v", ErrIO, upTo+1, err)
	}
	s.firstIndex = upTo + 1
	return nil
}

// resetLocked drops every entry by recreating the log directory. The
// underlying segment format cannot represent an empty log with a nonzero
// base, so a full clear goes through the filesystem.
func (s *LogStore) resetLocked() error {
	if err := s.log.Close(); err != nil {
		return fmt.Errorf("%w: close log: %v", ErrIO, err)
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("%w: remove log dir: %v", ErrIO, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.dir), 0o755); err != nil {
		return fmt.Errorf("%w: recreate log parent: %v", ErrIO, err)
	}

	opts := wal.DefaultOptions
	opts.NoSync = true
	w, err := wal.Open(s.dir, opts)
	if err != nil {
		return fmt.Errorf("%w: reopen log: %v", ErrIO, err)
	}

	s.log = w
	s.firstIndex = 0
	s.lastIndex = 0
	s.lastTerm = 0
	return nil
}

// Close syncs and closes the underlying log.
func (s *LogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.log.Close(); err != nil {
		return fmt.Errorf("%w: close log: %v", ErrIO, err)
	}
	return nil
}
