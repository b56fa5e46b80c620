package raft

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// --------------------------------------------------------------------------
// Stable State
// --------------------------------------------------------------------------

// stableMagic identifies a stable state file ("RKVSTATE").
var stableMagic = [8]byte{'R', 'K', 'V', 'S', 'T', 'A', 'T', 'E'}

// stableVersion is the current file format version.
const stableVersion uint16 = 1

const stableFileName = "stable.state"

// StableState is the tiny durable record of the two fields that must never
// regress across a crash: the highest term seen and the vote cast in it.
// A vote is persisted before the reply leaves the node; otherwise a crash
// could let the node vote twice in one term and elect two leaders.
type StableState struct {
	path string

	currentTerm uint64
	votedFor    NodeID
}

// OpenStableState loads the state file under dir, creating a zeroed state
// if none exists yet.
func OpenStableState(dir string) (*StableState, error) {
	s := &StableState{path: filepath.Join(dir, stableFileName)}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read stable state: %v", ErrIO, err)
	}

	if err := s.decode(data); err != nil {
		return nil, err
	}
	return s, nil
}

// CurrentTerm returns the highest term this node has seen.
func (s *StableState) CurrentTerm() uint64 {
	return s.currentTerm
}

// VotedFor returns the candidate voted for in the current term, or "".
func (s *StableState) VotedFor() NodeID {
	return s.votedFor
}

// Set persists term and vote atomically. The file is written to a temporary
// sibling, synced, and renamed over the old state, so a crash leaves either
// the old record or the new one, never a torn mix.
func (s *StableState) Set(term uint64, votedFor NodeID) error {
	data := s.encode(term, votedFor)

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create stable tmp: %v", ErrIO, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: write stable tmp: %v", ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: sync stable tmp: %v", ErrIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close stable tmp: %v", ErrIO, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: rename stable state: %v", ErrIO, err)
	}

	s.currentTerm = term
	s.votedFor = votedFor
	return nil
}

// ---- Encoding ----

// Format: 8 bytes magic, 2 bytes version, 8 bytes term,
// 2 bytes vote length, N bytes vote (all little endian).
func (s *StableState) encode(term uint64, votedFor NodeID) []byte {
	data := make([]byte, 8+2+8+2+len(votedFor))
	copy(data[0:8], stableMagic[:])
	binary.LittleEndian.PutUint16(data[8:10], stableVersion)
	binary.LittleEndian.PutUint64(data[10:18], term)
	binary.LittleEndian.PutUint16(data[18:20], uint16(len(votedFor)))
	copy(data[20:], votedFor)
	return data
}

func (s *StableState) decode(data []byte) error {
	if len(data) < 20 {
		return fmt.Errorf("%w: stable state too short: %d bytes", ErrIO, len(data))
	}
	if [8]byte(data[0:8]) != stableMagic {
		return fmt.Errorf("%w: bad stable state magic", ErrIO)
	}
	if v := binary.LittleEndian.Uint16(data[8:10]); v != stableVersion {
		return fmt.Errorf("%w: unsupported stable state version %d", ErrIO, v)
	}

	s.currentTerm = binary.LittleEndian.Uint64(data[10:18])
	voteLen := binary.LittleEndian.Uint16(data[18:20])
	if len(data) < 20+int(voteLen) {
		return fmt.Errorf("%w: stable state vote truncated", ErrIO)
	}
	s.votedFor = NodeID(data[20 : 20+voteLen])
	return nil
}
