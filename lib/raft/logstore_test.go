package raft

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-test/deep"
)

func testEntry(index, term uint64, cmd string) LogEntry {
	return LogEntry{Index: index, Term: term, Type: EntryNormal, Command: []byte(cmd)}
}

func openTestLog(t *testing.T, dir string) *LogStore {
	t.Helper()
	s, err := OpenLogStore(dir)
	if err != nil {
		t.Fatalf("open log store: %v", err)
	}
	return s
}

func TestLogStoreAppendRead(t *testing.T) {
	s := openTestLog(t, t.TempDir())
	defer s.Close()

	if s.FirstIndex() != 0 || s.LastIndex() != 0 {
		t.Fatalf("expected empty log, got bounds [%d, %d]", s.FirstIndex(), s.LastIndex())
	}

	want := []LogEntry{
		testEntry(1, 1, "a"),
		testEntry(2, 1, "b"),
		testEntry(3, 2, "c"),
	}
	if err := s.Append(want...); err != nil {
		t.Fatalf("append: %v", err)
	}

	if s.FirstIndex() != 1 || s.LastIndex() != 3 {
		t.Errorf("expected bounds [1, 3], got [%d, %d]", s.FirstIndex(), s.LastIndex())
	}
	if s.LastTerm() != 2 {
		t.Errorf("expected last term 2, got %d", s.LastTerm())
	}

	for _, w := range want {
		got, err := s.Entry(w.Index)
		if err != nil {
			t.Fatalf("read entry %d: %v", w.Index, err)
		}
		if diff := deep.Equal(got, w); diff != nil {
			t.Errorf("entry %d mismatch: %v", w.Index, diff)
		}
	}

	got, err := s.Entries(1, 3, 0)
	if err != nil {
		t.Fatalf("range read: %v", err)
	}
	if diff := deep.Equal(got, want); diff != nil {
		t.Errorf("range mismatch: %v", diff)
	}

	capped, err := s.Entries(1, 3, 2)
	if err != nil {
		t.Fatalf("capped range read: %v", err)
	}
	if len(capped) != 2 {
		t.Errorf("expected 2 entries with max=2, got %d", len(capped))
	}
}

func TestLogStoreBoundsErrors(t *testing.T) {
	s := openTestLog(t, t.TempDir())
	defer s.Close()

	if _, err := s.Entry(1); !errors.Is(err, ErrCompacted) {
		t.Errorf("expected ErrCompacted on empty log, got %v", err)
	}

	if err := s.Append(testEntry(1, 1, "a")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Entry(2); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound beyond last index, got %v", err)
	}

	// gaps must be rejected
	if err := s.Append(testEntry(5, 1, "x")); err == nil {
		t.Error("expected error appending with an index gap")
	}
}

func TestLogStoreTermConvenience(t *testing.T) {
	s := openTestLog(t, t.TempDir())
	defer s.Close()

	if term, err := s.Term(0); err != nil || term != 0 {
		t.Errorf("expected term 0 for index 0, got %d, %v", term, err)
	}

	if err := s.Append(testEntry(1, 7, "a")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if term, err := s.Term(1); err != nil || term != 7 {
		t.Errorf("expected term 7, got %d, %v", term, err)
	}
}

func TestLogStoreTruncateFrom(t *testing.T) {
	s := openTestLog(t, t.TempDir())
	defer s.Close()

	for i := uint64(1); i <= 5; i++ {
		if err := s.Append(testEntry(i, i, fmt.Sprintf("e%d", i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if err := s.TruncateFrom(4); err != nil {
		t.Fatalf("truncate from 4: %v", err)
	}
	if s.LastIndex() != 3 || s.LastTerm() != 3 {
		t.Errorf("expected last (3, term 3), got (%d, term %d)", s.LastIndex(), s.LastTerm())
	}
	if _, err := s.Entry(4); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for truncated entry, got %v", err)
	}

	// the log accepts a different suffix afterwards
	if err := s.Append(testEntry(4, 9, "new")); err != nil {
		t.Fatalf("append after truncate: %v", err)
	}
	e, err := s.Entry(4)
	if err != nil || e.Term != 9 {
		t.Errorf("expected replacement entry with term 9, got %+v, %v", e, err)
	}

	// truncating everything clears the log
	if err := s.TruncateFrom(1); err != nil {
		t.Fatalf("full truncate: %v", err)
	}
	if s.FirstIndex() != 0 || s.LastIndex() != 0 {
		t.Errorf("expected empty log, got [%d, %d]", s.FirstIndex(), s.LastIndex())
	}
	if err := s.Append(testEntry(1, 1, "restart")); err != nil {
		t.Fatalf("append after full truncate: %v", err)
	}
}

func TestLogStoreCompact(t *testing.T) {
	s := openTestLog(t, t.TempDir())
	defer s.Close()

	for i := uint64(1); i <= 10; i++ {
		if err := s.Append(testEntry(i, 1, fmt.Sprintf("e%d", i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if err := s.Compact(6); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if s.FirstIndex() != 7 || s.LastIndex() != 10 {
		t.Errorf("expected bounds [7, 10], got [%d, %d]", s.FirstIndex(), s.LastIndex())
	}
	if _, err := s.Entry(6); !errors.Is(err, ErrCompacted) {
		t.Errorf("expected ErrCompacted, got %v", err)
	}
	if _, err := s.Entry(7); err != nil {
		t.Errorf("expected entry 7 readable, got %v", err)
	}

	// compacting past the end still retains the last entry
	if err := s.Compact(100); err != nil {
		t.Fatalf("over-compact: %v", err)
	}
	if s.FirstIndex() != 10 || s.LastIndex() != 10 {
		t.Errorf("expected bounds [10, 10], got [%d, %d]", s.FirstIndex(), s.LastIndex())
	}
}

func TestLogStoreReopen(t *testing.T) {
	dir := t.TempDir()

	s := openTestLog(t, dir)
	want := []LogEntry{
		testEntry(1, 1, "survives"),
		testEntry(2, 2, "a restart"),
	}
	if err := s.Append(want...); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s = openTestLog(t, dir)
	defer s.Close()

	if s.FirstIndex() != 1 || s.LastIndex() != 2 || s.LastTerm() != 2 {
		t.Fatalf("bounds lost across reopen: [%d, %d] term %d",
			s.FirstIndex(), s.LastIndex(), s.LastTerm())
	}
	got, err := s.Entries(1, 2, 0)
	if err != nil {
		t.Fatalf("range read: %v", err)
	}
	if diff := deep.Equal(got, want); diff != nil {
		t.Errorf("entries changed across reopen: %v", diff)
	}
}
