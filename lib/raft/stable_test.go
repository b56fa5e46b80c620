package raft

import "testing"

func TestStableStateRoundtrip(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenStableState(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.CurrentTerm() != 0 || s.VotedFor() != "" {
		t.Fatalf("fresh state not zeroed: term %d, vote %q", s.CurrentTerm(), s.VotedFor())
	}

	if err := s.Set(7, "node-2"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if s.CurrentTerm() != 7 || s.VotedFor() != "node-2" {
		t.Errorf("expected (7, node-2), got (%d, %q)", s.CurrentTerm(), s.VotedFor())
	}

	// a reopened state must see exactly what was last synced
	s2, err := OpenStableState(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if s2.CurrentTerm() != 7 || s2.VotedFor() != "node-2" {
		t.Errorf("state lost across reopen: (%d, %q)", s2.CurrentTerm(), s2.VotedFor())
	}
}

func TestStableStateOverwrite(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenStableState(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Set(3, "node-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(4, ""); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	s2, err := OpenStableState(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if s2.CurrentTerm() != 4 || s2.VotedFor() != "" {
		t.Errorf("expected (4, \"\"), got (%d, %q)", s2.CurrentTerm(), s2.VotedFor())
	}
}
