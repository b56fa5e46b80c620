package raft

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotStoreRoundtrip(t *testing.T) {
	ss, err := OpenSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, ok, err := ss.Latest(); err != nil || ok {
		t.Fatalf("expected no snapshot yet, got ok=%v, err=%v", ok, err)
	}

	body := []byte("state machine contents")
	meta := SnapshotMeta{Index: 42, Term: 3}
	err = ss.Save(meta, func(w io.Writer) error {
		_, err := w.Write(body)
		return err
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	got, reader, ok, err := ss.Open()
	if err != nil || !ok {
		t.Fatalf("open snapshot: ok=%v, err=%v", ok, err)
	}
	defer reader.Close()

	if got != meta {
		t.Errorf("expected meta %+v, got %+v", meta, got)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(data, body) {
		t.Errorf("body mismatch: got %q", data)
	}
}

func TestSnapshotStorePrunesOldGenerations(t *testing.T) {
	dir := t.TempDir()
	ss, err := OpenSnapshotStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for i := uint64(1); i <= 5; i++ {
		err := ss.Save(SnapshotMeta{Index: i * 10, Term: i}, func(w io.Writer) error {
			_, err := w.Write([]byte("gen"))
			return err
		})
		if err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	names, err := ss.list()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != retainedSnapshots {
		t.Errorf("expected %d retained snapshots, got %d", retainedSnapshots, len(names))
	}

	meta, ok, err := ss.Latest()
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v, err=%v", ok, err)
	}
	if meta.Index != 50 || meta.Term != 5 {
		t.Errorf("expected latest (50, 5), got %+v", meta)
	}
}

func TestSnapshotStoreIgnoresAbandonedTemp(t *testing.T) {
	dir := t.TempDir()
	ss, err := OpenSnapshotStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	err = ss.Save(SnapshotMeta{Index: 5, Term: 1}, func(w io.Writer) error {
		_, err := w.Write([]byte("good"))
		return err
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	// simulate a crash mid-write of a newer snapshot
	leftover := filepath.Join(dir, "snapshot-00000000000000000009-00000000000000000002.snap.tmp")
	if err := os.WriteFile(leftover, []byte("torn"), 0o644); err != nil {
		t.Fatalf("write leftover: %v", err)
	}

	ss2, err := OpenSnapshotStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	meta, ok, err := ss2.Latest()
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v, err=%v", ok, err)
	}
	if meta.Index != 5 {
		t.Errorf("expected the durable snapshot at index 5, got %+v", meta)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Error("expected leftover temp file to be removed on open")
	}
}
