package raft

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// --------------------------------------------------------------------------
// Snapshot Store
// --------------------------------------------------------------------------

// snapshotMagic identifies a snapshot file ("RKVSNAP\x01").
var snapshotMagic = [8]byte{'R', 'K', 'V', 'S', 'N', 'A', 'P', 1}

const snapshotSuffix = ".snap"

// retainedSnapshots is how many snapshot generations are kept on disk. The
// previous generation survives until the new one is durable, so a crash
// during snapshotting never leaves the node without a restore point.
const retainedSnapshots = 2

// SnapshotMeta describes the log position a snapshot covers: the state
// contains every command up to and including Index.
type SnapshotMeta struct {
	Index uint64
	Term  uint64
}

// SnapshotStore persists point-in-time copies of the state machine for one
// shard. Snapshots are written to a temporary file and renamed into place,
// so a partially written snapshot is never visible.
type SnapshotStore struct {
	dir string
}

// OpenSnapshotStore opens (or creates) the snapshot directory and removes
// any temporary files left behind by a crashed writer.
func OpenSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create snapshot dir: %v", ErrIO, err)
	}

	names, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read snapshot dir: %v", ErrIO, err)
	}
	for _, ent := range names {
		if strings.HasSuffix(ent.Name(), ".tmp") {
			_ = os.Remove(filepath.Join(dir, ent.Name()))
		}
	}

	return &SnapshotStore{dir: dir}, nil
}

func (ss *SnapshotStore) fileName(meta SnapshotMeta) string {
	return fmt.Sprintf("snapshot-%020d-%020d%s", meta.Index, meta.Term, snapshotSuffix)
}

// Save writes a new snapshot. The save callback streams the state machine
// contents into the file; the header carrying the metadata is written first.
// The file is synced and renamed into place before older generations are
// pruned.
func (ss *SnapshotStore) Save(meta SnapshotMeta, save func(w io.Writer) error) error {
	tmp := filepath.Join(ss.dir, ss.fileName(meta)+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create snapshot tmp: %v", ErrIO, err)
	}

	header := make([]byte, 8+8+8)
	copy(header[0:8], snapshotMagic[:])
	binary.LittleEndian.PutUint64(header[8:16], meta.Index)
	binary.LittleEndian.PutUint64(header[16:24], meta.Term)

	err = func() error {
		if _, err := f.Write(header); err != nil {
			return fmt.Errorf("%w: write snapshot header: %v", ErrIO, err)
		}
		if err := save(f); err != nil {
			return fmt.Errorf("%w: write snapshot body: %v", ErrIO, err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("%w: sync snapshot: %v", ErrIO, err)
		}
		return nil
	}()
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: close snapshot: %v", ErrIO, cerr)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}

	final := filepath.Join(ss.dir, ss.fileName(meta))
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("%w: rename snapshot: %v", ErrIO, err)
	}

	ss.prune()
	return nil
}

// Latest returns the metadata of the newest snapshot, or ok=false if none
// exists yet.
func (ss *SnapshotStore) Latest() (meta SnapshotMeta, ok bool, err error) {
	names, err := ss.list()
	if err != nil {
		return SnapshotMeta{}, false, err
	}
	if len(names) == 0 {
		return SnapshotMeta{}, false, nil
	}

	meta, err = ss.parseName(names[len(names)-1])
	if err != nil {
		return SnapshotMeta{}, false, err
	}
	return meta, true, nil
}

// Open returns the newest snapshot's metadata and a reader over its body.
// The header is validated against the file name before the reader is handed
// out. Returns ok=false if no snapshot exists.
func (ss *SnapshotStore) Open() (meta SnapshotMeta, body io.ReadCloser, ok bool, err error) {
	meta, ok, err = ss.Latest()
	if err != nil || !ok {
		return SnapshotMeta{}, nil, false, err
	}

	f, err := os.Open(filepath.Join(ss.dir, ss.fileName(meta)))
	if err != nil {
		return SnapshotMeta{}, nil, false, fmt.Errorf("%w: open snapshot: %v", ErrIO, err)
	}

	header := make([]byte, 24)
	if _, err := io.ReadFull(f, header); err != nil {
		_ = f.Close()
		return SnapshotMeta{}, nil, false, fmt.Errorf("%w: read snapshot header: %v", ErrIO, err)
	}
	if [8]byte(header[0:8]) != snapshotMagic {
		_ = f.Close()
		return SnapshotMeta{}, nil, false, fmt.Errorf("%w: bad snapshot magic", ErrIO)
	}
	if idx := binary.LittleEndian.Uint64(header[8:16]); idx != meta.Index {
		_ = f.Close()
		return SnapshotMeta{}, nil, false, fmt.Errorf("%w: snapshot index mismatch: header %d, name %d", ErrIO, idx, meta.Index)
	}

	return meta, f, true, nil
}

// ---- Housekeeping ----

// list returns all snapshot file names sorted ascending. The zero-padded
// index in the name makes lexical order equal log order.
func (ss *SnapshotStore) list() ([]string, error) {
	entries, err := os.ReadDir(ss.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read snapshot dir: %v", ErrIO, err)
	}

	var names []string
	for _, ent := range entries {
		if strings.HasSuffix(ent.Name(), snapshotSuffix) {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (ss *SnapshotStore) parseName(name string) (SnapshotMeta, error) {
	var meta SnapshotMeta
	base := strings.TrimSuffix(name, snapshotSuffix)
	if _, err := fmt.Sscanf(base, "snapshot-%d-%d", &meta.Index, &meta.Term); err != nil {
		return meta, fmt.Errorf("%w: malformed snapshot name %q", ErrIO, name)
	}
	return meta, nil
}

// prune deletes all but the newest retainedSnapshots generations. Failures
// are ignored, a leftover snapshot is harmless and retried next time.
func (ss *SnapshotStore) prune() {
	names, err := ss.list()
	if err != nil || len(names) <= retainedSnapshots {
		return
	}
	for _, name := range names[:len(names)-retainedSnapshots] {
		_ = os.Remove(filepath.Join(ss.dir, name))
	}
}
