package lstore

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ValentinKolb/rkv/lib/db"
	"github.com/ValentinKolb/rkv/lib/db/engines/cedar"
)

func newTestStore() *storeImpl {
	return NewLocalStore(func() db.KVDB { return cedar.NewCedarDB() }).(*storeImpl)
}

func TestLocalStoreRoundtrip(t *testing.T) {
	s := newTestStore()

	if err := s.Set("key", []byte("value")); err != nil {
		t.Fatalf("set: %v", err)
	}

	value, ok, err := s.Get("key")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v, err=%v", ok, err)
	}
	if !bytes.Equal(value, []byte("value")) {
		t.Errorf("expected value, got %q", value)
	}

	has, err := s.Has("key")
	if err != nil || !has {
		t.Errorf("expected key present, has=%v, err=%v", has, err)
	}

	if err := s.Delete("key"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get("key"); ok {
		t.Error("expected key gone after delete")
	}
}

func TestLocalStoreWriteIndexProgression(t *testing.T) {
	s := newTestStore()

	for i := 0; i < 10; i++ {
		if err := s.Set(fmt.Sprintf("k%d", i), []byte("v")); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}

	info, err := s.GetDBInfo()
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Entries != 10 {
		t.Errorf("expected 10 entries, got %d", info.Entries)
	}
	if s.index.Load() != 10 {
		t.Errorf("expected write index 10, got %d", s.index.Load())
	}
}
