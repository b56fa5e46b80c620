package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/rkv/lib/db"
	"github.com/go-test/deep"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a standardized test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("IdempotentReplay", func(t *testing.T) {
			testIdempotentReplay(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("ConcurrentAccess", func(t *testing.T) {
			testConcurrentAccess(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet)
	requireFeature(t, database, db.FeatureGet)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	database.Set(testKey, testValue1, 1)

	result, exists := database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}

	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	database.Set(testKey, testValue2, 2)

	result, exists = database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}

	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	_, exists = database.Get("nonexistent-key")
	if exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	retrievedValue, _ := database.Get(testKey)
	retrievedValue[0] = 'X'

	originalValue, _ := database.Get(testKey)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet)
	requireFeature(t, database, db.FeatureGet)
	requireFeature(t, database, db.FeatureDelete)

	testKey := "delete-key"
	testValue := []byte("delete-value")

	database.Set(testKey, testValue, 1)

	if _, exists := database.Get(testKey); !exists {
		t.Errorf("Expected key %s to exist before Delete", testKey)
	}

	database.Delete(testKey, 2)

	if _, exists := database.Get(testKey); exists {
		t.Errorf("Expected key %s to be gone after Delete", testKey)
	}

	// Deleting a nonexistent key must not panic
	database.Delete("nonexistent-key", 3)
}

func testHas(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet)
	requireFeature(t, database, db.FeatureHas)

	testKey := "has-key"

	if database.Has(testKey) {
		t.Errorf("Expected Has to return false for unset key")
	}

	database.Set(testKey, []byte("has-value"), 1)

	if !database.Has(testKey) {
		t.Errorf("Expected Has to return true after Set")
	}
}

// testIdempotentReplay verifies that re-applying commands with old write
// indexes (as happens during crash-restart log replay) does not regress state.
func testIdempotentReplay(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet)
	requireFeature(t, database, db.FeatureGet)
	requireFeature(t, database, db.FeatureDelete)

	testKey := "replay-key"

	database.Set(testKey, []byte("v1"), 1)
	database.Set(testKey, []byte("v2"), 2)

	// Replay of the first command must be a no-op
	database.Set(testKey, []byte("v1"), 1)

	result, exists := database.Get(testKey)
	if !exists {
		t.Fatalf("Expected key %s to exist after replay", testKey)
	}
	if !bytes.Equal(result, []byte("v2")) {
		t.Errorf("Expected replay to be ignored, got value %s", result)
	}

	// A stale delete must be ignored as well
	database.Delete(testKey, 2)
	if _, exists := database.Get(testKey); !exists {
		t.Errorf("Expected stale Delete to be ignored")
	}

	if got := database.WriteIdx(); got != 2 {
		t.Errorf("Expected write index 2, got %d", got)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	source := factory()
	defer source.Close()

	requireFeature(t, source, db.FeatureSet)
	requireFeature(t, source, db.FeatureSave)
	requireFeature(t, source, db.FeatureLoad)

	want := map[string]string{}
	for i := 1; i <= 100; i++ {
		key := fmt.Sprintf("key-%03d", i)
		value := fmt.Sprintf("value-%03d", i)
		source.Set(key, []byte(value), uint64(i))
		want[key] = value
	}

	var buf bytes.Buffer
	if err := source.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := factory()
	defer restored.Close()

	if err := restored.Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	got := map[string]string{}
	for key := range want {
		value, exists := restored.Get(key)
		if !exists {
			t.Fatalf("Expected key %s to exist after Load", key)
		}
		got[key] = string(value)
	}

	if diff := deep.Equal(want, got); diff != nil {
		t.Errorf("Restored state differs from source: %v", diff)
	}

	if restored.WriteIdx() != source.WriteIdx() {
		t.Errorf("Expected write index %d after Load, got %d", source.WriteIdx(), restored.WriteIdx())
	}
}

func testConcurrentAccess(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet)
	requireFeature(t, database, db.FeatureGet)

	const (
		numWriters      = 4
		numKeysPerGroup = 250
	)

	var wg sync.WaitGroup
	for w := 0; w < numWriters; w++ {
		wg.Add(1)
		go func(group int) {
			defer wg.Done()
			for i := 0; i < numKeysPerGroup; i++ {
				key := fmt.Sprintf("group-%d-key-%d", group, i)
				database.Set(key, []byte(key), uint64(group*numKeysPerGroup+i+1))
			}
		}(w)
	}

	// Readers run concurrently with the writers
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numKeysPerGroup; i++ {
			database.Get(fmt.Sprintf("group-0-key-%d", i))
		}
	}()

	wg.Wait()

	for w := 0; w < numWriters; w++ {
		for i := 0; i < numKeysPerGroup; i++ {
			key := fmt.Sprintf("group-%d-key-%d", w, i)
			value, exists := database.Get(key)
			if !exists {
				t.Fatalf("Expected key %s to exist after concurrent writes", key)
			}
			if !bytes.Equal(value, []byte(key)) {
				t.Fatalf("Unexpected value for key %s: %s", key, value)
			}
		}
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet)
	requireFeature(t, database, db.FeatureGet)

	// Empty value
	database.Set("empty-value", []byte{}, 1)
	value, exists := database.Get("empty-value")
	if !exists {
		t.Errorf("Expected empty value to be stored")
	}
	if len(value) != 0 {
		t.Errorf("Expected empty value, got %v", value)
	}

	// Empty key
	database.Set("", []byte("empty-key"), 2)
	if _, exists := database.Get(""); !exists {
		t.Errorf("Expected empty key to be stored")
	}

	// Large value
	large := bytes.Repeat([]byte{0xAB}, 1<<20)
	database.Set("large", large, 3)
	value, exists = database.Get("large")
	if !exists || !bytes.Equal(value, large) {
		t.Errorf("Expected large value to round-trip")
	}
}
