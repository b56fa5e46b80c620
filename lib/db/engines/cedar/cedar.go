package cedar

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/ValentinKolb/rkv/lib/db"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for database behavior and file format
const (
	magicNum     = "CEDARDB\x00" // File format identifier
	cedarVersion = 1             // Database file format version
	ioBufferSize = 1024 * 1024   // Buffer size for Save/Load
)

// supportedFeatures is the feature mask advertised via SupportsFeature
const supportedFeatures = db.FeatureSet |
	db.FeatureGet |
	db.FeatureDelete |
	db.FeatureHas |
	db.FeatureSave |
	db.FeatureLoad

// --------------------------------------------------------------------------
// Core cedar database structure
// --------------------------------------------------------------------------

// entry is a single stored value together with the write index of the
// command that last mutated it. The index makes re-application of a
// replayed command a no-op.
type entry struct {
	value []byte
	index uint64
}

// cedarImpl implements db.KVDB on top of a concurrent hash map.
// A single writer (the state machine applier) mutates the map while any
// number of readers may call Get/Has/Save concurrently.
type cedarImpl struct {
	data      *xsync.MapOf[string, entry]
	writeIdx  atomic.Uint64
	sizeBytes atomic.Int64
}

// NewCedarDB creates a new cedar instance.
func NewCedarDB() db.KVDB {
	return &cedarImpl{
		data: xsync.NewMapOf[string, entry](),
	}
}

// advanceWriteIdx raises the tracked write index to at least idx.
func (c *cedarImpl) advanceWriteIdx(idx uint64) {
	for {
		cur := c.writeIdx.Load()
		if idx <= cur || c.writeIdx.CompareAndSwap(cur, idx) {
			return
		}
	}
}

// --------------------------------------------------------------------------
// Write Operations (docs see db/db.go)
// --------------------------------------------------------------------------

func (c *cedarImpl) Set(key string, value []byte, writeIndex uint64) {
	if old, ok := c.data.Load(key); ok {
		// Replayed or out-of-order command, the stored entry is newer
		if old.index >= writeIndex {
			return
		}
		c.sizeBytes.Add(int64(len(value)) - int64(len(old.value)))
	} else {
		c.sizeBytes.Add(int64(len(key)) + int64(len(value)))
	}
	c.data.Store(key, entry{value: value, index: writeIndex})
	c.advanceWriteIdx(writeIndex)
}

func (c *cedarImpl) Delete(key string, writeIndex uint64) {
	if old, ok := c.data.Load(key); ok {
		if old.index >= writeIndex {
			return
		}
		c.sizeBytes.Add(-int64(len(key)) - int64(len(old.value)))
		c.data.Delete(key)
	}
	c.advanceWriteIdx(writeIndex)
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

func (c *cedarImpl) Get(key string) ([]byte, bool) {
	e, ok := c.data.Load(key)
	if !ok {
		return nil, false
	}
	// Return a copy so callers cannot mutate the stored value
	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, true
}

func (c *cedarImpl) Has(key string) bool {
	_, ok := c.data.Load(key)
	return ok
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists the database to the writer.
// Concurrent reading and writing is allowed during a Save operation: the
// method works on a point-in-time collection of the entries.
func (c *cedarImpl) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, ioBufferSize)

	type record struct {
		key   string
		entry entry
	}

	var records []record
	c.data.Range(func(key string, e entry) bool {
		// Deep copy so later mutations cannot leak into the snapshot
		valueCopy := make([]byte, len(e.value))
		copy(valueCopy, e.value)
		records = append(records, record{key, entry{value: valueCopy, index: e.index}})
		return true
	})

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(cedarVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, c.writeIdx.Load()); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(records))); err != nil {
		return err
	}

	// Write records
	for _, rec := range records {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(rec.key))); err != nil {
			return err
		}
		if _, err := bw.WriteString(rec.key); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, rec.entry.index); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(rec.entry.value))); err != nil {
			return err
		}
		if _, err := bw.Write(rec.entry.value); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load restores a database from the reader.
//
// Thread-safety: this function is not safe for use concurrently with writers.
func (c *cedarImpl) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, ioBufferSize)

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if version != cedarVersion {
		return fmt.Errorf("unsupported cedar version %d", version)
	}

	var writeIdx uint64
	if err := binary.Read(br, binary.LittleEndian, &writeIdx); err != nil {
		return err
	}

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	// Discard any previous state
	data := xsync.NewMapOf[string, entry]()
	var sizeBytes int64

	for i := uint64(0); i < count; i++ {
		var keyLen uint32
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return err
		}
		keyBytes := make([]byte, keyLen)
		if _, err := io.ReadFull(br, keyBytes); err != nil {
			return err
		}

		var index uint64
		if err := binary.Read(br, binary.LittleEndian, &index); err != nil {
			return err
		}

		var valueLen uint32
		if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
			return err
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(br, value); err != nil {
			return err
		}

		data.Store(string(keyBytes), entry{value: value, index: index})
		sizeBytes += int64(keyLen) + int64(valueLen)
	}

	c.data = data
	c.sizeBytes.Store(sizeBytes)
	c.writeIdx.Store(writeIdx)
	return nil
}

// --------------------------------------------------------------------------
// Feature Support and Metadata
// --------------------------------------------------------------------------

func (c *cedarImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

func (c *cedarImpl) GetInfo() db.DatabaseInfo {
	var features []db.Feature
	for f := db.FeatureSet; f <= db.FeatureLoad; f <<= 1 {
		if c.SupportsFeature(f) {
			features = append(features, f)
		}
	}
	return db.DatabaseInfo{
		SizeBytes:         int(c.sizeBytes.Load()),
		Entries:           c.data.Size(),
		DbType:            db.ImplCedar,
		SupportedFeatures: features,
	}
}

func (c *cedarImpl) WriteIdx() uint64 {
	return c.writeIdx.Load()
}

func (c *cedarImpl) Close() error {
	c.data.Clear()
	c.sizeBytes.Store(0)
	return nil
}
