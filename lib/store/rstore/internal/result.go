package internal

import (
	"encoding/binary"
	"fmt"
)

// Result is the state machine's reply to one applied command. The code is a
// store.RetCode; Data carries a human-readable detail (or the leader hint).
// The codec is 8 bytes code (big endian) + data bytes.
type Result struct {
	Code uint64
	Data []byte
}

// Serialize encodes the result.
func (r *Result) Serialize() []byte {
	result := make([]byte, 8+len(r.Data))
	binary.BigEndian.PutUint64(result[0:8], r.Code)
	copy(result[8:], r.Data)
	return result
}

// Deserialize extracts all Result fields from a byte array.
func (r *Result) Deserialize(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("data too short for result")
	}
	r.Code = binary.BigEndian.Uint64(data[0:8])
	if len(data) > 8 {
		r.Data = make([]byte, len(data)-8)
		copy(r.Data, data[8:])
	} else {
		r.Data = nil
	}
	return nil
}
