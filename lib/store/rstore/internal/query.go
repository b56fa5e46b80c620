package internal

import "fmt"

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet       QueryType = iota // Retrieve an entry by key.
	QueryTHas                        // Check if a key was ever inserted.
	QueryTGetDBInfo                  // Retrieve metadata about the database underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTHas:
		return "Has"
	case QueryTGetDBInfo:
		return "GetDBInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent to the
// state machine. Since queries cross the consensus interface as raw bytes,
// the codec is a 1-byte type followed by the key.
type Query struct {
	Type QueryType // The type of Query to perform.
	Key  string    // The key for the Query (empty for some queries).
}

// Serialize encodes the query as 1 byte type + key bytes.
func (q *Query) Serialize() []byte {
	result := make([]byte, 1+len(q.Key))
	result[0] = byte(q.Type)
	copy(result[1:], q.Key)
	return result
}

// Deserialize extracts all Query fields from a byte array.
func (q *Query) Deserialize(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("data too short for query")
	}
	q.Type = QueryType(data[0])
	q.Key = string(data[1:])
	return nil
}

// QueryResult is the result of a QueryTGet or QueryTHas operation. DBInfo
// queries return the encoded db.DatabaseInfo directly.
type QueryResult struct {
	Ok    bool
	Value []byte
}

// Serialize encodes the result as 1 byte ok flag + value bytes.
func (r *QueryResult) Serialize() []byte {
	result := make([]byte, 1+len(r.Value))
	if r.Ok {
		result[0] = 1
	}
	copy(result[1:], r.Value)
	return result
}

// Deserialize extracts all QueryResult fields from a byte array.
func (r *QueryResult) Deserialize(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("data too short for query result")
	}
	r.Ok = data[0] == 1
	if len(data) > 1 {
		r.Value = make([]byte, len(data)-1)
		copy(r.Value, data[1:])
	} else {
		r.Value = nil
	}
	return nil
}
