package internal

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// TestSizeBytes tests the SizeBytes method
func TestSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		expected int
	}{
		{
			name: "Command with key and value",
			command: Command{
				Type:  CommandTSet,
				Key:   "testkey",
				Value: []byte("testvalue"),
			},
			expected: 1 + 4 + 7 + 9, // Type + KeyLen + Key + Value
		},
		{
			name: "Command with empty key and value",
			command: Command{
				Type:  CommandTSet,
				Key:   "",
				Value: []byte("testvalue"),
			},
			expected: 1 + 4 + 0 + 9, // Type + KeyLen + Key + Value
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := tt.command.SizeBytes()
			if size != tt.expected {
				t.Errorf("SizeBytes() = %v, want %v", size, tt.expected)
			}
		})
	}
}

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{
			name: "Standard command with value",
			command: Command{
				Type:  CommandTSet,
				Key:   "testkey",
				Value: []byte("testvalue"),
			},
		},
		{
			name: "Command without value",
			command: Command{
				Type:  CommandTDelete,
				Key:   "testkey",
				Value: nil,
			},
		},
		{
			name: "Command with empty key",
			command: Command{
				Type:  CommandTSet,
				Key:   "",
				Value: []byte("testvalue"),
			},
		},
		{
			name: "Command with binary value",
			command: Command{
				Type:  CommandTSet,
				Key:   "binary",
				Value: []byte{0, 1, 2, 3, 254, 255},
			},
		},
		{
			name: "Command with Unicode key",
			command: Command{
				Type:  CommandTSet,
				Key:   "你好世界", // Hello World in Chinese
				Value: []byte("unicode test"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Serialize
			data := tt.command.Serialize()

			// Deserialize into a new command
			var newCommand Command
			err := newCommand.Deserialize(data)
			if err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}

			// Compare original and deserialized command
			if newCommand.Type != tt.command.Type {
				t.Errorf("Type mismatch: got %v, want %v", newCommand.Type, tt.command.Type)
			}
			if newCommand.Key != tt.command.Key {
				t.Errorf("Key mismatch: got %q, want %q", newCommand.Key, tt.command.Key)
			}

			// Value comparison handling nil case
			if tt.command.Value == nil {
				if newCommand.Value != nil && len(newCommand.Value) != 0 {
					t.Errorf("Value should be nil or empty, got %v", newCommand.Value)
				}
			} else if !bytes.Equal(newCommand.Value, tt.command.Value) {
				t.Errorf("Value mismatch: got %v, want %v", newCommand.Value, tt.command.Value)
			}

			// Verify that SizeBytes matches the serialized data length
			if tt.command.SizeBytes() != len(data) {
				t.Errorf("SizeBytes() = %d, but serialized data length = %d",
					tt.command.SizeBytes(), len(data))
			}
		})
	}
}

// TestDeserializeErrors tests error cases in Deserialize
func TestDeserializeErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectedErr string
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectedErr: "data too short for command",
		},
		{
			name:        "Data too short (less than header)",
			data:        []byte{1, 2, 3},
			expectedErr: "data too short for command",
		},
		{
			name: "Invalid key length",
			data: func() []byte {
				data := make([]byte, 5) // Just the header
				data[0] = byte(CommandTSet)
				// Set key length to a large value that exceeds the data
				binary.BigEndian.PutUint32(data[1:5], 1000)
				return data
			}(),
			expectedErr: "data too short for key of length 1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			err := cmd.Deserialize(tt.data)

			// Check if we got the expected error
			if err == nil {
				t.Fatalf("Expected error but got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("Expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

// TestBinaryFormat tests the exact binary format of serialized commands
func TestBinaryFormat(t *testing.T) {
	cmd := Command{
		Type:  CommandTSet,
		Key:   "testkey",
		Value: []byte("testvalue"),
	}

	// Manually create the expected byte array
	expected := make([]byte, cmd.SizeBytes())
	// Type
	expected[0] = byte(CommandTSet)
	// Key length
	binary.BigEndian.PutUint32(expected[1:5], 7) // "testkey" length
	// Key
	copy(expected[5:12], []byte("testkey"))
	// Value
	copy(expected[12:], []byte("testvalue"))

	// Serialize and compare
	serialized := cmd.Serialize()
	if !bytes.Equal(serialized, expected) {
		t.Errorf("Binary format does not match:\nGot:      %v\nExpected: %v", serialized, expected)
	}
}

// TestQueryRoundtrip tests the query and result codecs
func TestQueryRoundtrip(t *testing.T) {
	q := Query{Type: QueryTGet, Key: "some-key"}
	var q2 Query
	if err := q2.Deserialize(q.Serialize()); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if q2 != q {
		t.Errorf("query roundtrip mismatch: got %+v, want %+v", q2, q)
	}

	r := QueryResult{Ok: true, Value: []byte{1, 2, 3}}
	var r2 QueryResult
	if err := r2.Deserialize(r.Serialize()); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if r2.Ok != r.Ok || !bytes.Equal(r2.Value, r.Value) {
		t.Errorf("result roundtrip mismatch: got %+v, want %+v", r2, r)
	}

	miss := QueryResult{Ok: false}
	var miss2 QueryResult
	if err := miss2.Deserialize(miss.Serialize()); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if miss2.Ok || miss2.Value != nil {
		t.Errorf("expected empty miss result, got %+v", miss2)
	}

	res := Result{Code: 4, Data: []byte("node-2")}
	var res2 Result
	if err := res2.Deserialize(res.Serialize()); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if res2.Code != res.Code || !bytes.Equal(res2.Data, res.Data) {
		t.Errorf("result roundtrip mismatch: got %+v, want %+v", res2, res)
	}
}
