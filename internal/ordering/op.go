package ordering

import (
	"encoding/json"
	"errors"
	"fmt"
)

// OpKind enumerates the convergent operations carried on the replication
// channel.
type OpKind string

const (
	// OpInsert places a new record at a position.
	OpInsert OpKind = "insert"
	// OpDelete removes a record.
	OpDelete OpKind = "delete"
	// OpReorder moves a record to a new position.
	OpReorder OpKind = "reorder"
)

// ErrInvalidOp indicates a replicated operation failed validation.
var ErrInvalidOp = errors.New("ordering: invalid op")

// Op is one replicated mutation of the ordering set. Timestamp is a Lamport
// timestamp: any operation issued after observing another carries a strictly
// greater value, so replaying ops sorted by (Timestamp, OpID) respects
// causality and is identical on every replica that holds the same ops.
type Op struct {
	Schema    int    `json:"schema"`
	Kind      OpKind `json:"kind"`
	OpID      string `json:"op_id"`
	Timestamp int64  `json:"timestamp"`
	SlideID   string `json:"slide_id"`
	Position  int    `json:"position"`
	Record    Record `json:"record,omitempty"`
}

// Validate checks the operation's schema, identity, and kind-specific fields.
func (op Op) Validate() error {
	if op.Schema != RecordSchemaVersion {
		return fmt.Errorf("%w: op schema %d, want %d", ErrSchemaMismatch, op.Schema, RecordSchemaVersion)
	}
	if op.OpID == "" {
		return fmt.Errorf("%w: empty op id", ErrInvalidOp)
	}
	if op.SlideID == "" {
		return fmt.Errorf("%w: empty slide id", ErrInvalidOp)
	}
	if op.Timestamp <= 0 {
		return fmt.Errorf("%w: non-positive timestamp", ErrInvalidOp)
	}
	switch op.Kind {
	case OpInsert:
		if err := op.Record.Validate(); err != nil {
			return err
		}
		if op.Record.SlideID != op.SlideID {
			return fmt.Errorf("%w: record slide id mismatch", ErrInvalidOp)
		}
	case OpDelete, OpReorder:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOp, op.Kind)
	}
	return nil
}

func (op Op) less(other Op) bool {
	if op.Timestamp != other.Timestamp {
		return op.Timestamp < other.Timestamp
	}
	return op.OpID < other.OpID
}

// EncodeOp serializes an operation for the replication channel.
func EncodeOp(op Op) ([]byte, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(op)
}

// DecodeOp parses an operation received from the replication channel.
func DecodeOp(payload []byte) (Op, error) {
	var op Op
	if err := json.Unmarshal(payload, &op); err != nil {
		return Op{}, fmt.Errorf("%w: %v", ErrInvalidOp, err)
	}
	if err := op.Validate(); err != nil {
		return Op{}, err
	}
	return op, nil
}
