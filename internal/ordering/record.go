package ordering

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RecordSchemaVersion is bumped whenever the replicated record layout changes.
// Replicas reject records from a newer schema instead of silently dropping
// fields.
const RecordSchemaVersion = 1

var (
	// ErrInvalidRecord indicates a replicated slide record failed validation.
	ErrInvalidRecord = errors.New("ordering: invalid record")
	// ErrSchemaMismatch indicates a record or operation from an incompatible schema.
	ErrSchemaMismatch = errors.New("ordering: schema mismatch")
)

// Record is the replicated slide identity tuple mirrored by every attached
// client. It is a fixed tagged record, never an open key-value map, and it
// never carries slide content.
type Record struct {
	Schema           int    `json:"schema"`
	SlideID          string `json:"slide_id"`
	PresentationID   string `json:"presentation_id"`
	Position         int    `json:"position"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

// Validate checks the record's schema and identifiers.
func (r Record) Validate() error {
	if r.Schema != RecordSchemaVersion {
		return fmt.Errorf("%w: record schema %d, want %d", ErrSchemaMismatch, r.Schema, RecordSchemaVersion)
	}
	if r.SlideID == "" {
		return fmt.Errorf("%w: empty slide id", ErrInvalidRecord)
	}
	if r.PresentationID == "" {
		return fmt.Errorf("%w: empty presentation id", ErrInvalidRecord)
	}
	if r.Position < 0 {
		return fmt.Errorf("%w: negative position", ErrInvalidRecord)
	}
	return nil
}

// EncodeRecord serializes a record for the replication channel.
func EncodeRecord(record Record) ([]byte, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(record)
}

// DecodeRecord parses a record received from the replication channel and
// verifies its schema version.
func DecodeRecord(payload []byte) (Record, error) {
	var record Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := record.Validate(); err != nil {
		return Record{}, err
	}
	return record, nil
}
