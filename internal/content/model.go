package content

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidUpdate indicates that a content update payload is invalid.
	ErrInvalidUpdate = errors.New("content: invalid update")
	// ErrInvalidSnapshot indicates that a content snapshot payload is invalid.
	ErrInvalidSnapshot = errors.New("content: invalid snapshot")
	// ErrInvalidUpdateID indicates that an update identifier is invalid.
	ErrInvalidUpdateID = errors.New("content: invalid update id")
)

// UpdateBase64 stores a validated base64-encoded text-CRDT update payload.
// The payload is opaque: merging belongs to the external CRDT library.
type UpdateBase64 string

// NewUpdateBase64 validates raw input and returns an UpdateBase64.
func NewUpdateBase64(rawInput string) (UpdateBase64, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUpdate)
	}
	if _, err := base64.StdEncoding.DecodeString(trimmed); err != nil {
		return "", fmt.Errorf("%w: invalid base64", ErrInvalidUpdate)
	}
	return UpdateBase64(trimmed), nil
}

// String returns the update payload as a string.
func (payload UpdateBase64) String() string {
	return string(payload)
}

// SnapshotBase64 stores a validated base64-encoded text-CRDT snapshot payload.
type SnapshotBase64 string

// NewSnapshotBase64 validates raw input and returns a SnapshotBase64.
func NewSnapshotBase64(rawInput string) (SnapshotBase64, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSnapshot)
	}
	if _, err := base64.StdEncoding.DecodeString(trimmed); err != nil {
		return "", fmt.Errorf("%w: invalid base64", ErrInvalidSnapshot)
	}
	return SnapshotBase64(trimmed), nil
}

// String returns the snapshot payload as a string.
func (payload SnapshotBase64) String() string {
	return string(payload)
}

// UpdateID represents a validated content update identifier.
type UpdateID int64

// NewUpdateID validates the value and returns an UpdateID.
func NewUpdateID(value int64) (UpdateID, error) {
	if value < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidUpdateID, value)
	}
	return UpdateID(value), nil
}

// Int64 returns the update identifier as an int64.
func (id UpdateID) Int64() int64 {
	return int64(id)
}

// Update stores an append-only text-CRDT update for one slide's namespace.
type Update struct {
	UpdateID         int64  `gorm:"column:update_id;primaryKey;autoIncrement"`
	SlideID          string `gorm:"column:slide_id;size:190;not null;index:idx_content_updates_slide;uniqueIndex:idx_content_update_dedupe,priority:1"`
	UpdateB64        string `gorm:"column:update_b64;type:text;not null"`
	UpdateHash       string `gorm:"column:update_hash;size:64;not null;uniqueIndex:idx_content_update_dedupe,priority:2"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Update) TableName() string {
	return "slide_content_updates"
}

// Snapshot stores the compacted text-CRDT state per slide namespace.
type Snapshot struct {
	SlideID          string `gorm:"column:slide_id;primaryKey;size:190;not null"`
	SnapshotB64      string `gorm:"column:snapshot_b64;type:text;not null"`
	SnapshotUpdateID int64  `gorm:"column:snapshot_update_id;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Snapshot) TableName() string {
	return "slide_content_snapshots"
}
