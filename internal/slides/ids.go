package slides

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidPresentationID indicates a presentation identifier is empty or exceeds storage bounds.
	ErrInvalidPresentationID = errors.New("slides: invalid presentation id")
	// ErrInvalidSlideID indicates a slide identifier is empty or exceeds storage bounds.
	ErrInvalidSlideID = errors.New("slides: invalid slide id")
	// ErrInvalidShareID indicates a share identifier is empty or exceeds storage bounds.
	ErrInvalidShareID = errors.New("slides: invalid share id")
	// ErrInvalidUserID indicates a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("slides: invalid user id")
	// ErrInvalidScope indicates an unknown share scope value.
	ErrInvalidScope = errors.New("slides: invalid share scope")
	// ErrInvalidPermission indicates an unknown share permission value.
	ErrInvalidPermission = errors.New("slides: invalid share permission")
)

func validateIdentifier(rawInput string, kind error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", kind)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", kind, maxIdentifierLength)
	}
	return trimmed, nil
}

// PresentationID represents a validated presentation identifier.
type PresentationID string

// NewPresentationID validates raw input and returns a PresentationID.
func NewPresentationID(rawInput string) (PresentationID, error) {
	value, err := validateIdentifier(rawInput, ErrInvalidPresentationID)
	if err != nil {
		return "", err
	}
	return PresentationID(value), nil
}

// String returns the underlying string identifier.
func (id PresentationID) String() string {
	return string(id)
}

// SlideID represents a validated slide identifier.
type SlideID string

// NewSlideID validates raw input and returns a SlideID.
func NewSlideID(rawInput string) (SlideID, error) {
	value, err := validateIdentifier(rawInput, ErrInvalidSlideID)
	if err != nil {
		return "", err
	}
	return SlideID(value), nil
}

// String returns the underlying string identifier.
func (id SlideID) String() string {
	return string(id)
}

// ShareID represents a validated share identifier.
type ShareID string

// NewShareID validates raw input and returns a ShareID.
func NewShareID(rawInput string) (ShareID, error) {
	value, err := validateIdentifier(rawInput, ErrInvalidShareID)
	if err != nil {
		return "", err
	}
	return ShareID(value), nil
}

// String returns the underlying string identifier.
func (id ShareID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	value, err := validateIdentifier(rawInput, ErrInvalidUserID)
	if err != nil {
		return "", err
	}
	return UserID(value), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ParseShareScope validates raw input and returns a ShareScope.
func ParseShareScope(rawInput string) (ShareScope, error) {
	switch ShareScope(strings.ToLower(strings.TrimSpace(rawInput))) {
	case ShareScopePresentation:
		return ShareScopePresentation, nil
	case ShareScopeSlide:
		return ShareScopeSlide, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, rawInput)
	}
}

// ParseSharePermission validates raw input and returns a SharePermission.
func ParseSharePermission(rawInput string) (SharePermission, error) {
	switch SharePermission(strings.ToLower(strings.TrimSpace(rawInput))) {
	case SharePermissionEdit:
		return SharePermissionEdit, nil
	case SharePermissionView:
		return SharePermissionView, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPermission, rawInput)
	}
}

// IDProvider issues unique identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
