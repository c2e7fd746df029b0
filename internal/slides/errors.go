package slides

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the addressed presentation, slide, or share does not exist
	// (expired shares are reported the same way).
	ErrNotFound = errors.New("slides: not found")
	// ErrForbidden indicates the requester's access level does not permit the operation.
	ErrForbidden = errors.New("slides: forbidden")
	// ErrConflict indicates a position mutation kept failing serialization after retries.
	ErrConflict = errors.New("slides: conflicting mutation")
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// isRetryableTxnError reports whether the storage error is sqlite contention
// that a bounded retry may clear.
func isRetryableTxnError(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "database table is locked") ||
		strings.Contains(message, "busy")
}
