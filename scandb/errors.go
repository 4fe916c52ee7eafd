package scandb

import (
	"errors"
	"fmt"
)

// ==================== Sentinel Errors ====================

var (
	// ErrEmptyUUID is returned when a run ID parameter is empty
	ErrEmptyUUID = fmt.Errorf("UUID cannot be empty")

	// ErrInvalidUUID is returned when a run ID is not a valid UUID
	ErrInvalidUUID = fmt.Errorf("invalid UUID format")

	// ErrEmptyImageID is returned when an image record has no image ID
	ErrEmptyImageID = fmt.Errorf("image ID cannot be empty")

	// ErrRecordNotFound is returned when a run record doesn't exist
	ErrRecordNotFound = fmt.Errorf("scan record not found")

	// ErrBucketNotFound is returned when a required bucket doesn't exist
	ErrBucketNotFound = fmt.Errorf("database bucket not found")

	// ErrOrphanedRecord is returned when the image index points to a missing run
	ErrOrphanedRecord = fmt.Errorf("orphaned record reference")
)

// ==================== Structured Error Types ====================

// DatabaseError wraps database operation errors with the operation and
// bucket involved
type DatabaseError struct {
	Op     string // "open", "create bucket", "get bucket", ...
	Bucket string
	Err    error
}

func (e *DatabaseError) Error() string {
	if e.Bucket != "" {
		return fmt.Sprintf("database %s [bucket: %s]: %v", e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// RecordError wraps run record operation errors with the run involved
type RecordError struct {
	Op   string
	UUID string
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("scan record %s [uuid: %s]: %v", e.Op, e.UUID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// ValidationError reports an invalid argument
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("validation failed [%s=%s]: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("validation failed [%s]: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ==================== Error Inspection Helpers ====================

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDatabaseError checks if the error is a database operation error
func IsDatabaseError(err error) bool {
	var de *DatabaseError
	return errors.As(err, &de)
}

// IsRecordNotFound checks if the error indicates a missing run record
func IsRecordNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}
