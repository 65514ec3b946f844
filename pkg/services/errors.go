package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a target entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned for duplicate channel names and duplicate
	// (channel, title) topic pairs.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrCrossChannelMove is returned when a retopic target lives in a
	// different channel than the anchor message.
	ErrCrossChannelMove = errors.New("target topic is in a different channel")

	// ErrStoreBusy is returned when write-lock contention exceeded the
	// store's busy timeout. Upstream typically maps this to a retryable 503.
	ErrStoreBusy = errors.New("store busy")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %q: %s", e.Field, e.Message)
}

// NewValidationError creates a field-level validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// PayloadTooLargeError reports a field exceeding its byte budget. Kept
// distinct from ValidationError so the HTTP adapter can map it to 413.
type PayloadTooLargeError struct {
	Field string
	Limit int
	Size  int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("%s is %d bytes, limit is %d", e.Field, e.Size, e.Limit)
}

// VersionConflictError reports an optimistic-concurrency mismatch. It
// carries the version the loser must rebase onto.
type VersionConflictError struct {
	CurrentVersion int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: current version is %d", e.CurrentVersion)
}
