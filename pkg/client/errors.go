package client

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is returned by stream operations after Close.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrUnauthorized is returned when the hub rejects the stream token.
	// Callers must not retry with the same credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrWaitTimeout is returned by WaitForEvent when no matching event
	// arrives in time.
	ErrWaitTimeout = errors.New("timed out waiting for event")

	// ErrGaveUp is returned after too many consecutive failed handshakes.
	ErrGaveUp = errors.New("gave up reconnecting")
)

// MutationError carries the hub's error envelope for a failed HTTP call.
type MutationError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("hub error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}
