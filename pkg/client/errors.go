package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send when the channel is not open.
	ErrNotConnected = errors.New("channel is not connected")
	// ErrUnauthenticated means there is no session to act with.
	ErrUnauthenticated = errors.New("not logged in")
	// ErrClosed is returned when reusing a channel after Close or Logout.
	ErrClosed = errors.New("channel is closed")
	// ErrAlreadyJoined is returned by a second Room.Join.
	ErrAlreadyJoined = errors.New("room already joined")
)

// AuthRejectedError means the server refused the token. The client must log
// in again; reconnecting with the same token will not help.
type AuthRejectedError struct {
	Status int // HTTP status or websocket close code
	Detail string
}

func (e *AuthRejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("authentication rejected (%d)", e.Status)
	}
	return fmt.Sprintf("authentication rejected (%d): %s", e.Status, e.Detail)
}

// ValidationError is a local input check that failed before any request
// was made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

type UploadError struct {
	Status int
	Detail string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed (%d): %s", e.Status, e.Detail)
}

// APIError is any other non-2xx REST response.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.Status, e.Detail)
}
