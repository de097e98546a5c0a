package tunnel

import "fmt"

// Input limits, enforced before any network call.
const (
	MaxRoomIDLen = 30
	MaxNameLen   = 20
	MaxTextLen   = 500
)

// ValidationError rejects input locally; nothing was sent to the store.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

var (
	ErrEmptyText   = &ValidationError{Reason: "message text is empty"}
	ErrTextTooLong = &ValidationError{Reason: "message text exceeds limit"}
	ErrRoomLocked  = &ValidationError{Reason: "room is locked"}
	ErrNoRoom      = &ValidationError{Reason: "room id is missing"}
	ErrNoName      = &ValidationError{Reason: "display name is missing"}
)

// WriteFailure wraps a store write that was rejected or timed out. Sends
// surface it to the caller; presence, typing, read-receipt and lock writes
// only log it.
type WriteFailure struct {
	Op   string
	Path string
	Err  error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteFailure) Unwrap() error {
	return e.Err
}

// ValidateRoomID checks the 1–30 char constraint on room IDs.
func ValidateRoomID(room string) error {
	if room == "" {
		return ErrNoRoom
	}
	if len([]rune(room)) > MaxRoomIDLen {
		return &ValidationError{Reason: "room id exceeds 30 characters"}
	}
	return nil
}

// ValidateName checks the 1–20 char constraint on display names.
func ValidateName(name string) error {
	if name == "" {
		return ErrNoName
	}
	if len([]rune(name)) > MaxNameLen {
		return &ValidationError{Reason: "display name exceeds 20 characters"}
	}
	return nil
}
