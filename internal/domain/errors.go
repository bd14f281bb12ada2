package domain

import "errors"

var (
	ErrRoomFull          = errors.New("room is full")
	ErrNotInRoom         = errors.New("connection not in the room")
	ErrTargetNotFound    = errors.New("target not found")
	ErrStaleConnection   = errors.New("stale connection")
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrStoreUnavailable  = errors.New("membership store unavailable")
	ErrRateLimited       = errors.New("rate limited")
	ErrSessionClosed     = errors.New("session closed")
	ErrInvalidInput      = errors.New("invalid input")
)

// staleTargetError is returned when a forward found its target but the
// connection behind it turned out to be gone. It matches both
// ErrTargetNotFound and ErrStaleConnection.
type staleTargetError struct {
	cause error
}

func (e *staleTargetError) Error() string {
	return "target not found: " + e.cause.Error()
}

func (e *staleTargetError) Is(target error) bool {
	return target == ErrTargetNotFound || target == ErrStaleConnection
}

func (e *staleTargetError) Unwrap() error { return e.cause }

func NewStaleTargetError(cause error) error {
	if cause == nil {
		cause = ErrStaleConnection
	}
	return &staleTargetError{cause: cause}
}
