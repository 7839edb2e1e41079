package coordinator

import "errors"

// Failure taxonomy for request handling. Any error returned by the store
// that is not one of these sentinels is treated as a persistence failure:
// the in-progress operation is aborted before any fan-out and surfaced to
// the originating connection only.
var (
	// ErrInvalidInput marks missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotParticipant marks an actor that is not part of the target
	// conversation.
	ErrNotParticipant = errors.New("not a participant")
	// ErrNotFound marks a conversation or identity that does not exist.
	ErrNotFound = errors.New("not found")
)
