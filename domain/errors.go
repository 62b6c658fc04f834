package domain

import "errors"

var (
	// ErrAuth indicates a missing, invalid or expired access token.
	ErrAuth = errors.New("unauthorized")
	// ErrUnknownNote is returned when a move or recolor references a note that
	// does not exist on the board.
	ErrUnknownNote = errors.New("unknown note")
	// ErrUnrecognizedMutation covers malformed messages and unknown types.
	ErrUnrecognizedMutation = errors.New("unrecognized mutation")
	// ErrTransportFailure indicates a message could not be handed to a session.
	ErrTransportFailure = errors.New("transport failure")
	// ErrStateConflict is returned when compare-and-swap retries are exhausted.
	ErrStateConflict = errors.New("state conflict")
	// ErrRateLimited is returned when a session sends frames faster than allowed.
	ErrRateLimited = errors.New("rate limited")
)

// ErrorCode maps an error to the code carried by outbound ERROR messages.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrUnknownNote):
		return "UNKNOWN_NOTE"
	case errors.Is(err, ErrUnrecognizedMutation):
		return "UNRECOGNIZED_MUTATION"
	case errors.Is(err, ErrStateConflict):
		return "STATE_CONFLICT"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	default:
		return "INTERNAL"
	}
}
