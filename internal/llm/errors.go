package llm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures returned by the Ollama server.
type ErrorKind string

const (
	// KindBadRequest covers status 400 and any other unexpected non-200 status.
	KindBadRequest ErrorKind = "bad_request"

	// KindServerUnavailable covers status 404, which Ollama returns when the
	// server is not the one expected or is not running.
	KindServerUnavailable ErrorKind = "server_unavailable"
)

const (
	summaryBadRequest        = "Invalid request to Ollama"
	summaryServerUnavailable = "Ollama not found. Please make sure the server is running."
)

// Error is a classified error carrying a detailed message for logs and a short
// summary suitable for showing to a user.
type Error struct {
	Kind       ErrorKind
	StatusCode int

	// Message is the detailed description, including the raw server body.
	Message string

	// Summary is the short user-facing description.
	Summary string

	// Body is the raw response body.
	Body []byte
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("ollama: %s (status %d)", e.Kind, e.StatusCode)
}

// AsError reports whether err wraps a classified *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err wraps a classified *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}
