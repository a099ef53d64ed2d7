package backend

import (
	"errors"
	"fmt"
)

// ErrProtocol marks a server message that could not be understood. Such
// messages are discarded; they never end a session.
var ErrProtocol = errors.New("protocol error")

// Error is an explicit {"type":"error"} payload from the backend.
type Error struct {
	Session string
	Message string
}

func (e *Error) Error() string {
	if e.Session == "" {
		return "backend error: " + e.Message
	}
	return e.Session + ": backend error: " + e.Message
}

// HTTPError is a non-2xx response from the HTTP API.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Body)
}
