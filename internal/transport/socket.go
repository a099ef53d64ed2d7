// Package transport implements the reconnecting WebSocket session shared by
// the upload and transcription sessions.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Message is one WebSocket data frame.
type Message struct {
	Binary bool
	Data   []byte
}

// Text builds a text message.
func Text(data []byte) Message { return Message{Data: data} }

// Binary builds a binary message.
func Binary(data []byte) Message { return Message{Binary: true, Data: data} }

// Socket is one live connection.
type Socket interface {
	ReadMessage() (Message, error)
	WriteMessage(Message) error
	Close() error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// ErrNotOpen is returned by Send when no socket is open. The message is
// dropped.
var ErrNotOpen = errors.New("socket not open")

// Error is a socket-level failure.
type Error struct {
	Op  string // dial, read or write
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CloseError reports a close frame received from the peer.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("closed by peer: %d %s", e.Code, e.Text)
}
