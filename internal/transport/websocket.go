package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single frame write to the peer.
const writeWait = 10 * time.Second

// WebSocketDialer dials real sockets with gorilla/websocket.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Socket, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return &wsSocket{conn: conn}, nil
}

type wsSocket struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (s *wsSocket) ReadMessage() (Message, error) {
	kind, data, err := s.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return Message{}, &CloseError{Code: ce.Code, Text: ce.Text}
		}
		return Message{}, err
	}
	return Message{Binary: kind == websocket.BinaryMessage, Data: data}, nil
}

func (s *wsSocket) WriteMessage(m Message) error {
	kind := websocket.TextMessage
	if m.Binary {
		kind = websocket.BinaryMessage
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(kind, m.Data)
}

// Close sends a normal closure frame and closes the connection.
func (s *wsSocket) Close() error {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
