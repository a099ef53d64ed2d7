// Package transporttest provides an instrumented in-memory Dialer for tests of
// code built on transport.Conn.
package transporttest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/seeyonai/summit-sub000/internal/transport"
)

// Timeout bounds every blocking helper.
var Timeout = 2 * time.Second

// Dialer hands out in-memory sockets and records every dial.
type Dialer struct {
	mu      sync.Mutex
	fail    error
	block   chan struct{}
	sockets []*Socket
	dialed  chan *Socket
	dials   int
}

func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Socket, 64)}
}

// FailWith makes subsequent dials fail with err; nil restores success.
func (d *Dialer) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

// Hold makes subsequent dials block until Release or context cancellation.
func (d *Dialer) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.block = make(chan struct{})
}

// Release unblocks held dials.
func (d *Dialer) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.block != nil {
		close(d.block)
		d.block = nil
	}
}

func (d *Dialer) Dial(ctx context.Context, url string) (transport.Socket, error) {
	d.mu.Lock()
	d.dials++
	block := d.block
	fail := d.fail
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail != nil {
		return nil, fail
	}

	s := newSocket(url)
	d.mu.Lock()
	d.sockets = append(d.sockets, s)
	d.mu.Unlock()
	d.dialed <- s
	return s, nil
}

// Next waits for the next successfully dialed socket.
func (d *Dialer) Next(t testing.TB) *Socket {
	t.Helper()
	select {
	case s := <-d.dialed:
		return s
	case <-time.After(Timeout):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

// NoDial asserts no socket is dialed within wait.
func (d *Dialer) NoDial(t testing.TB, wait time.Duration) {
	t.Helper()
	select {
	case s := <-d.dialed:
		t.Fatalf("unexpected dial of %s", s.URL)
	case <-time.After(wait):
	}
}

// Dials reports how many dial attempts were made, failed ones included.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// OpenSockets reports sockets not yet closed.
func (d *Dialer) OpenSockets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.sockets {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// WaitClosed polls until every socket is closed.
func (d *Dialer) WaitClosed(t testing.TB) {
	t.Helper()
	deadline := time.Now().Add(Timeout)
	for d.OpenSockets() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d sockets still open", d.OpenSockets())
		}
		time.Sleep(time.Millisecond)
	}
}

// Socket is the client end of an in-memory connection. Test code plays the
// server through Push, Drop and NextWrite.
type Socket struct {
	URL string

	in        chan transport.Message
	writes    chan transport.Message
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []transport.Message
	readErr error
	stalled bool
}

func newSocket(url string) *Socket {
	return &Socket{
		URL:    url,
		in:     make(chan transport.Message, 64),
		writes: make(chan transport.Message, 1024),
		closed: make(chan struct{}),
	}
}

func (s *Socket) ReadMessage() (transport.Message, error) {
	select {
	case m := <-s.in:
		return m, nil
	case <-s.closed:
	}
	// Deliver anything pushed before the drop.
	select {
	case m := <-s.in:
		return m, nil
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return transport.Message{}, s.readErr
	}
	return transport.Message{}, errors.New("use of closed connection")
}

func (s *Socket) WriteMessage(m transport.Message) error {
	select {
	case <-s.closed:
		return errors.New("write on closed connection")
	default:
	}
	s.mu.Lock()
	stalled := s.stalled
	s.mu.Unlock()
	if stalled {
		<-s.closed
		return errors.New("write on closed connection")
	}
	s.mu.Lock()
	s.written = append(s.written, m)
	s.mu.Unlock()
	select {
	case s.writes <- m:
	default:
	}
	return nil
}

func (s *Socket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Stall makes every later write block until the socket is closed, like a
// peer that stopped reading.
func (s *Socket) Stall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stalled = true
}

// Closed reports whether either side closed the socket.
func (s *Socket) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Push delivers a server message.
func (s *Socket) Push(m transport.Message) {
	s.in <- m
}

// PushJSON delivers v as a text message.
func (s *Socket) PushJSON(t testing.TB, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s.Push(transport.Text(data))
}

// PushRaw delivers data as a text message without encoding.
func (s *Socket) PushRaw(data string) {
	s.Push(transport.Text([]byte(data)))
}

// Drop ends the connection from the server side. A nil err simulates a clean
// close frame; anything else a network failure.
func (s *Socket) Drop(err error) {
	s.mu.Lock()
	if err == nil {
		s.readErr = &transport.CloseError{Code: 1000, Text: "server closing"}
	} else {
		s.readErr = err
	}
	s.mu.Unlock()
	s.Close()
}

// NextWrite waits for the next message written by the client.
func (s *Socket) NextWrite(t testing.TB) transport.Message {
	t.Helper()
	select {
	case m := <-s.writes:
		return m
	case <-time.After(Timeout):
		t.Fatalf("timed out waiting for write on %s", s.URL)
		return transport.Message{}
	}
}

// NextControl waits for the next text message and decodes its type field,
// skipping binary frames.
func (s *Socket) NextControl(t testing.TB) map[string]any {
	t.Helper()
	for {
		m := s.NextWrite(t)
		if m.Binary {
			continue
		}
		var v map[string]any
		if err := json.Unmarshal(m.Data, &v); err != nil {
			t.Fatalf("client wrote invalid JSON %q: %v", m.Data, err)
		}
		return v
	}
}

// Written returns a copy of every message written so far.
func (s *Socket) Written() []transport.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Message(nil), s.written...)
}

// Controls returns the type field of every JSON message written so far.
func (s *Socket) Controls() []string {
	var out []string
	for _, m := range s.Written() {
		if m.Binary {
			continue
		}
		var v struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(m.Data, &v) == nil {
			out = append(out, v.Type)
		}
	}
	return out
}

// WaitClosed waits until the socket is closed.
func (s *Socket) WaitClosed(t testing.TB) {
	t.Helper()
	select {
	case <-s.closed:
	case <-time.After(Timeout):
		t.Fatalf("socket %s not closed", s.URL)
	}
}
