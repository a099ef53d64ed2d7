package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seeyonai/summit-sub000/internal/loop"
	"github.com/seeyonai/summit-sub000/internal/transport"
	"github.com/seeyonai/summit-sub000/internal/transport/transporttest"
)

const testBackoff = 20 * time.Millisecond

type events struct {
	opens  chan struct{}
	msgs   chan transport.Message
	closes chan transport.CloseInfo
	errs   chan error
}

func newEvents() *events {
	return &events{
		opens:  make(chan struct{}, 64),
		msgs:   make(chan transport.Message, 64),
		closes: make(chan transport.CloseInfo, 64),
		errs:   make(chan error, 64),
	}
}

func (e *events) handler() transport.Handler {
	return transport.Handler{
		OnOpen:    func() { offer(e.opens, struct{}{}) },
		OnMessage: func(m transport.Message) { offer(e.msgs, m) },
		OnClose:   func(ci transport.CloseInfo) { offer(e.closes, ci) },
		OnError:   func(err error) { offer(e.errs, err) },
	}
}

// offer never blocks the loop.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func setup(t *testing.T) (*loop.Loop, *transporttest.Dialer, *transport.Conn, *events) {
	t.Helper()
	return setupWith(t, transport.Options{Name: "test", Backoff: testBackoff})
}

func setupWith(t *testing.T, opts transport.Options) (*loop.Loop, *transporttest.Dialer, *transport.Conn, *events) {
	t.Helper()
	l := loop.New()
	t.Cleanup(l.Close)
	d := transporttest.NewDialer()
	ev := newEvents()
	c := transport.New(l, d, opts, ev.handler())
	return l, d, c, ev
}

func TestConnectOpensOnce(t *testing.T) {
	l, d, c, ev := setup(t)

	l.Call(func() { c.Connect("ws://backend/a") })
	s := d.Next(t)
	waitFor(t, ev.opens, "open")
	if s.URL != "ws://backend/a" {
		t.Errorf("dialed %q", s.URL)
	}

	var state transport.State
	l.Call(func() {
		c.Connect("ws://backend/a")
		state = c.State()
	})
	if state != transport.StateOpen {
		t.Errorf("state = %v, want open", state)
	}
	d.NoDial(t, 3*testBackoff)
}

func TestSendDropsWhenClosed(t *testing.T) {
	l, d, c, ev := setup(t)

	var err error
	l.Call(func() { err = c.Send(transport.Binary([]byte{1})) })
	if !errors.Is(err, transport.ErrNotOpen) {
		t.Fatalf("send before open = %v, want ErrNotOpen", err)
	}

	l.Call(func() { c.Connect("ws://backend/a") })
	s := d.Next(t)
	waitFor(t, ev.opens, "open")

	l.Call(func() { err = c.SendJSON(map[string]string{"type": "start"}) })
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	m := s.NextWrite(t)
	if m.Binary || string(m.Data) != `{"type":"start"}` {
		t.Errorf("wrote %q binary=%v", m.Data, m.Binary)
	}
}

func TestMessagesDeliveredInOrder(t *testing.T) {
	l, d, c, ev := setup(t)
	l.Call(func() { c.Connect("ws://backend/a") })
	s := d.Next(t)
	waitFor(t, ev.opens, "open")

	for _, v := range []string{"1", "2", "3"} {
		s.PushRaw(v)
	}
	for _, want := range []string{"1", "2", "3"} {
		m := waitFor(t, ev.msgs, "message")
		if string(m.Data) != want {
			t.Fatalf("got %q, want %q", m.Data, want)
		}
	}
}

func TestUnexpectedCloseReconnects(t *testing.T) {
	l, d, c, ev := setup(t)
	l.Call(func() { c.Connect("ws://backend/a") })
	first := d.Next(t)
	waitFor(t, ev.opens, "open")

	first.Drop(nil)
	ci := waitFor(t, ev.closes, "close")
	if ci.Deliberate {
		t.Error("peer close reported as deliberate")
	}
	var ce *transport.CloseError
	if !errors.As(ci.Err, &ce) || ce.Code != 1000 {
		t.Errorf("close err = %v", ci.Err)
	}

	var reconnecting bool
	l.Call(func() { reconnecting = c.Reconnecting() })
	if !reconnecting {
		t.Error("reconnect timer should be armed")
	}

	second := d.Next(t)
	waitFor(t, ev.opens, "reopen")
	if second == first {
		t.Fatal("reconnect reused the old socket")
	}
	if second.URL != first.URL {
		t.Errorf("reconnected to %q", second.URL)
	}
}

func TestNetworkFailureReportsError(t *testing.T) {
	l, d, c, ev := setup(t)
	l.Call(func() { c.Connect("ws://backend/a") })
	s := d.Next(t)
	waitFor(t, ev.opens, "open")

	s.Drop(errors.New("connection reset"))
	err := waitFor(t, ev.errs, "error")
	var te *transport.Error
	if !errors.As(err, &te) || te.Op != "read" {
		t.Errorf("error = %v, want read *transport.Error", err)
	}
	waitFor(t, ev.closes, "close")
	d.Next(t)
	waitFor(t, ev.opens, "reopen")
}

func TestDialFailureRetriesIndefinitely(t *testing.T) {
	l, d, c, ev := setup(t)
	d.FailWith(errors.New("refused"))

	l.Call(func() { c.Connect("ws://backend/a") })
	for i := 0; i < 3; i++ {
		waitFor(t, ev.errs, "dial error")
	}

	d.FailWith(nil)
	d.Next(t)
	waitFor(t, ev.opens, "open after recovery")
	if d.Dials() < 4 {
		t.Errorf("dials = %d, want at least 4", d.Dials())
	}
}

func TestCloseSuppressesReconnect(t *testing.T) {
	l, d, c, ev := setup(t)
	l.Call(func() { c.Connect("ws://backend/a") })
	s := d.Next(t)
	waitFor(t, ev.opens, "open")

	l.Call(func() {
		c.SendJSON(map[string]string{"type": "stop"})
		c.Close()
	})
	ci := waitFor(t, ev.closes, "close")
	if !ci.Deliberate {
		t.Error("Close should report a deliberate close")
	}

	// Queued messages are flushed before teardown.
	s.WaitClosed(t)
	if got := s.Controls(); len(got) != 1 || got[0] != "stop" {
		t.Errorf("controls = %v, want [stop]", got)
	}

	d.NoDial(t, 3*testBackoff)
	var pending int
	var state transport.State
	l.Call(func() {
		pending = l.PendingTimers()
		state = c.State()
	})
	if pending != 0 {
		t.Errorf("pending timers = %d, want 0", pending)
	}
	if state != transport.StateClosed {
		t.Errorf("state = %v, want closed", state)
	}
	d.WaitClosed(t)
}

func TestCloseWithStalledWriterForcesClose(t *testing.T) {
	l, d, c, ev := setupWith(t, transport.Options{
		Name:         "test",
		Backoff:      testBackoff,
		FlushTimeout: 30 * time.Millisecond,
	})
	l.Call(func() { c.Connect("ws://backend/a") })
	s := d.Next(t)
	waitFor(t, ev.opens, "open")

	s.Stall()
	l.Call(func() {
		c.SendJSON(map[string]string{"type": "stop"})
		c.Close()
		c.Connect("ws://backend/a")
	})

	// The stuck socket is closed once the flush deadline passes, and the
	// pending Connect then goes through.
	s.WaitClosed(t)
	next := d.Next(t)
	if next == s || next.URL != "ws://backend/a" {
		t.Fatalf("redial = %q", next.URL)
	}
	waitFor(t, ev.opens, "reopen")

	var state transport.State
	var pending int
	l.Call(func() {
		state = c.State()
		pending = l.PendingTimers()
	})
	if state != transport.StateOpen {
		t.Errorf("state = %v, want open", state)
	}
	if pending != 0 {
		t.Errorf("pending timers = %d, want 0", pending)
	}
	if n := d.Dials(); n != 2 {
		t.Errorf("dials = %d, want 2", n)
	}
}

func TestCloseDuringBackoffCancelsTimer(t *testing.T) {
	l, d, c, ev := setup(t)
	d.FailWith(errors.New("refused"))
	l.Call(func() { c.Connect("ws://backend/a") })
	waitFor(t, ev.errs, "dial error")

	var pending int
	l.Call(func() {
		c.Close()
		pending = l.PendingTimers()
	})
	if pending != 0 {
		t.Errorf("pending timers after close = %d, want 0", pending)
	}
	d.FailWith(nil)
	d.NoDial(t, 3*testBackoff)
}

func TestCloseWhileConnecting(t *testing.T) {
	l, d, c, _ := setup(t)
	d.Hold()
	l.Call(func() { c.Connect("ws://backend/a") })

	var state transport.State
	l.Call(func() {
		c.Close()
		state = c.State()
	})
	if state != transport.StateClosed {
		t.Errorf("state = %v, want closed", state)
	}
	d.Release()
	d.NoDial(t, 3*testBackoff)
	d.WaitClosed(t)
}

func TestWebSocketDialerAgainstServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ack"}`))
				continue
			}
			if string(data) == "bye" {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "done"))
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	d := &transport.WebSocketDialer{}
	sock, err := d.Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sock.Close()

	if err := sock.WriteMessage(transport.Binary([]byte{1, 2})); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := sock.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if m.Binary || string(m.Data) != `{"type":"ack"}` {
		t.Errorf("read %q", m.Data)
	}

	sock.WriteMessage(transport.Text([]byte("bye")))
	_, err = sock.ReadMessage()
	var ce *transport.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.CloseGoingAway {
		t.Errorf("err = %v, want CloseError 1001", err)
	}
}
