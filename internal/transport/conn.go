package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seeyonai/summit-sub000/internal/loop"
	"github.com/seeyonai/summit-sub000/internal/metrics"
)

// DefaultBackoff is the fixed delay before a reconnect attempt.
const DefaultBackoff = 3000 * time.Millisecond

// DefaultSendQueue bounds the per-socket outbound queue.
const DefaultSendQueue = 256

// DefaultFlushTimeout bounds how long a deliberate close waits for queued
// messages before the socket is closed regardless.
const DefaultFlushTimeout = 5 * time.Second

// ErrQueueFull is returned by Send when the outbound queue is saturated. The
// message is dropped.
var ErrQueueFull = errors.New("send queue full")

// Handler receives connection lifecycle callbacks on the loop.
type Handler struct {
	OnOpen    func()
	OnMessage func(Message)
	OnClose   func(CloseInfo)
	OnError   func(error)
}

type Options struct {
	// Name labels logs and metrics, e.g. "upload" or "transcription".
	Name         string
	Backoff      time.Duration
	SendQueue    int
	FlushTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Conn keeps one WebSocket endpoint connected. Unexpected closes schedule a
// single reconnect after a fixed backoff, repeating until Close. At most one
// socket is live at a time.
//
// Conn is confined to its loop: every method must be called on the loop, and
// every Handler callback runs there.
type Conn struct {
	loop   *loop.Loop
	dialer Dialer
	opts   Options
	h      Handler
	log    *slog.Logger

	url        string
	state      State
	want       bool
	gen        uint64
	cancelDial context.CancelFunc
	link       *link
	closing    *link
	reconnect  *loop.Timer
	lastOpen   time.Time
}

type link struct {
	sock Socket
	out  chan Message
	// flush force-closes sock if draining out stalls. Set before out is
	// closed by Close.
	flush *time.Timer
}

func New(l *loop.Loop, d Dialer, opts Options, h Handler) *Conn {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = DefaultSendQueue
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = DefaultFlushTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Conn{
		loop:   l,
		dialer: d,
		opts:   opts,
		h:      h,
		log:    log.With(slog.String("session", opts.Name)),
	}
}

// Connect opens url and keeps it open. It is a no-op while a socket is
// already open or connecting.
func (c *Conn) Connect(url string) {
	c.url = url
	c.want = true
	switch c.state {
	case StateOpen, StateConnecting, StateClosing:
		return
	}
	c.reconnect.Stop()
	c.reconnect = nil
	c.dial()
}

// Send queues m on the open socket. Without an open socket the message is
// dropped and ErrNotOpen returned; nothing is buffered across outages.
func (c *Conn) Send(m Message) error {
	if c.state != StateOpen || c.link == nil {
		c.opts.Metrics.MessageDropped(c.opts.Name)
		return ErrNotOpen
	}
	select {
	case c.link.out <- m:
		c.opts.Metrics.MessageSent(c.opts.Name)
		return nil
	default:
		c.opts.Metrics.MessageDropped(c.opts.Name)
		return ErrQueueFull
	}
}

// SendJSON marshals v and sends it as a text message.
func (c *Conn) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", v, err)
	}
	return c.Send(Text(data))
}

// Close closes the socket deliberately and cancels any pending reconnect.
// Messages already queued are flushed before the socket is torn down, for at
// most FlushTimeout.
func (c *Conn) Close() {
	c.want = false
	c.reconnect.Stop()
	c.reconnect = nil

	prev := c.state
	c.gen++
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}

	if c.link != nil {
		ln := c.link
		c.link = nil
		log := c.log
		ln.flush = time.AfterFunc(c.opts.FlushTimeout, func() {
			log.Warn("flush timed out, closing socket")
			ln.sock.Close()
		})
		close(ln.out)
		c.closing = ln
		c.state = StateClosing
	} else if c.state != StateClosing {
		c.state = StateClosed
	}

	if prev == StateOpen || prev == StateConnecting {
		c.log.Debug("socket closed deliberately")
		if c.h.OnClose != nil {
			c.h.OnClose(CloseInfo{Deliberate: true})
		}
	}
}

// State reports the connection state.
func (c *Conn) State() State { return c.state }

// LastOpen is when the current or most recent socket opened.
func (c *Conn) LastOpen() time.Time { return c.lastOpen }

// Reconnecting reports whether a reconnect timer is armed.
func (c *Conn) Reconnecting() bool { return c.reconnect != nil }

func (c *Conn) dial() {
	c.gen++
	gen := c.gen
	url := c.url
	c.state = StateConnecting

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	c.log.Debug("dialing", slog.String("url", url))

	go func() {
		sock, err := c.dialer.Dial(ctx, url)
		posted := c.loop.Post(func() { c.dialed(gen, sock, err) })
		if !posted && sock != nil {
			sock.Close()
		}
	}()
}

func (c *Conn) dialed(gen uint64, sock Socket, err error) {
	if gen != c.gen {
		if sock != nil {
			sock.Close()
		}
		return
	}
	c.cancelDial = nil

	if err != nil {
		c.state = StateClosed
		e := &Error{Op: "dial", URL: c.url, Err: err}
		c.log.Warn("connect failed", slog.Any("error", err))
		c.fail(e)
		c.scheduleReconnect()
		return
	}

	ln := &link{sock: sock, out: make(chan Message, c.opts.SendQueue)}
	c.link = ln
	c.state = StateOpen
	c.lastOpen = time.Now()
	c.log.Info("socket open", slog.String("url", c.url))

	go c.write(gen, ln)
	go c.read(gen, sock)

	if c.h.OnOpen != nil {
		c.h.OnOpen()
	}
}

func (c *Conn) read(gen uint64, sock Socket) {
	for {
		m, err := sock.ReadMessage()
		if err != nil {
			c.loop.Post(func() { c.lost(gen, &Error{Op: "read", URL: c.url, Err: err}) })
			return
		}
		if !c.loop.Post(func() { c.received(gen, m) }) {
			return
		}
	}
}

func (c *Conn) write(gen uint64, ln *link) {
	for m := range ln.out {
		if err := ln.sock.WriteMessage(m); err != nil {
			c.loop.Post(func() { c.lost(gen, &Error{Op: "write", URL: c.url, Err: err}) })
			ln.sock.Close()
			c.loop.Post(func() { c.drained(ln) })
			return
		}
	}
	// out is closed, so ln.flush is safe to read.
	if ln.flush != nil {
		ln.flush.Stop()
	}
	ln.sock.Close()
	c.loop.Post(func() { c.drained(ln) })
}

func (c *Conn) received(gen uint64, m Message) {
	if gen != c.gen || c.state != StateOpen {
		return
	}
	if c.h.OnMessage != nil {
		c.h.OnMessage(m)
	}
}

// lost handles an unexpected end of the current socket.
func (c *Conn) lost(gen uint64, err *Error) {
	if gen != c.gen || c.state != StateOpen {
		return
	}
	c.gen++
	ln := c.link
	c.link = nil
	close(ln.out)
	ln.sock.Close()
	c.state = StateClosed

	var ce *CloseError
	if errors.As(err, &ce) {
		c.log.Info("socket closed by peer", slog.Int("code", ce.Code), slog.String("reason", ce.Text))
		if c.h.OnClose != nil {
			c.h.OnClose(CloseInfo{Err: ce})
		}
	} else {
		c.log.Warn("socket lost", slog.Any("error", err))
		c.fail(err)
	}
	c.scheduleReconnect()
}

// drained runs once a deliberately closed socket has flushed its queue.
func (c *Conn) drained(ln *link) {
	if c.closing != ln {
		return
	}
	c.closing = nil
	if c.state != StateClosing {
		return
	}
	c.state = StateClosed
	if c.want {
		c.dial()
	}
}

func (c *Conn) fail(err error) {
	if c.h.OnError != nil {
		c.h.OnError(err)
	}
	if c.h.OnClose != nil {
		c.h.OnClose(CloseInfo{Err: err})
	}
}

func (c *Conn) scheduleReconnect() {
	if !c.want || c.reconnect != nil || c.state != StateClosed {
		return
	}
	c.log.Info("reconnect scheduled", slog.Duration("backoff", c.opts.Backoff))
	c.reconnect = c.loop.AfterFunc(c.opts.Backoff, func() {
		c.reconnect = nil
		if !c.want || c.state != StateClosed {
			return
		}
		c.opts.Metrics.Reconnect(c.opts.Name)
		c.dial()
	})
}
