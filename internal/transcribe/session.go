// Package transcribe keeps the long-lived transcription socket: it replays the
// streaming intent on every (re)connect, forwards audio while streaming and
// routes recognizer events to a Sink.
package transcribe

import (
	"log/slog"
	"time"

	"github.com/seeyonai/summit-sub000/internal/backend"
	"github.com/seeyonai/summit-sub000/internal/capture"
	"github.com/seeyonai/summit-sub000/internal/loop"
	"github.com/seeyonai/summit-sub000/internal/metrics"
	"github.com/seeyonai/summit-sub000/internal/transport"
)

// Sink receives recognizer output. *transcript.Reconciler implements it.
type Sink interface {
	Partial(text string)
	Final(text string)
}

type Options struct {
	URL       string
	Dialer    transport.Dialer
	Sink      Sink
	Backoff   time.Duration
	SendQueue int
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Handler callbacks run on the loop.
type Handler struct {
	OnOpen  func()
	OnClose func(transport.CloseInfo)
	// OnError receives socket failures and *backend.Error payloads.
	OnError func(error)
	// OnStatus receives info and error message text.
	OnStatus func(string)
}

type intent struct {
	streaming  bool
	sampleRate int
}

// Session is confined to its loop.
type Session struct {
	opts Options
	h    Handler
	log  *slog.Logger
	conn *transport.Conn

	intent  intent
	started bool // start sent on the current socket
	status  string
}

func New(l *loop.Loop, opts Options, h Handler) *Session {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Session{
		opts: opts,
		h:    h,
		log:  log.With(slog.String("session", "transcription")),
	}
	s.conn = transport.New(l, opts.Dialer, transport.Options{
		Name:      "transcription",
		Backoff:   opts.Backoff,
		SendQueue: opts.SendQueue,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
	}, transport.Handler{
		OnOpen:    s.opened,
		OnMessage: s.received,
		OnClose:   s.closed,
		OnError:   s.errored,
	})
	return s
}

// Connect opens the socket and keeps it open until Close.
func (s *Session) Connect() {
	s.conn.Connect(s.opts.URL)
}

// Close closes the socket deliberately. Streaming intent is kept so a later
// Connect resumes it.
func (s *Session) Close() {
	s.started = false
	s.conn.Close()
}

// SetStreaming records the streaming intent. Turning it on sends start now if
// the socket is open, otherwise on the next open. Turning it off sends stop
// if a start went out on the current socket.
func (s *Session) SetStreaming(on bool, sampleRate int) {
	if sampleRate <= 0 {
		sampleRate = capture.TargetSampleRate
	}
	if !on {
		s.intent = intent{}
		if s.started && s.conn.State() == transport.StateOpen {
			if err := s.conn.SendJSON(backend.Stop()); err != nil {
				s.log.Warn("send stop failed", slog.Any("error", err))
			}
		}
		s.started = false
		return
	}

	s.intent = intent{streaming: true, sampleRate: sampleRate}
	if !s.started && s.conn.State() == transport.StateOpen {
		s.sendStart()
	}
}

// Push forwards f while streaming on an open socket; otherwise it is dropped.
func (s *Session) Push(f capture.Frame) {
	if !s.intent.streaming || !s.started || s.conn.State() != transport.StateOpen {
		return
	}
	_ = s.conn.Send(transport.Binary(f.Bytes()))
}

func (s *Session) Streaming() bool            { return s.intent.streaming }
func (s *Session) Started() bool              { return s.started }
func (s *Session) StatusText() string         { return s.status }
func (s *Session) ConnState() transport.State { return s.conn.State() }
func (s *Session) Reconnecting() bool         { return s.conn.Reconnecting() }

func (s *Session) sendStart() {
	if err := s.conn.SendJSON(backend.Start(s.intent.sampleRate)); err != nil {
		s.log.Warn("send start failed", slog.Any("error", err))
		return
	}
	s.started = true
	s.log.Debug("streaming started", slog.Int("sample_rate", s.intent.sampleRate))
}

func (s *Session) opened() {
	s.started = false
	if s.intent.streaming {
		s.sendStart()
	}
	if s.h.OnOpen != nil {
		s.h.OnOpen()
	}
}

func (s *Session) closed(ci transport.CloseInfo) {
	s.started = false
	if s.h.OnClose != nil {
		s.h.OnClose(ci)
	}
}

func (s *Session) errored(err error) {
	if s.h.OnError != nil {
		s.h.OnError(err)
	}
}

func (s *Session) received(m transport.Message) {
	if m.Binary {
		s.log.Debug("ignoring binary message")
		return
	}
	ev, err := backend.DecodeTranscription(m.Data)
	if err != nil {
		s.opts.Metrics.ProtocolError("transcription")
		s.log.Warn("discarding message", slog.Any("error", err))
		return
	}
	s.opts.Metrics.MessageReceived("transcription", ev.Type)

	switch ev.Type {
	case backend.TypePartial:
		s.opts.Sink.Partial(ev.Text)
	case backend.TypeFinal:
		// An explicit isFinal=false is still being revised.
		if ev.IsFinal != nil && !*ev.IsFinal {
			s.opts.Sink.Partial(ev.Text)
			return
		}
		s.opts.Sink.Final(ev.Text)
	case backend.TypeInfo:
		s.setStatus(ev.Message)
	case backend.TypeError:
		s.log.Warn("backend error", slog.String("message", ev.Message))
		s.setStatus(ev.Message)
		if s.h.OnError != nil {
			s.h.OnError(&backend.Error{Session: "transcription", Message: ev.Message})
		}
	default:
		s.log.Debug("ignoring message", slog.String("type", ev.Type))
	}
}

func (s *Session) setStatus(text string) {
	s.status = text
	if s.h.OnStatus != nil {
		s.h.OnStatus(text)
	}
}
