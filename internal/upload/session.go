// Package upload streams recorded audio to the backend recording endpoint and
// tracks whether the backend saved it.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seeyonai/summit-sub000/internal/backend"
	"github.com/seeyonai/summit-sub000/internal/capture"
	"github.com/seeyonai/summit-sub000/internal/loop"
	"github.com/seeyonai/summit-sub000/internal/metrics"
	"github.com/seeyonai/summit-sub000/internal/transport"
)

// DefaultGrace is how long End waits for recording_saved before closing.
const DefaultGrace = 2000 * time.Millisecond

var (
	// ErrSaveTimeout means the grace period elapsed without recording_saved.
	ErrSaveTimeout = errors.New("recording not saved before grace period elapsed")
	// ErrCancelled means the upload ended before its socket was established.
	ErrCancelled = errors.New("upload cancelled")
	// ErrAlreadyBegun is returned by a second Begin.
	ErrAlreadyBegun = errors.New("upload already begun")
)

// Issuer hands out recording identifiers. *backend.Client implements it.
type Issuer interface {
	CreateRecording(ctx context.Context, meetingID string) (backend.RecordingTicket, error)
}

type State int

const (
	StateIdle State = iota
	StateRequesting
	StateUploading
	StateEnding
	StateSaved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateUploading:
		return "uploading"
	case StateEnding:
		return "ending"
	case StateSaved:
		return "saved"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the upload has an outcome.
func (s State) Terminal() bool { return s == StateSaved || s == StateFailed }

// Outcome is the terminal result of an upload.
type Outcome struct {
	Saved       bool
	RecordingID string
	MeetingID   string
	Filename    string
	DownloadURL string
	Duration    time.Duration
	FileSize    int64
	ChunksCount int
	ChunksSent  int
	Err         error
}

type Options struct {
	Dialer transport.Dialer
	Issuer Issuer
	// URL maps a recording id to its upload socket address.
	URL       func(recordingID string) (string, error)
	Grace     time.Duration
	Backoff   time.Duration
	SendQueue int
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Handler callbacks run on the loop.
type Handler struct {
	// OnChange fires whenever an observable field changes.
	OnChange func()
	// OnDone fires once with the terminal outcome. Abort does not fire it.
	OnDone func(Outcome)
}

// Session is one recording upload: a recording id request, then a socket that
// carries PCM16 frames until End. It is confined to its loop.
type Session struct {
	loop *loop.Loop
	opts Options
	h    Handler
	log  *slog.Logger

	state     State
	gen       uint64
	cancelReq context.CancelFunc
	conn      *transport.Conn

	meetingID   string
	recordingID string
	filename    string
	chunksSent  int
	chunksAcked int
	stopSent    bool
	grace       *loop.Timer
	outcome     Outcome
}

func New(l *loop.Loop, opts Options, h Handler) *Session {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Session{
		loop: l,
		opts: opts,
		h:    h,
		log:  log.With(slog.String("session", "upload")),
	}
}

// Begin requests a recording id and then opens the upload socket.
func (s *Session) Begin(meetingID string) error {
	if s.state != StateIdle {
		return ErrAlreadyBegun
	}
	s.meetingID = meetingID
	s.state = StateRequesting
	s.gen++
	gen := s.gen

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelReq = cancel
	issuer := s.opts.Issuer
	go func() {
		ticket, err := issuer.CreateRecording(ctx, meetingID)
		s.loop.Post(func() { s.issued(gen, ticket, err) })
	}()
	s.changed()
	return nil
}

func (s *Session) issued(gen uint64, ticket backend.RecordingTicket, err error) {
	if gen != s.gen || s.state != StateRequesting {
		return
	}
	s.cancelReq()
	s.cancelReq = nil
	if err != nil {
		s.log.Warn("recording id request failed", slog.Any("error", err))
		s.finish(StateFailed, fmt.Errorf("request recording id: %w", err))
		return
	}

	url, err := s.opts.URL(ticket.RecordingID)
	if err != nil {
		s.finish(StateFailed, fmt.Errorf("build upload url: %w", err))
		return
	}
	s.recordingID = ticket.RecordingID
	s.filename = ticket.Filename
	s.log = s.log.With(slog.String("recording_id", s.recordingID))

	s.conn = transport.New(s.loop, s.opts.Dialer, transport.Options{
		Name:      "upload",
		Backoff:   s.opts.Backoff,
		SendQueue: s.opts.SendQueue,
		Logger:    s.opts.Logger,
		Metrics:   s.opts.Metrics,
	}, transport.Handler{
		OnOpen:    s.opened,
		OnMessage: s.received,
		OnClose:   s.closed,
		OnError:   s.errored,
	})
	s.state = StateUploading
	s.conn.Connect(url)
	s.changed()
}

// Push forwards a frame while uploading. Frames arriving while the socket is
// down are dropped.
func (s *Session) Push(f capture.Frame) {
	if s.state != StateUploading {
		return
	}
	if err := s.conn.Send(transport.Binary(f.Bytes())); err != nil {
		return
	}
	s.chunksSent++
}

// End sends stop and closes the socket after the grace period unless the
// backend confirms the save first. If the socket is down the stop is sent when
// it reopens, restarting the grace period.
func (s *Session) End() {
	switch s.state {
	case StateIdle, StateRequesting:
		s.finish(StateFailed, ErrCancelled)
		return
	case StateUploading:
	default:
		return
	}
	s.state = StateEnding
	s.sendStop()
	s.armGrace()
	s.changed()
}

// Abort drops the upload immediately without waiting for a save and without
// firing OnDone.
func (s *Session) Abort() {
	if s.state.Terminal() {
		return
	}
	s.release()
	s.state = StateFailed
	s.outcome = s.snapshotOutcome(ErrCancelled)
}

func (s *Session) State() State        { return s.state }
func (s *Session) RecordingID() string { return s.recordingID }
func (s *Session) Filename() string    { return s.filename }
func (s *Session) ChunksSent() int     { return s.chunksSent }
func (s *Session) ChunksAcked() int    { return s.chunksAcked }
func (s *Session) Outcome() Outcome    { return s.outcome }
func (s *Session) GracePending() bool  { return s.grace != nil }

// ConnState reports the upload socket state; closed before a socket exists.
func (s *Session) ConnState() transport.State {
	if s.conn == nil {
		return transport.StateClosed
	}
	return s.conn.State()
}

func (s *Session) opened() {
	if s.state == StateEnding {
		s.stopSent = false
		s.sendStop()
		s.armGrace()
	}
	s.changed()
}

func (s *Session) received(m transport.Message) {
	if m.Binary {
		s.log.Debug("ignoring binary message")
		return
	}
	ev, err := backend.DecodeUpload(m.Data)
	if err != nil {
		s.opts.Metrics.ProtocolError("upload")
		s.log.Warn("discarding message", slog.Any("error", err))
		return
	}
	s.opts.Metrics.MessageReceived("upload", ev.Type)
	if s.state.Terminal() {
		return
	}

	switch ev.Type {
	case backend.TypeReady:
		if ev.RecordingID != "" && ev.RecordingID != s.recordingID {
			s.log.Info("backend reassigned recording id", slog.String("recording_id", ev.RecordingID))
			s.recordingID = ev.RecordingID
		}
		if ev.Filename != "" {
			s.filename = ev.Filename
		}
		s.changed()
	case backend.TypeChunkReceived:
		s.chunksAcked = ev.TotalChunks
		s.changed()
	case backend.TypeRecordingSaved:
		if ev.Filename != "" {
			s.filename = ev.Filename
		}
		s.outcome = s.snapshotOutcome(nil)
		s.outcome.Saved = true
		s.outcome.DownloadURL = ev.DownloadURL
		s.outcome.Duration = time.Duration(ev.Duration * float64(time.Second))
		s.outcome.FileSize = ev.FileSize
		s.outcome.ChunksCount = ev.ChunksCount
		s.log.Info("recording saved",
			slog.String("download_url", ev.DownloadURL),
			slog.Float64("duration", ev.Duration))
		s.finish(StateSaved, nil)
	case backend.TypeError:
		s.log.Warn("backend error", slog.String("message", ev.Message))
		s.finish(StateFailed, &backend.Error{Session: "upload", Message: ev.Message})
	default:
		s.log.Debug("ignoring message", slog.String("type", ev.Type))
	}
}

func (s *Session) closed(ci transport.CloseInfo) {
	if !ci.Deliberate && !s.state.Terminal() {
		s.log.Info("upload socket closed, reconnecting")
	}
	s.changed()
}

func (s *Session) errored(err error) {
	if s.state.Terminal() {
		return
	}
	s.finish(StateFailed, err)
}

func (s *Session) sendStop() {
	if s.stopSent || s.conn == nil || s.conn.State() != transport.StateOpen {
		return
	}
	if err := s.conn.SendJSON(backend.Stop()); err != nil {
		s.log.Warn("send stop failed", slog.Any("error", err))
		return
	}
	s.stopSent = true
}

func (s *Session) armGrace() {
	s.grace.Stop()
	s.grace = s.loop.AfterFunc(s.opts.Grace, func() {
		s.grace = nil
		if s.state != StateEnding {
			return
		}
		s.log.Warn("grace period elapsed without save", slog.Duration("grace", s.opts.Grace))
		s.finish(StateFailed, ErrSaveTimeout)
	})
}

// release cancels everything the session owns.
func (s *Session) release() {
	s.gen++
	if s.cancelReq != nil {
		s.cancelReq()
		s.cancelReq = nil
	}
	s.grace.Stop()
	s.grace = nil
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Session) finish(state State, err error) {
	s.release()
	s.state = state
	if state == StateFailed {
		s.outcome = s.snapshotOutcome(err)
		s.opts.Metrics.RecordingFinished("error", 0)
	} else {
		s.opts.Metrics.RecordingFinished("saved", s.outcome.Duration)
	}
	s.changed()
	if s.h.OnDone != nil {
		s.h.OnDone(s.outcome)
	}
}

func (s *Session) snapshotOutcome(err error) Outcome {
	return Outcome{
		RecordingID: s.recordingID,
		MeetingID:   s.meetingID,
		Filename:    s.filename,
		ChunksSent:  s.chunksSent,
		Err:         err,
	}
}

func (s *Session) changed() {
	if s.h.OnChange != nil {
		s.h.OnChange()
	}
}
