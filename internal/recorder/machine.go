// Package recorder ties microphone capture, the upload and transcription
// sessions and the transcript together behind one state machine. Callers drive
// it with Mount, Start, Stop, Pause, Resume and Teardown, and observe it
// through snapshots.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seeyonai/summit-sub000/internal/capture"
	"github.com/seeyonai/summit-sub000/internal/loop"
	"github.com/seeyonai/summit-sub000/internal/metrics"
	"github.com/seeyonai/summit-sub000/internal/transcribe"
	"github.com/seeyonai/summit-sub000/internal/transcript"
	"github.com/seeyonai/summit-sub000/internal/transport"
	"github.com/seeyonai/summit-sub000/internal/upload"
)

// DefaultAutoStartDelay is how long the transcription link must be ready
// before a recording starts on its own.
const DefaultAutoStartDelay = 1000 * time.Millisecond

var (
	// ErrInvalidState is returned for an operation the current state forbids.
	ErrInvalidState = errors.New("invalid state")
	// ErrStartCancelled is returned by Start when Stop or Teardown won the race
	// against opening the microphone.
	ErrStartCancelled = errors.New("start cancelled")
	// ErrTranscriptionLost is surfaced when the transcription socket closes
	// while recording.
	ErrTranscriptionLost = errors.New("transcription connection lost")
)

// Capture is the audio source. *capture.Producer implements it.
type Capture interface {
	Start(ctx context.Context, sink capture.Sink, fail capture.FailFunc) error
	Stop()
}

type Deps struct {
	Loop    *loop.Loop
	Capture Capture
	Dialer  transport.Dialer
	Issuer  upload.Issuer
	// TranscriptionURL is the transcription socket address.
	TranscriptionURL string
	// UploadURL maps a recording id to its upload socket address.
	UploadURL func(recordingID string) (string, error)
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	// Tap sees every captured frame on the capture goroutine, e.g. a WAV
	// archive.
	Tap capture.Sink
	// OnSaved receives every saved upload, on the loop.
	OnSaved func(upload.Outcome)
	Now     func() time.Time
}

type Options struct {
	MeetingID      string
	SampleRate     int
	AutoStart      bool
	AutoStartDelay time.Duration
	Backoff        time.Duration
	Grace          time.Duration
	SendQueue      int
}

// Machine is the recording state machine. Its state is confined to the loop;
// the exported methods are safe to call from any goroutine except the loop.
type Machine struct {
	loop *loop.Loop
	deps Deps
	opts Options
	log  *slog.Logger
	now  func() time.Time

	tr  *transcribe.Session
	rec *transcript.Reconciler

	// Loop-confined.
	mounted   bool
	status    Status
	lastErr   error
	starting  bool
	startGen  uint64
	capturing bool
	// captureErr holds a stream failure reported while Start was pending.
	captureErr error

	upload  *upload.Session
	uploads map[*upload.Session]struct{}
	outcome *upload.Outcome

	autoTimer *loop.Timer
	autoFired bool

	startedAt   time.Time
	stoppedAt   time.Time
	paused      bool
	pausedAt    time.Time
	pausedTotal time.Duration

	subs []chan Snapshot
}

func New(deps Deps, opts Options) *Machine {
	if opts.SampleRate <= 0 {
		opts.SampleRate = capture.TargetSampleRate
	}
	if opts.AutoStartDelay <= 0 {
		opts.AutoStartDelay = DefaultAutoStartDelay
	}
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	m := &Machine{
		loop:    deps.Loop,
		deps:    deps,
		opts:    opts,
		log:     log.With(slog.String("component", "recorder")),
		now:     now,
		rec:     transcript.New(now),
		uploads: make(map[*upload.Session]struct{}),
	}
	m.tr = transcribe.New(deps.Loop, transcribe.Options{
		URL:       deps.TranscriptionURL,
		Dialer:    deps.Dialer,
		Sink:      transcriptSink{m},
		Backoff:   opts.Backoff,
		SendQueue: opts.SendQueue,
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
	}, transcribe.Handler{
		OnOpen:   m.transcriptionOpened,
		OnClose:  m.transcriptionClosed,
		OnError:  m.transcriptionFailed,
		OnStatus: func(string) { m.publish() },
	})
	return m
}

// Mount begins connecting the transcription session and re-arms auto-start.
func (m *Machine) Mount() {
	m.loop.Call(func() {
		if m.mounted {
			return
		}
		m.mounted = true
		m.autoFired = false
		m.lastErr = nil
		m.transition(StatusConnecting)
		m.tr.Connect()
	})
}

// Start opens the microphone and begins a recording. Capture errors are
// returned here and also surfaced as StatusError.
func (m *Machine) Start(ctx context.Context) error {
	var gen uint64
	var err error
	if !m.loop.Call(func() { gen, err = m.beginStart() }) {
		return ErrInvalidState
	}
	if err != nil {
		return err
	}

	// Opening the device may block on a permission prompt; the loop keeps
	// running meanwhile.
	capErr := m.deps.Capture.Start(ctx, m.captured, func(err error) {
		m.loop.Post(func() { m.captureFailed(gen, err) })
	})

	if !m.loop.Call(func() { err = m.finishStart(gen, capErr) }) {
		if capErr == nil {
			m.deps.Capture.Stop()
		}
		return ErrStartCancelled
	}
	return err
}

// Stop ends the recording and moves to StatusSaving without waiting for the
// backend; the save outcome arrives later in a snapshot. Stopping
// while the microphone is still opening cancels the start.
func (m *Machine) Stop() error {
	var err error
	if !m.loop.Call(func() { err = m.userStop() }) {
		return ErrInvalidState
	}
	return err
}

// Pause freezes the displayed elapsed time. Capture and both uploads continue.
func (m *Machine) Pause() error {
	var err error
	m.loop.Call(func() {
		if m.status != StatusRecording || m.paused {
			err = fmt.Errorf("%w: pause from %s", ErrInvalidState, m.status)
			return
		}
		m.paused = true
		m.pausedAt = m.now()
		m.publish()
	})
	return err
}

func (m *Machine) Resume() error {
	var err error
	m.loop.Call(func() {
		if m.status != StatusRecording || !m.paused {
			err = fmt.Errorf("%w: resume from %s", ErrInvalidState, m.status)
			return
		}
		m.unpause()
		m.publish()
	})
	return err
}

// Teardown stops any recording and closes both sessions deliberately,
// leaving no timers or sockets behind.
func (m *Machine) Teardown() {
	m.loop.Call(func() {
		m.startGen++
		m.starting = false
		m.stopCapture()
		m.cancelAutoStart()
		for s := range m.uploads {
			s.Abort()
			delete(m.uploads, s)
		}
		m.tr.SetStreaming(false, 0)
		m.tr.Close()
		m.paused = false
		m.mounted = false
		m.transition(StatusIdle)
	})
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	var s Snapshot
	m.loop.Call(func() { s = m.snapshot() })
	return s
}

// Subscribe returns a channel carrying the latest snapshot after every change.
// Unread snapshots are replaced, so a slow reader only sees the newest one.
func (m *Machine) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	m.loop.Call(func() {
		m.subs = append(m.subs, ch)
		ch <- m.snapshot()
	})
	return ch
}

func (m *Machine) beginStart() (uint64, error) {
	if !m.mounted {
		return 0, fmt.Errorf("%w: not mounted", ErrInvalidState)
	}
	if m.starting || !m.status.canStart() {
		return 0, fmt.Errorf("%w: start from %s", ErrInvalidState, m.status)
	}
	m.cancelAutoStart()
	m.autoFired = true
	m.starting = true
	m.captureErr = nil
	m.startGen++
	m.publish()
	return m.startGen, nil
}

func (m *Machine) finishStart(gen uint64, capErr error) error {
	if gen != m.startGen {
		if capErr == nil {
			m.deps.Capture.Stop()
		}
		return ErrStartCancelled
	}
	m.starting = false
	if capErr == nil && m.captureErr != nil {
		capErr = m.captureErr
	}
	m.captureErr = nil
	if capErr != nil {
		m.log.Warn("capture failed to start", slog.Any("error", capErr))
		m.fail(capErr)
		return capErr
	}

	m.capturing = true
	m.rec.Reset()
	m.outcome = nil
	m.lastErr = nil
	m.paused = false
	m.pausedTotal = 0
	m.startedAt = m.now()
	m.stoppedAt = time.Time{}

	var sess *upload.Session
	sess = upload.New(m.loop, upload.Options{
		Dialer:    m.deps.Dialer,
		Issuer:    m.deps.Issuer,
		URL:       m.deps.UploadURL,
		Grace:     m.opts.Grace,
		Backoff:   m.opts.Backoff,
		SendQueue: m.opts.SendQueue,
		Logger:    m.deps.Logger,
		Metrics:   m.deps.Metrics,
	}, upload.Handler{
		OnChange: m.publish,
		OnDone:   func(o upload.Outcome) { m.uploadDone(sess, o) },
	})
	m.upload = sess
	m.uploads[sess] = struct{}{}
	m.tr.SetStreaming(true, m.opts.SampleRate)
	m.transition(StatusRecording)
	if err := sess.Begin(m.opts.MeetingID); err != nil {
		m.forceStop(err)
		return err
	}
	return nil
}

func (m *Machine) userStop() error {
	if m.starting {
		m.startGen++
		m.starting = false
		m.publish()
		return nil
	}
	if m.status != StatusRecording {
		return fmt.Errorf("%w: stop from %s", ErrInvalidState, m.status)
	}
	m.stopRecording()
	m.transition(StatusSaving)
	m.endUpload()
	return nil
}

// stopRecording stops capture and streaming.
func (m *Machine) stopRecording() {
	m.stopCapture()
	if m.paused {
		m.unpause()
	}
	m.stoppedAt = m.now()
	m.tr.SetStreaming(false, 0)
}

// endUpload runs after the status change since the upload may report its
// outcome synchronously.
func (m *Machine) endUpload() {
	if m.upload != nil {
		m.upload.End()
	}
}

func (m *Machine) stopCapture() {
	if !m.capturing {
		return
	}
	m.capturing = false
	m.deps.Capture.Stop()
}

// forceStop ends an active recording because of err and enters StatusError.
func (m *Machine) forceStop(err error) {
	m.log.Warn("recording force-stopped", slog.Any("error", err))
	m.stopRecording()
	m.fail(err)
	m.endUpload()
}

func (m *Machine) fail(err error) {
	m.lastErr = err
	m.transition(StatusError)
}

// transition is the only place status changes.
func (m *Machine) transition(to Status) {
	if m.status != to {
		m.log.Debug("transition", slog.String("from", m.status.String()), slog.String("to", to.String()))
		m.deps.Metrics.Transition(to.String())
		m.status = to
	}
	switch to {
	case StatusReady:
		m.armAutoStart()
	default:
		m.cancelAutoStart()
	}
	m.publish()
}

// captureFailed handles the microphone dying after Start succeeded. A failure
// that lands before finishStart is held for it.
func (m *Machine) captureFailed(gen uint64, err error) {
	if gen != m.startGen {
		return
	}
	if m.starting {
		m.captureErr = err
		return
	}
	if m.status != StatusRecording || !m.capturing {
		return
	}
	m.capturing = false
	m.forceStop(err)
}

func (m *Machine) captured(f capture.Frame) {
	if m.deps.Tap != nil {
		m.deps.Tap(f)
	}
	m.loop.Post(func() { m.frame(f) })
}

// frame fans one captured frame out to both sessions, each getting its own
// copy.
func (m *Machine) frame(f capture.Frame) {
	if m.status != StatusRecording || !m.capturing {
		return
	}
	if m.upload != nil {
		m.upload.Push(f.Clone())
	}
	m.tr.Push(f.Clone())
}

func (m *Machine) transcriptionOpened() {
	if m.status == StatusConnecting && !m.tr.Streaming() && !m.starting {
		m.transition(StatusReady)
		return
	}
	m.publish()
}

func (m *Machine) transcriptionClosed(ci transport.CloseInfo) {
	if ci.Deliberate {
		m.publish()
		return
	}
	switch m.status {
	case StatusRecording:
		m.forceStop(fmt.Errorf("%w: %v", ErrTranscriptionLost, ci.Err))
	case StatusReady:
		m.transition(StatusConnecting)
	default:
		m.publish()
	}
}

func (m *Machine) transcriptionFailed(err error) {
	if m.status == StatusRecording {
		m.forceStop(err)
		return
	}
	m.log.Info("transcription error while idle", slog.Any("error", err))
	m.publish()
}

func (m *Machine) uploadDone(sess *upload.Session, o upload.Outcome) {
	delete(m.uploads, sess)
	if o.Saved && m.deps.OnSaved != nil {
		m.deps.OnSaved(o)
	}
	if sess != m.upload {
		return
	}
	m.outcome = &o

	switch m.status {
	case StatusSaving:
		if o.Saved {
			m.transition(StatusCompleted)
		} else {
			m.fail(o.Err)
		}
	case StatusRecording:
		m.forceStop(o.Err)
	default:
		// Already in error: keep it, but expose the outcome.
		m.publish()
	}
}

func (m *Machine) armAutoStart() {
	if !m.opts.AutoStart || m.autoFired || m.autoTimer != nil {
		return
	}
	m.autoTimer = m.loop.AfterFunc(m.opts.AutoStartDelay, func() {
		m.autoTimer = nil
		if m.status != StatusReady || m.starting || m.tr.Streaming() || m.autoFired {
			return
		}
		m.autoFired = true
		m.log.Info("auto-starting recording")
		go func() {
			if err := m.Start(context.Background()); err != nil {
				m.log.Warn("auto-start failed", slog.Any("error", err))
			}
		}()
	})
}

func (m *Machine) cancelAutoStart() {
	m.autoTimer.Stop()
	m.autoTimer = nil
}

func (m *Machine) unpause() {
	m.pausedTotal += m.now().Sub(m.pausedAt)
	m.paused = false
	m.pausedAt = time.Time{}
}

// elapsed excludes paused intervals and freezes once recording stops.
func (m *Machine) elapsed() time.Duration {
	if m.startedAt.IsZero() {
		return 0
	}
	end := m.now()
	switch {
	case !m.stoppedAt.IsZero():
		end = m.stoppedAt
	case m.paused:
		end = m.pausedAt
	}
	d := end.Sub(m.startedAt) - m.pausedTotal
	if d < 0 {
		return 0
	}
	return d
}

// transcriptSink republishes after each transcript change.
type transcriptSink struct{ m *Machine }

func (s transcriptSink) Partial(text string) {
	s.m.rec.Partial(text)
	s.m.publish()
}

func (s transcriptSink) Final(text string) {
	s.m.rec.Final(text)
	s.m.publish()
}
