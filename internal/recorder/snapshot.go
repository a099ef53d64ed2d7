package recorder

import (
	"slices"
	"time"

	"github.com/seeyonai/summit-sub000/internal/transcript"
	"github.com/seeyonai/summit-sub000/internal/transport"
	"github.com/seeyonai/summit-sub000/internal/upload"
)

// Snapshot is an immutable view of the machine.
type Snapshot struct {
	Status   Status
	Paused   bool
	Starting bool
	Elapsed  time.Duration

	Transcription transport.State
	Upload        transport.State
	Reconnecting  bool
	StatusText    string
	Err           error

	RecordingID string
	ChunksSent  int
	ChunksAcked int
	// Outcome is set once the current recording's upload finished.
	Outcome *upload.Outcome

	// Committed is most recent first.
	Committed []transcript.Segment
	Live      *transcript.Segment
}

// Chronological returns committed segments oldest first.
func (s Snapshot) Chronological() []transcript.Segment {
	out := slices.Clone(s.Committed)
	slices.Reverse(out)
	return out
}

func (m *Machine) snapshot() Snapshot {
	s := Snapshot{
		Status:        m.status,
		Paused:        m.paused,
		Starting:      m.starting,
		Elapsed:       m.elapsed(),
		Transcription: m.tr.ConnState(),
		Upload:        transport.StateClosed,
		Reconnecting:  m.tr.Reconnecting(),
		StatusText:    m.tr.StatusText(),
		Err:           m.lastErr,
		Committed:     m.rec.Committed(),
	}
	if m.upload != nil {
		s.Upload = m.upload.ConnState()
		s.RecordingID = m.upload.RecordingID()
		s.ChunksSent = m.upload.ChunksSent()
		s.ChunksAcked = m.upload.ChunksAcked()
	}
	if m.outcome != nil {
		o := *m.outcome
		s.Outcome = &o
	}
	if live, ok := m.rec.Live(); ok {
		s.Live = &live
	}
	return s
}

// publish offers the latest snapshot to every subscriber, replacing any value
// they have not read yet. Runs on the loop, the only sender.
func (m *Machine) publish() {
	if len(m.subs) == 0 {
		return
	}
	s := m.snapshot()
	for _, ch := range m.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
