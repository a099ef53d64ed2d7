package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/seeyonai/summit-sub000/internal/recorder"
	"github.com/seeyonai/summit-sub000/internal/transcript"
	"github.com/seeyonai/summit-sub000/internal/ui"
)

// Controller is the part of recorder.Machine the view drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Pause() error
	Resume() error
	Snapshot() recorder.Snapshot
	Subscribe() <-chan recorder.Snapshot
}

// Model is the root bubbletea model for the live recording view.
type Model struct {
	ctx   context.Context
	ctl   Controller
	snaps <-chan recorder.Snapshot

	meetingID string
	snap      recorder.Snapshot
	spinner   spinner.Model

	width            int
	height           int
	transcriptScroll int
	transcriptLive   bool

	errorMessage   string
	errorTransient bool
}

// New creates a Model driving ctl. ctx bounds recording starts.
func New(ctx context.Context, ctl Controller, meetingID string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = ui.SpinnerStyle
	return Model{
		ctx:            ctx,
		ctl:            ctl,
		meetingID:      meetingID,
		spinner:        sp,
		transcriptLive: true,
	}
}

// Init subscribes to snapshots and starts the spinner and elapsed clock.
func (m Model) Init() tea.Cmd {
	return tea.Batch(subscribeCmd(m.ctl), m.spinner.Tick, elapsedTickCmd())
}

type subscribedMsg struct{ ch <-chan recorder.Snapshot }

func subscribeCmd(ctl Controller) tea.Cmd {
	return func() tea.Msg {
		return subscribedMsg{ch: ctl.Subscribe()}
	}
}

// waitSnapshotCmd blocks for the next snapshot.
func waitSnapshotCmd(ch <-chan recorder.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return snapshotsClosedMsg{}
		}
		return SnapshotMsg{Snapshot: s}
	}
}

func elapsedTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return elapsedTickMsg{}
	})
}

func controlCmd(op string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return CommandResultMsg{Op: op, Err: fn()}
	}
}

func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case subscribedMsg:
		m.snaps = msg.ch
		return m, waitSnapshotCmd(m.snaps)

	case SnapshotMsg:
		m.applySnapshot(msg.Snapshot)
		if m.snaps == nil {
			return m, nil
		}
		return m, waitSnapshotCmd(m.snaps)

	case refreshedMsg:
		m.applySnapshot(msg.snapshot)
		return m, nil

	case snapshotsClosedMsg:
		return m, nil

	case CommandResultMsg:
		if msg.Err != nil {
			m.errorMessage = fmt.Sprintf("%s: %v", msg.Op, msg.Err)
			m.errorTransient = true
			return m, clearTransientErrorCmd()
		}
		return m, nil

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil

	case elapsedTickMsg:
		if m.snap.Status != recorder.StatusRecording || m.snap.Paused {
			return m, elapsedTickCmd()
		}
		ctl := m.ctl
		return m, tea.Batch(elapsedTickCmd(), func() tea.Msg {
			return refreshedMsg{snapshot: ctl.Snapshot()}
		})

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) applySnapshot(s recorder.Snapshot) {
	m.snap = s
	if m.transcriptLive {
		m.scrollToBottom()
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		return m, tea.Quit

	case KeySpace:
		ctl := m.ctl
		if m.snap.Starting || m.snap.Status == recorder.StatusRecording {
			return m, controlCmd("stop", ctl.Stop)
		}
		if !startable(m.snap.Status) {
			return m, nil
		}
		ctx := m.ctx
		return m, controlCmd("start", func() error { return ctl.Start(ctx) })

	case KeyPause, KeyPauseUp:
		if m.snap.Status != recorder.StatusRecording {
			return m, nil
		}
		if m.snap.Paused {
			return m, controlCmd("resume", m.ctl.Resume)
		}
		return m, controlCmd("pause", m.ctl.Pause)

	case KeyUp, KeyK:
		m.transcriptLive = false
		if m.transcriptScroll > 0 {
			m.transcriptScroll--
		}
		return m, nil

	case KeyDown, KeyJ:
		maxScroll := m.maxTranscriptScroll()
		m.transcriptScroll++
		if m.transcriptScroll >= maxScroll {
			m.transcriptScroll = maxScroll
			m.transcriptLive = true
		}
		return m, nil

	case KeyEnd:
		m.transcriptLive = true
		m.scrollToBottom()
		return m, nil
	}

	return m, nil
}

func startable(s recorder.Status) bool {
	switch s {
	case recorder.StatusConnecting, recorder.StatusReady, recorder.StatusCompleted, recorder.StatusError:
		return true
	}
	return false
}

func (m *Model) scrollToBottom() {
	m.transcriptScroll = m.maxTranscriptScroll()
}

func (m Model) maxTranscriptScroll() int {
	total := len(m.transcriptLines(m.transcriptWidth()))
	visible := m.transcriptVisibleLines()
	if total <= visible {
		return 0
	}
	return total - visible
}

func (m Model) transcriptVisibleLines() int {
	if m.height == 0 {
		return 20
	}
	// header, status, connections, two dividers, panel title, error, footer
	reserved := 8
	return max(5, m.height-reserved)
}

func (m Model) transcriptWidth() int {
	if m.width == 0 {
		return 80
	}
	return max(30, m.width-2)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	divider := ui.DividerStyle.Render(strings.Repeat("─", m.width))
	sections := []string{
		m.renderHeader(),
		m.renderStatusBar(),
		m.renderConnections(),
		divider,
		m.renderTranscript(),
		divider,
	}
	if bar := m.renderErrorBar(); bar != "" {
		sections = append(sections, bar)
	}
	sections = append(sections, m.renderFooter())
	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("SUMMIT")
	if m.meetingID != "" {
		title += ui.DimStyle.Render(" meeting " + m.meetingID)
	}
	if m.snap.RecordingID != "" {
		title += ui.DimStyle.Render(" · recording " + m.snap.RecordingID)
	}
	return title
}

func (m Model) renderStatusBar() string {
	s := m.snap
	var badge string
	switch {
	case s.Starting:
		badge = m.spinner.View() + ui.ConnectingBadge.Render(" STARTING")
	case s.Status == recorder.StatusRecording && s.Paused:
		badge = ui.PausedBadge.Render("❚❚ PAUSED")
	case s.Status == recorder.StatusRecording:
		badge = ui.RecordingBadge.Render("● REC")
	case s.Status == recorder.StatusConnecting:
		badge = m.spinner.View() + ui.ConnectingBadge.Render(" CONNECTING")
	case s.Status == recorder.StatusReady:
		badge = ui.ReadyBadge.Render("○ READY")
	case s.Status == recorder.StatusSaving:
		badge = m.spinner.View() + ui.SavingBadge.Render(" SAVING")
	case s.Status == recorder.StatusCompleted:
		badge = ui.CompletedBadge.Render("✓ SAVED")
	case s.Status == recorder.StatusError:
		badge = ui.ErrorBadge.Render("✗ ERROR")
	default:
		badge = ui.IdleBadge.Render("○ IDLE")
	}

	line := badge + "  " + ui.TimestampStyle.Render(formatElapsed(s.Elapsed))
	if s.ChunksSent > 0 {
		line += ui.DimStyle.Render(fmt.Sprintf("  chunks %d sent / %d acked", s.ChunksSent, s.ChunksAcked))
	}
	if o := s.Outcome; o != nil && o.Saved {
		line += ui.DimStyle.Render(fmt.Sprintf("  %s (%s, %d chunks)", o.Filename, o.Duration.Round(time.Second), o.ChunksCount))
	}
	return line
}

func (m Model) renderConnections() string {
	tr := m.snap.Transcription.String()
	up := m.snap.Upload.String()
	line := ui.DimStyle.Render("transcription ") + ui.ConnStyle(tr).Render(tr) +
		ui.DimStyle.Render("  upload ") + ui.ConnStyle(up).Render(up)
	if m.snap.Reconnecting {
		line += ui.DimStyle.Render("  reconnecting...")
	}
	if m.snap.StatusText != "" {
		line += ui.DimStyle.Render("  " + m.snap.StatusText)
	}
	return line
}

func (m Model) renderTranscript() string {
	badge := ui.LiveBadgeStyle.Render(" LIVE")
	if !m.transcriptLive {
		badge = ui.ScrollBadgeStyle.Render(" SCROLL")
	}
	lines := []string{ui.PanelTitleStyle.Render("TRANSCRIPT") + badge}

	height := m.transcriptVisibleLines()
	display := m.transcriptLines(m.transcriptWidth())
	if len(display) == 0 {
		lines = append(lines, "", ui.DimStyle.Render("  "+m.placeholder()))
	} else {
		start := m.transcriptScroll
		if m.transcriptLive && len(display) > height {
			start = len(display) - height
		}
		start = max(0, min(start, len(display)))
		end := min(start+height, len(display))
		for _, l := range display[start:end] {
			lines = append(lines, "  "+l)
		}
	}

	for len(lines) < height+1 {
		lines = append(lines, "")
	}
	return strings.Join(lines[:height+1], "\n")
}

func (m Model) placeholder() string {
	switch m.snap.Status {
	case recorder.StatusConnecting:
		return "Connecting to transcription service..."
	case recorder.StatusRecording:
		return "Listening..."
	case recorder.StatusIdle:
		return "Not connected."
	default:
		return "Press Space to start recording"
	}
}

// transcriptLines wraps committed segments oldest first, then the live one.
func (m Model) transcriptLines(width int) []string {
	const prefixWidth = 11 // "[15:04:05] "
	textWidth := max(10, width-prefixWidth-2)
	indent := strings.Repeat(" ", prefixWidth)

	var out []string
	add := func(seg transcript.Segment, style func(...string) string) {
		ts := ui.TimestampStyle.Render(seg.Start.Format("[15:04:05]"))
		text := seg.Text
		if seg.IsPartial {
			text += "▌"
		}
		wrapped := wrapText(text, textWidth)
		out = append(out, ts+" "+style(wrapped[0]))
		for _, wl := range wrapped[1:] {
			out = append(out, indent+style(wl))
		}
	}
	plain := func(s ...string) string { return strings.Join(s, " ") }
	for _, seg := range m.snap.Chronological() {
		add(seg, plain)
	}
	if m.snap.Live != nil {
		add(*m.snap.Live, ui.PartialTextStyle.Render)
	}
	return out
}

func (m Model) renderErrorBar() string {
	msg := m.errorMessage
	if msg == "" && m.snap.Err != nil {
		msg = m.snap.Err.Error()
	}
	if msg == "" {
		return ""
	}
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(msg)
}

func (m Model) renderFooter() string {
	key := func(k, desc string) string {
		return ui.FooterKeyStyle.Render(k) + ui.FooterDescStyle.Render(" "+desc)
	}

	var parts []string
	switch {
	case m.snap.Starting:
		parts = append(parts, key("Space", "Cancel"))
	case m.snap.Status == recorder.StatusRecording:
		parts = append(parts, key("Space", "Stop"))
		if m.snap.Paused {
			parts = append(parts, key("p", "Resume"))
		} else {
			parts = append(parts, key("p", "Pause"))
		}
	case startable(m.snap.Status):
		parts = append(parts, key("Space", "Record"))
	}
	parts = append(parts, key("↑↓", "Scroll"), key("q", "Quit"))
	return strings.Join(parts, "  ")
}

func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	mins := int(d/time.Minute) % 60
	secs := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mins, secs)
	}
	return fmt.Sprintf("%02d:%02d", mins, secs)
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			switch {
			case current == "":
				current = word
			case len([]rune(current))+1+len([]rune(word)) <= width:
				current += " " + word
			default:
				lines = append(lines, current)
				current = word
			}
		}
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
