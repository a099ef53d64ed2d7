// Package mcpserver exposes a recorder over the Model Context Protocol so an
// agent can drive recordings and read the live transcript.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/seeyonai/summit-sub000/internal/recorder"
	"github.com/seeyonai/summit-sub000/internal/transcript"
)

// Controller is the part of recorder.Machine the tools drive.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Pause() error
	Resume() error
	Snapshot() recorder.Snapshot
}

// Tools binds tool handlers to a controller.
type Tools struct {
	ctl Controller
	log *slog.Logger
}

func NewTools(ctl Controller, log *slog.Logger) *Tools {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Tools{ctl: ctl, log: log.With(slog.String("component", "mcp"))}
}

// New builds an MCP server with every recording tool registered.
func New(name, version string, t *Tools) *server.MCPServer {
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("recording_status",
		mcp.WithDescription("Report the recorder state: status, elapsed time, connection states, upload progress and the last error."),
	), t.Status)

	s.AddTool(mcp.NewTool("start_recording",
		mcp.WithDescription("Open the microphone and start a new recording. Fails if a recording is already running."),
	), t.Start)

	s.AddTool(mcp.NewTool("stop_recording",
		mcp.WithDescription("Stop the current recording. Returns once capture has stopped; the backend saves the audio asynchronously, so poll recording_status for the saved outcome or error."),
	), t.Stop)

	s.AddTool(mcp.NewTool("pause_recording",
		mcp.WithDescription("Pause the elapsed clock. Audio keeps streaming."),
	), t.Pause)

	s.AddTool(mcp.NewTool("resume_recording",
		mcp.WithDescription("Resume the elapsed clock after a pause."),
	), t.Resume)

	s.AddTool(mcp.NewTool("get_transcript",
		mcp.WithDescription("Return committed transcript segments plus the live partial, one per line."),
		mcp.WithBoolean("chronological",
			mcp.Description("Oldest segment first. Defaults to most recent first."),
		),
	), t.Transcript)

	return s
}

// Serve runs the server over stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// StatusReport is the JSON body of recording_status.
type StatusReport struct {
	Status        string  `json:"status"`
	Paused        bool    `json:"paused"`
	Starting      bool    `json:"starting"`
	ElapsedSec    float64 `json:"elapsedSeconds"`
	Transcription string  `json:"transcription"`
	Upload        string  `json:"upload"`
	Reconnecting  bool    `json:"reconnecting"`
	StatusText    string  `json:"statusText,omitempty"`
	RecordingID   string  `json:"recordingId,omitempty"`
	ChunksSent    int     `json:"chunksSent"`
	ChunksAcked   int     `json:"chunksAcked"`
	Saved         *Saved  `json:"saved,omitempty"`
	Error         string  `json:"error,omitempty"`
}

type Saved struct {
	Filename    string  `json:"filename"`
	DownloadURL string  `json:"downloadUrl,omitempty"`
	DurationSec float64 `json:"durationSeconds"`
	FileSize    int64   `json:"fileSize"`
	ChunksCount int     `json:"chunksCount"`
}

func report(s recorder.Snapshot) StatusReport {
	r := StatusReport{
		Status:        s.Status.String(),
		Paused:        s.Paused,
		Starting:      s.Starting,
		ElapsedSec:    s.Elapsed.Round(time.Millisecond).Seconds(),
		Transcription: s.Transcription.String(),
		Upload:        s.Upload.String(),
		Reconnecting:  s.Reconnecting,
		StatusText:    s.StatusText,
		RecordingID:   s.RecordingID,
		ChunksSent:    s.ChunksSent,
		ChunksAcked:   s.ChunksAcked,
	}
	if o := s.Outcome; o != nil && o.Saved {
		r.Saved = &Saved{
			Filename:    o.Filename,
			DownloadURL: o.DownloadURL,
			DurationSec: o.Duration.Seconds(),
			FileSize:    o.FileSize,
			ChunksCount: o.ChunksCount,
		}
	}
	if s.Err != nil {
		r.Error = s.Err.Error()
	}
	return r
}

func (t *Tools) Status(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(report(t.ctl.Snapshot()), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (t *Tools) Start(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := t.ctl.Start(ctx); err != nil {
		t.log.Warn("start failed", slog.Any("error", err))
		return mcp.NewToolResultError("start failed: " + err.Error()), nil
	}
	return mcp.NewToolResultText("recording started"), nil
}

func (t *Tools) Stop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.control("stop", t.ctl.Stop, "recording stopped; the backend is saving it, check recording_status for the outcome")
}

func (t *Tools) Pause(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.control("pause", t.ctl.Pause, "recording paused")
}

func (t *Tools) Resume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.control("resume", t.ctl.Resume, "recording resumed")
}

func (t *Tools) control(op string, fn func() error, ok string) (*mcp.CallToolResult, error) {
	if err := fn(); err != nil {
		return mcp.NewToolResultError(op + " failed: " + err.Error()), nil
	}
	return mcp.NewToolResultText(ok), nil
}

func (t *Tools) Transcript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s := t.ctl.Snapshot()
	var segs []transcript.Segment
	if req.GetBool("chronological", false) {
		segs = s.Chronological()
		if s.Live != nil {
			segs = append(segs, *s.Live)
		}
	} else {
		if s.Live != nil {
			segs = append(segs, *s.Live)
		}
		segs = append(segs, s.Committed...)
	}
	if len(segs) == 0 {
		return mcp.NewToolResultText("(no transcript yet)"), nil
	}

	var b strings.Builder
	for _, seg := range segs {
		writeSegment(&b, seg)
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func writeSegment(b *strings.Builder, seg transcript.Segment) {
	b.WriteString(seg.Start.Format("[15:04:05] "))
	if seg.IsPartial {
		b.WriteString("(partial) ")
	}
	b.WriteString(seg.Text)
	b.WriteByte('\n')
}
