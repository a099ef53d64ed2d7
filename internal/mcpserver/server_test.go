package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/seeyonai/summit-sub000/internal/recorder"
	"github.com/seeyonai/summit-sub000/internal/transcript"
	"github.com/seeyonai/summit-sub000/internal/transport"
	"github.com/seeyonai/summit-sub000/internal/upload"
)

type fakeController struct {
	snap     recorder.Snapshot
	startErr error
	stopErr  error
	calls    []string
}

func (f *fakeController) Start(context.Context) error {
	f.calls = append(f.calls, "start")
	return f.startErr
}
func (f *fakeController) Stop() error                 { f.calls = append(f.calls, "stop"); return f.stopErr }
func (f *fakeController) Pause() error                { f.calls = append(f.calls, "pause"); return nil }
func (f *fakeController) Resume() error               { f.calls = append(f.calls, "resume"); return nil }
func (f *fakeController) Snapshot() recorder.Snapshot { return f.snap }

func request(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content = %T, want mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func TestStatusReport(t *testing.T) {
	ctl := &fakeController{snap: recorder.Snapshot{
		Status:        recorder.StatusCompleted,
		Elapsed:       1500 * time.Millisecond,
		Transcription: transport.StateOpen,
		Upload:        transport.StateClosed,
		RecordingID:   "rec-1",
		ChunksSent:    15,
		ChunksAcked:   15,
		Outcome: &upload.Outcome{
			Saved:       true,
			Filename:    "rec-1.wav",
			Duration:    90 * time.Second,
			FileSize:    2048,
			ChunksCount: 15,
		},
	}}
	tools := NewTools(ctl, nil)

	res, err := tools.Status(context.Background(), request("recording_status", nil))
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	var got StatusReport
	if err := json.Unmarshal([]byte(resultText(t, res)), &got); err != nil {
		t.Fatalf("status is not JSON: %v", err)
	}
	if got.Status != "completed" || got.Transcription != "open" || got.Upload != "closed" {
		t.Errorf("report = %+v", got)
	}
	if got.ElapsedSec != 1.5 || got.RecordingID != "rec-1" || got.ChunksSent != 15 {
		t.Errorf("report = %+v", got)
	}
	if got.Saved == nil || got.Saved.Filename != "rec-1.wav" || got.Saved.DurationSec != 90 {
		t.Errorf("saved = %+v", got.Saved)
	}
}

func TestStatusReportsError(t *testing.T) {
	ctl := &fakeController{snap: recorder.Snapshot{Status: recorder.StatusError, Err: upload.ErrSaveTimeout}}
	res, _ := NewTools(ctl, nil).Status(context.Background(), request("recording_status", nil))
	if !strings.Contains(resultText(t, res), upload.ErrSaveTimeout.Error()) {
		t.Errorf("status = %s", resultText(t, res))
	}
}

func TestControlTools(t *testing.T) {
	ctl := &fakeController{}
	tools := NewTools(ctl, nil)
	ctx := context.Background()

	for _, call := range []func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		tools.Start, tools.Pause, tools.Resume, tools.Stop,
	} {
		res, err := call(ctx, mcp.CallToolRequest{})
		if err != nil {
			t.Fatalf("tool error: %v", err)
		}
		if res.IsError {
			t.Errorf("unexpected tool failure: %s", resultText(t, res))
		}
	}
	want := "start,pause,resume,stop"
	if got := strings.Join(ctl.calls, ","); got != want {
		t.Errorf("calls = %s, want %s", got, want)
	}
}

func TestControlFailureIsToolError(t *testing.T) {
	ctl := &fakeController{
		startErr: errors.New("microphone permission denied"),
		stopErr:  recorder.ErrInvalidState,
	}
	tools := NewTools(ctl, nil)

	res, err := tools.Start(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("Start returned protocol error: %v", err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "permission denied") {
		t.Errorf("start result = %+v", res)
	}

	res, _ = tools.Stop(context.Background(), mcp.CallToolRequest{})
	if !res.IsError || !strings.Contains(resultText(t, res), "invalid state") {
		t.Errorf("stop result = %s", resultText(t, res))
	}
}

func TestTranscriptOrdering(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ctl := &fakeController{snap: recorder.Snapshot{
		Committed: []transcript.Segment{
			{Text: "second", Start: base.Add(time.Second)},
			{Text: "first", Start: base},
		},
		Live: &transcript.Segment{Text: "third", Start: base.Add(2 * time.Second), IsPartial: true},
	}}
	tools := NewTools(ctl, nil)

	tests := []struct {
		name string
		args map[string]any
		want []string
	}{
		{"most recent first", nil, []string{"third", "second", "first"}},
		{"chronological", map[string]any{"chronological": true}, []string{"first", "second", "third"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tools.Transcript(context.Background(), request("get_transcript", tt.args))
			if err != nil {
				t.Fatalf("Transcript: %v", err)
			}
			lines := strings.Split(resultText(t, res), "\n")
			if len(lines) != len(tt.want) {
				t.Fatalf("lines = %q", lines)
			}
			for i, w := range tt.want {
				if !strings.HasSuffix(lines[i], w) {
					t.Errorf("line %d = %q, want suffix %q", i, lines[i], w)
				}
			}
			if !strings.Contains(resultText(t, res), "(partial) third") {
				t.Error("live segment should be marked partial")
			}
		})
	}
}

func TestTranscriptEmpty(t *testing.T) {
	res, _ := NewTools(&fakeController{}, nil).Transcript(context.Background(), request("get_transcript", nil))
	if resultText(t, res) != "(no transcript yet)" {
		t.Errorf("empty transcript = %q", resultText(t, res))
	}
}

func TestServerListsTools(t *testing.T) {
	s := New("summit", "test", NewTools(&fakeController{}, nil))
	msg := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, name := range []string{"recording_status", "start_recording", "stop_recording", "pause_recording", "resume_recording", "get_transcript"} {
		if !strings.Contains(string(data), `"`+name+`"`) {
			t.Errorf("tools/list missing %s: %s", name, data)
		}
	}
}

func TestStopToolDescribesAsyncSave(t *testing.T) {
	s := New("summit", "test", NewTools(&fakeController{}, nil))
	msg := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var resp struct {
		Result struct {
			Tools []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, tool := range resp.Result.Tools {
		if tool.Name != "stop_recording" {
			continue
		}
		if strings.Contains(tool.Description, "wait for") {
			t.Errorf("description promises a synchronous save: %q", tool.Description)
		}
		if !strings.Contains(tool.Description, "recording_status") {
			t.Errorf("description does not point at recording_status: %q", tool.Description)
		}
		return
	}
	t.Fatal("stop_recording not listed")
}
