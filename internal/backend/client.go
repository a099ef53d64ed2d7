package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RecordingTicket is the identifier issued before the upload socket opens.
type RecordingTicket struct {
	RecordingID string `json:"recordingId"`
	Filename    string `json:"filename,omitempty"`
}

// Client talks to the backend HTTP API.
type Client struct {
	BaseURL string
	Token   string
	// SessionID identifies this client process to the backend.
	SessionID string
	HTTP      *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// CreateRecording asks the backend for a new recording identifier. meetingID
// may be empty.
func (c *Client) CreateRecording(ctx context.Context, meetingID string) (RecordingTicket, error) {
	body, err := json.Marshal(struct {
		MeetingID string `json:"meetingId,omitempty"`
	}{meetingID})
	if err != nil {
		return RecordingTicket{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint, err := url.JoinPath(c.BaseURL, "api", "recordings")
	if err != nil {
		return RecordingTicket{}, fmt.Errorf("build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return RecordingTicket{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.Header() {
		req.Header[k] = v
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return RecordingTicket{}, fmt.Errorf("create recording: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return RecordingTicket{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return RecordingTicket{}, &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var ticket RecordingTicket
	if err := json.Unmarshal(data, &ticket); err != nil {
		return RecordingTicket{}, fmt.Errorf("%w: decode recording: %v", ErrProtocol, err)
	}
	if ticket.RecordingID == "" {
		return RecordingTicket{}, fmt.Errorf("%w: response has no recordingId", ErrProtocol)
	}
	return ticket, nil
}

// Header carries credentials for both HTTP requests and WebSocket handshakes.
func (c *Client) Header() http.Header {
	h := http.Header{}
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	if c.SessionID != "" {
		h.Set("X-Client-Session", c.SessionID)
	}
	return h
}

// UploadURL is the upload socket address for one recording.
func UploadURL(wsBase, path, recordingID string) (string, error) {
	return url.JoinPath(wsBase, path, recordingID)
}

// TranscriptionURL is the transcription socket address.
func TranscriptionURL(wsBase, path string) (string, error) {
	return url.JoinPath(wsBase, path)
}
