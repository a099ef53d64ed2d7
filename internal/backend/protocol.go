// Package backend provides the wire types for the recording and transcription
// WebSockets and the HTTP client that issues recording identifiers.
package backend

import (
	"encoding/json"
	"fmt"
)

// Server message types on the upload socket.
const (
	TypeReady          = "ready"
	TypeChunkReceived  = "chunk_received"
	TypeRecordingSaved = "recording_saved"
	TypeError          = "error"
)

// Server message types on the transcription socket.
const (
	TypePartial = "partial"
	TypeFinal   = "final"
	TypeInfo    = "info"
)

// Control is sent from the client on either socket.
type Control struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// Start asks the transcription service to begin a stream at rate.
func Start(rate int) Control { return Control{Type: "start", SampleRate: rate} }

// Stop ends a stream or an upload.
func Stop() Control { return Control{Type: "stop"} }

// UploadEvent is received on the recording upload socket.
type UploadEvent struct {
	Type        string  `json:"type"`
	RecordingID string  `json:"recordingId,omitempty"`
	Filename    string  `json:"filename,omitempty"`
	ChunkSize   int     `json:"chunkSize,omitempty"`
	TotalChunks int     `json:"totalChunks,omitempty"`
	DownloadURL string  `json:"downloadUrl,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	FileSize    int64   `json:"fileSize,omitempty"`
	ChunksCount int     `json:"chunksCount,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// TranscriptionEvent is received on the transcription socket. Timestamp is
// kept raw since the service sends either a number or a string.
type TranscriptionEvent struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	Timestamp  json.RawMessage `json:"timestamp,omitempty"`
	IsFinal    *bool           `json:"isFinal,omitempty"`
	Confidence *float64        `json:"confidence,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// DecodeUpload parses one upload socket message.
func DecodeUpload(data []byte) (UploadEvent, error) {
	var ev UploadEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return UploadEvent{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if ev.Type == "" {
		return UploadEvent{}, fmt.Errorf("%w: missing type", ErrProtocol)
	}
	return ev, nil
}

// DecodeTranscription parses one transcription socket message.
func DecodeTranscription(data []byte) (TranscriptionEvent, error) {
	var ev TranscriptionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return TranscriptionEvent{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if ev.Type == "" {
		return TranscriptionEvent{}, fmt.Errorf("%w: missing type", ErrProtocol)
	}
	return ev, nil
}

// BoolPtr returns a pointer to a bool value. Convenience for building events.
func BoolPtr(b bool) *bool { return &b }
