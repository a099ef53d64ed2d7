// Package db stores the local history of saved recordings in SQLite.
package db

import "time"

// Recording is one upload the backend confirmed as saved. Transcripts are not
// stored; the backend owns them.
type Recording struct {
	ID          string
	RecordingID string
	MeetingID   string
	Filename    string
	DownloadURL string
	Duration    time.Duration
	FileSize    int64
	ChunksCount int
	ChunksSent  int
	SavedAt     time.Time
}
