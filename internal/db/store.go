package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		recordingId TEXT NOT NULL,
		meetingId TEXT,
		filename TEXT,
		downloadUrl TEXT,
		durationMs INTEGER NOT NULL DEFAULT 0,
		fileSize INTEGER NOT NULL DEFAULT 0,
		chunksCount INTEGER NOT NULL DEFAULT 0,
		chunksSent INTEGER NOT NULL DEFAULT 0,
		savedAt REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS recordings_savedAt ON recordings(savedAt);
`

// Store provides access to the recording history database.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".summit", "history.sqlite")
}

// ExpandPath resolves a leading ~ to the home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// Open opens or creates the database with WAL and applies the schema.
func Open(path string) (*Store, error) {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return newStore(db)
}

func newStore(db *sql.DB) (*Store, error) {
	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddRecording inserts r, assigning an ID and SavedAt when missing.
func (s *Store) AddRecording(r Recording) (Recording, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.SavedAt.IsZero() {
		r.SavedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO recordings (id, recordingId, meetingId, filename, downloadUrl,
			durationMs, fileSize, chunksCount, chunksSent, savedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.RecordingID, nullString(r.MeetingID), nullString(r.Filename), nullString(r.DownloadURL),
		r.Duration.Milliseconds(), r.FileSize, r.ChunksCount, r.ChunksSent, unixFromTime(r.SavedAt))
	if err != nil {
		return Recording{}, fmt.Errorf("insert recording: %w", err)
	}
	return r, nil
}

// Recordings returns the most recent recordings first. limit <= 0 means all.
func (s *Store) Recordings(limit int) ([]Recording, error) {
	query := `
		SELECT id, recordingId, meetingId, filename, downloadUrl,
			durationMs, fileSize, chunksCount, chunksSent, savedAt
		FROM recordings
		ORDER BY savedAt DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Recording looks up a row by backend recording id. It returns nil when
// there is none.
func (s *Store) Recording(recordingID string) (*Recording, error) {
	row := s.db.QueryRow(`
		SELECT id, recordingId, meetingId, filename, downloadUrl,
			durationMs, fileSize, chunksCount, chunksSent, savedAt
		FROM recordings
		WHERE recordingId = ?
		ORDER BY savedAt DESC
		LIMIT 1
	`, recordingID)

	r, err := scanRecording(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecording(sc scanner) (Recording, error) {
	var r Recording
	var meetingID, filename, downloadURL sql.NullString
	var durationMs int64
	var savedAt float64
	if err := sc.Scan(&r.ID, &r.RecordingID, &meetingID, &filename, &downloadURL,
		&durationMs, &r.FileSize, &r.ChunksCount, &r.ChunksSent, &savedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Recording{}, err
		}
		return Recording{}, fmt.Errorf("scan recording: %w", err)
	}
	r.MeetingID = meetingID.String
	r.Filename = filename.String
	r.DownloadURL = downloadURL.String
	r.Duration = time.Duration(durationMs) * time.Millisecond
	r.SavedAt = timeFromUnix(savedAt)
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
