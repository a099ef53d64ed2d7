package db

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// createTestStore opens an in-memory database with the history schema.
func createTestStore(t *testing.T) *Store {
	t.Helper()

	raw, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// Every pooled connection to :memory: is a separate database.
	raw.SetMaxOpenConns(1)

	store, err := newStore(raw)
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAddRecording(t *testing.T) {
	store := createTestStore(t)

	saved := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	got, err := store.AddRecording(Recording{
		RecordingID: "r1",
		MeetingID:   "m1",
		Filename:    "r1.wav",
		DownloadURL: "/files/r1.wav",
		Duration:    12500 * time.Millisecond,
		FileSize:    384000,
		ChunksCount: 120,
		ChunksSent:  121,
		SavedAt:     saved,
	})
	if err != nil {
		t.Fatalf("AddRecording: %v", err)
	}
	if got.ID == "" {
		t.Error("ID not assigned")
	}

	r, err := store.Recording("r1")
	if err != nil {
		t.Fatalf("Recording: %v", err)
	}
	if r == nil {
		t.Fatal("expected recording, got nil")
	}
	if r.ID != got.ID || r.MeetingID != "m1" || r.Filename != "r1.wav" || r.DownloadURL != "/files/r1.wav" {
		t.Errorf("recording = %+v", r)
	}
	if r.Duration != 12500*time.Millisecond {
		t.Errorf("duration = %v, want 12.5s", r.Duration)
	}
	if r.FileSize != 384000 || r.ChunksCount != 120 || r.ChunksSent != 121 {
		t.Errorf("counts = %d/%d/%d", r.FileSize, r.ChunksCount, r.ChunksSent)
	}
	if !r.SavedAt.Equal(saved) {
		t.Errorf("savedAt = %v, want %v", r.SavedAt, saved)
	}
}

func TestRecordingMissing(t *testing.T) {
	store := createTestStore(t)

	r, err := store.Recording("nonexistent")
	if err != nil {
		t.Fatalf("Recording: %v", err)
	}
	if r != nil {
		t.Errorf("expected nil, got %+v", r)
	}
}

func TestRecordingsNewestFirst(t *testing.T) {
	store := createTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		if _, err := store.AddRecording(Recording{
			RecordingID: id,
			SavedAt:     base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("AddRecording(%s): %v", id, err)
		}
	}

	all, err := store.Recordings(0)
	if err != nil {
		t.Fatalf("Recordings: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d recordings, want 3", len(all))
	}
	if all[0].RecordingID != "new" || all[2].RecordingID != "old" {
		t.Errorf("order = %s, %s, %s", all[0].RecordingID, all[1].RecordingID, all[2].RecordingID)
	}
	if all[0].MeetingID != "" {
		t.Errorf("empty meeting id read back as %q", all[0].MeetingID)
	}

	limited, err := store.Recordings(2)
	if err != nil {
		t.Fatalf("Recordings(2): %v", err)
	}
	if len(limited) != 2 || limited[0].RecordingID != "new" {
		t.Errorf("limited = %+v", limited)
	}
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.sqlite")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.AddRecording(Recording{RecordingID: "r1"}); err != nil {
		t.Fatalf("AddRecording: %v", err)
	}
	store.Close()

	// Reopening keeps the data and tolerates the existing schema.
	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	r, err := store.Recording("r1")
	if err != nil || r == nil {
		t.Fatalf("Recording after reopen = %v, %v", r, err)
	}
}

func TestTimeFromUnix(t *testing.T) {
	in := time.Date(2026, 3, 1, 10, 0, 0, 250_000_000, time.UTC)
	got := timeFromUnix(unixFromTime(in))
	if d := got.Sub(in); d > time.Microsecond || d < -time.Microsecond {
		t.Errorf("round trip drifted by %v", d)
	}
}
