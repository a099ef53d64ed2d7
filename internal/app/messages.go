package app

import "github.com/seeyonai/summit-sub000/internal/recorder"

// SnapshotMsg carries the machine state after a change.
type SnapshotMsg struct {
	Snapshot recorder.Snapshot
}

// snapshotsClosedMsg is sent when the subscription channel closes.
type snapshotsClosedMsg struct{}

// CommandResultMsg reports the result of a start, stop, pause or resume.
type CommandResultMsg struct {
	Op  string
	Err error
}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}

// elapsedTickMsg refreshes the elapsed clock while recording.
type elapsedTickMsg struct{}

// refreshedMsg carries a polled snapshot; unlike SnapshotMsg it does not
// re-arm the subscription wait.
type refreshedMsg struct {
	snapshot recorder.Snapshot
}
