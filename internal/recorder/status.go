package recorder

import "fmt"

// Status is the recording lifecycle state shown to presentation code.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusReady
	StatusRecording
	StatusSaving
	StatusCompleted
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connectingServices"
	case StatusReady:
		return "ready"
	case StatusRecording:
		return "recording"
	case StatusSaving:
		return "saving"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// canStart lists the states a new recording may start from.
func (s Status) canStart() bool {
	switch s {
	case StatusConnecting, StatusReady, StatusCompleted, StatusError:
		return true
	}
	return false
}
