package transport

// State is the connection state of a Conn.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// CloseInfo describes why a socket went away.
type CloseInfo struct {
	// Deliberate is true when Close was called; no reconnect follows.
	Deliberate bool
	// Err is the read error or *CloseError for unexpected closes.
	Err error
}
