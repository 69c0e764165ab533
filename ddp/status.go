package ddp

// Status is the state of the session
type Status int32

// Status values.
//
// A session goes Idle → Connecting → Handshaking → Open, and from Open to
// Closing on an explicit disconnect or to Reconnecting when the connection is
// lost. Failed is terminal until the caller reconnects explicitly.
const (
	StatusIdle Status = iota
	StatusConnecting
	StatusHandshaking
	StatusOpen
	StatusClosing
	StatusReconnecting
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusHandshaking:
		return "handshaking"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
