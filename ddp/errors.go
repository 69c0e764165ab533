package ddp

import (
	"errors"
	"fmt"
)

// ErrDisconnected is delivered to pending method callbacks when the caller
// tears the session down
var ErrDisconnected = errors.New("DDP client disconnected")

// ErrNotRunning is returned by synchronous helpers of a client that is not
// running
var ErrNotRunning = errors.New("DDP client is not running")

// ErrVersionMismatch is matched by errors.Is for VersionMismatchError
var ErrVersionMismatch = errors.New("DDP protocol version mismatch")

// VersionMismatchError is reported when the server rejects the handshake
// and suggests no version the client supports. Automatic reconnection stops.
type VersionMismatchError struct {
	Proposed  string
	Suggested string
	Support   []string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("DDP protocol version mismatch: proposed %s, supported %v, server suggests %q", e.Proposed, e.Support, e.Suggested)
}

// Is implements errors.Is
func (e *VersionMismatchError) Is(target error) bool {
	return target == ErrVersionMismatch
}
