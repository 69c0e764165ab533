package queue

import (
	"errors"
)

// ErrClosed is returned when a task is pushed to a closed queue
var ErrClosed = errors.New("queue is closed")
