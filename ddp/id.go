package ddp

import (
	"github.com/google/uuid"
)

// NewID returns a fresh identifier for method calls, subscriptions and
// documents
func NewID() string {
	return uuid.NewString()
}
