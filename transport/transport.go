// Package transport abstracts the text-message socket a DDP client talks
// over.
package transport

import (
	"context"
	"errors"
)

// Kind is the kind of a transport event
type Kind int

// Kind values
const (
	Connected Kind = iota + 1
	Disconnected
	Text
	Error
)

func (k Kind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Text:
		return "text"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Event is reported by a transport. Text is set for Text events, Err for
// Error events and for Disconnected events caused by a failure.
type Event struct {
	Kind Kind
	Text string
	Err  error
}

// ErrNotConnected is returned by Send when there is no open connection
var ErrNotConnected = errors.New("transport is not connected")

// Transport is a bidirectional text-message channel.
//
// Events for one connection attempt are delivered in order: Connected,
// any number of Text and Error, then exactly one Disconnected. A failed
// attempt reports Error and Disconnected without Connected.
type Transport interface {
	// Connect starts a connection attempt in the background, replacing the
	// current connection if there is one. The connection does not outlive ctx.
	Connect(ctx context.Context, url string)

	// Send sends a text message on the current connection
	Send(text string) error

	// Disconnect closes the current connection, if any
	Disconnect()

	// Events returns the channel on which events are delivered
	Events() <-chan Event
}
