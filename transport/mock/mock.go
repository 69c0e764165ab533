// Package mock provides a scripted in-memory transport for tests
package mock

import (
	"context"
	"sync"

	"github.com/ridge/ddp/transport"
)

const buffer = 1024

// Transport is an in-memory transport.Transport.
//
// Connect does not open anything by itself: the test completes the attempt
// with Open or fails it with Fail. Like a real transport, every Connect is
// eventually followed by exactly one Disconnected. Everything sent on an open
// connection is recorded on the Sent channel.
type Transport struct {
	events   chan transport.Event
	sent     chan string
	connects chan string

	mu     sync.Mutex
	active bool // Connect called, Disconnected not yet reported
	open   bool
}

// New creates a mock transport
func New() *Transport {
	return &Transport{
		events:   make(chan transport.Event, buffer),
		sent:     make(chan string, buffer),
		connects: make(chan string, buffer),
	}
}

// Events implements transport.Transport
func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// Connect implements transport.Transport. The URL is reported on Connects.
func (t *Transport) Connect(ctx context.Context, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closeLocked()
	t.active = true
	t.connects <- url
}

// Send implements transport.Transport
func (t *Transport) Send(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return transport.ErrNotConnected
	}
	t.sent <- text
	return nil
}

// Disconnect implements transport.Transport
func (t *Transport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}

func (t *Transport) closeLocked() {
	if t.active {
		t.active = false
		t.open = false
		t.events <- transport.Event{Kind: transport.Disconnected}
	}
}

// Open completes the pending connection attempt. Returns false if there is
// no attempt to complete.
func (t *Transport) Open() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active || t.open {
		return false
	}
	t.open = true
	t.events <- transport.Event{Kind: transport.Connected}
	return true
}

// Fail fails the pending connection attempt, or drops the open connection
// as if the network went away
func (t *Transport) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return
	}
	t.active = false
	t.open = false
	t.events <- transport.Event{Kind: transport.Error, Err: err}
	t.events <- transport.Event{Kind: transport.Disconnected, Err: err}
}

// Deliver delivers text as if received from the server
func (t *Transport) Deliver(text string) {
	t.events <- transport.Event{Kind: transport.Text, Text: text}
}

// IsOpen returns true if the connection is open
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Sent returns the channel with messages sent by the client
func (t *Transport) Sent() <-chan string {
	return t.sent
}

// Connects returns the channel with URLs passed to Connect
func (t *Transport) Connects() <-chan string {
	return t.connects
}

var _ transport.Transport = (*Transport)(nil)
