package wire

import (
	"github.com/segmentio/encoding/json"
)

// Type is the value of the msg field that discriminates DDP messages
type Type string

// Message types, client to server
const (
	TypeConnect Type = "connect"
	TypeSub     Type = "sub"
	TypeUnsub   Type = "unsub"
	TypeMethod  Type = "method"
)

// Message types, server to client
const (
	TypeConnected Type = "connected"
	TypeFailed    Type = "failed"
	TypeReady     Type = "ready"
	TypeNosub     Type = "nosub"
	TypeAdded     Type = "added"
	TypeChanged   Type = "changed"
	TypeRemoved   Type = "removed"
	TypeResult    Type = "result"
	TypeUpdated   Type = "updated"
	TypeError     Type = "error"
)

// Message types travelling both ways
const (
	TypePing Type = "ping"
	TypePong Type = "pong"
)

// Category groups incoming message types by the component that handles them
type Category int

// Category values
const (
	CategoryUnknown Category = iota
	CategoryLifecycle
	CategoryData
	CategoryMethod
	CategoryFailure
)

var categories = map[Type]Category{
	TypeConnected: CategoryLifecycle,
	TypeFailed:    CategoryLifecycle,
	TypePing:      CategoryLifecycle,
	TypePong:      CategoryLifecycle,
	TypeReady:     CategoryLifecycle,
	TypeNosub:     CategoryLifecycle,
	TypeAdded:     CategoryData,
	TypeChanged:   CategoryData,
	TypeRemoved:   CategoryData,
	TypeResult:    CategoryMethod,
	TypeUpdated:   CategoryMethod,
	TypeError:     CategoryFailure,
}

func (c Category) String() string {
	switch c {
	case CategoryLifecycle:
		return "lifecycle"
	case CategoryData:
		return "data"
	case CategoryMethod:
		return "method"
	case CategoryFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Message is a decoded DDP message.
//
// One structure covers every message type; only the fields relevant to Msg
// are set.
type Message struct {
	Msg Type `json:"msg"`

	ID      string   `json:"id,omitempty"`
	Session string   `json:"session,omitempty"`
	Version string   `json:"version,omitempty"`
	Support []string `json:"support,omitempty"`

	Name   string `json:"name,omitempty"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`

	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Methods []string        `json:"methods,omitempty"`
	Subs    []string        `json:"subs,omitempty"`

	Collection string         `json:"collection,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Cleared    []string       `json:"cleared,omitempty"`

	// Top-level error message fields
	Reason           string          `json:"reason,omitempty"`
	Details          any             `json:"details,omitempty"`
	OffendingMessage json.RawMessage `json:"offendingMessage,omitempty"`

	decodeError bool
}

// Category returns the category of the message
func (m *Message) Category() Category {
	return categories[m.Msg]
}

// IsDecodeError returns true if the message was synthesized by Decode instead
// of being received
func (m *Message) IsDecodeError() bool {
	return m.decodeError
}

// Err returns the error carried by the message, if any.
//
// For result and nosub messages it's the error payload; for top-level error
// messages it's built from the reason and details.
func (m *Message) Err() *Error {
	if m.Msg == TypeError {
		return &Error{Reason: m.Reason, Details: m.Details, OffendingMessage: m.OffendingMessage}
	}
	if m.Error.Valid() {
		return m.Error
	}
	return nil
}
