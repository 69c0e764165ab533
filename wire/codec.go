package wire

import (
	"fmt"
	"strings"

	"github.com/segmentio/encoding/json"
)

// Decode parses incoming text into a Message.
//
// Decode never fails: text that is not a JSON object yields a synthetic error
// message with DecodeErrorReason, so that malformed input is reported through
// the same path as server errors.
func Decode(text string) *Message {
	if !strings.HasPrefix(strings.TrimLeft(text, " \t\r\n"), "{") {
		return decodeError(text)
	}
	var m Message
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return decodeError(text)
	}
	return &m
}

func decodeError(text string) *Message {
	return &Message{
		Msg:         TypeError,
		Reason:      DecodeErrorReason,
		Details:     fmt.Sprintf("JSON string: %s.", text),
		decodeError: true,
	}
}

// Fragment is one piece of an outgoing message. Fragments are applied in
// order to a flat JSON object; a fragment with an absent value adds nothing.
type Fragment func(obj map[string]any)

func field(key string, value any) Fragment {
	return func(obj map[string]any) {
		obj[key] = value
	}
}

// Msg sets the message type
func Msg(t Type) Fragment {
	return field("msg", t)
}

// ID sets the correlation id; an empty id is omitted
func ID(id string) Fragment {
	if id == "" {
		return func(map[string]any) {}
	}
	return field("id", id)
}

// Name sets the subscription name
func Name(name string) Fragment {
	return field("name", name)
}

// Method sets the method name
func Method(name string) Fragment {
	return field("method", name)
}

// Params sets the parameters; nil params are omitted
func Params(params []any) Fragment {
	if params == nil {
		return func(map[string]any) {}
	}
	return field("params", params)
}

// Version sets the proposed protocol version
func Version(version string) Fragment {
	return field("version", version)
}

// Support sets the list of supported protocol versions
func Support(versions []string) Fragment {
	return field("support", versions)
}

// Session sets the session to resume; an empty session is omitted
func Session(session string) Fragment {
	if session == "" {
		return func(map[string]any) {}
	}
	return field("session", session)
}

// Build assembles fragments into a flat message object
func Build(fragments ...Fragment) map[string]any {
	obj := make(map[string]any, len(fragments))
	for _, f := range fragments {
		f(obj)
	}
	return obj
}

// Encode assembles fragments and serializes the result
func Encode(fragments ...Fragment) (string, error) {
	b, err := json.Marshal(Build(fragments...))
	if err != nil {
		return "", fmt.Errorf("failed to encode DDP message: %w", err)
	}
	return string(b), nil
}

// Canonical returns a stable serialization of a value, used to compare
// parameter lists. Map keys are sorted by the encoder.
func Canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}
