package wire

import (
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
)

// DecodeErrorReason is the reason reported for incoming text that is not
// a valid DDP message
const DecodeErrorReason = "MeteorDDP JSON serialization error."

// ErrorCode is the error field of a DDP error. Servers send it either as
// a string ("not-found") or a number (403); both decode into a string. Any
// other JSON value is kept as its raw text.
type ErrorCode string

// UnmarshalJSON implements json.Unmarshaler
func (c *ErrorCode) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ErrorCode(s)
		return nil
	}
	if string(data) == "null" {
		*c = ""
		return nil
	}
	*c = ErrorCode(strings.TrimSpace(string(data)))
	return nil
}

// Int returns the numeric value of the code, if it is numeric
func (c ErrorCode) Int() (int, bool) {
	n, err := strconv.Atoi(string(c))
	return n, err == nil
}

// Error is an error reported by a DDP server, either in a result or nosub
// message or as a top-level error message
type Error struct {
	Code             ErrorCode       `json:"error,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	Message          string          `json:"message,omitempty"`
	ErrorType        string          `json:"errorType,omitempty"`
	IsClientSafe     bool            `json:"isClientSafe,omitempty"`
	Details          any             `json:"details,omitempty"`
	OffendingMessage json.RawMessage `json:"offendingMessage,omitempty"`
}

// Valid returns true if the error carries a code or a reason. Servers
// sometimes send an empty error object, which does not denote a failure.
func (e *Error) Valid() bool {
	return e != nil && (e.Code != "" || e.Reason != "")
}

func (e *Error) Error() string {
	var parts []string
	if e.Code != "" {
		parts = append(parts, string(e.Code))
	}
	switch {
	case e.Message != "":
		parts = append(parts, e.Message)
	case e.Reason != "":
		parts = append(parts, e.Reason)
	}
	if len(parts) == 0 {
		return "DDP error"
	}
	return "DDP error: " + strings.Join(parts, ": ")
}

// IsDecodeError returns true for errors synthesized from malformed input
func (e *Error) IsDecodeError() bool {
	return e.Reason == DecodeErrorReason
}
