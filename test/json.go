package test

import (
	"testing"

	"github.com/ridge/tj"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

// JSON serializes a fixture object into message text
func JSON(t *testing.T, obj tj.O) string {
	b, err := json.Marshal(obj)
	require.NoError(t, err)
	return string(b)
}

// Object parses message text into a fixture object for comparisons
func Object(t *testing.T, text string) tj.O {
	var obj tj.O
	require.NoError(t, json.Unmarshal([]byte(text), &obj))
	return obj
}
