package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/ridge/ddp/test"
	"github.com/ridge/ddp/transport"
	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	m := New()
	require.ErrorIs(t, m.Send("x"), transport.ErrNotConnected)
	require.False(t, m.Open())

	m.Connect(context.Background(), "ws://a")
	require.Equal(t, "ws://a", test.Receive(t, m.Connects()))
	require.True(t, m.Open())
	require.True(t, m.IsOpen())
	require.NoError(t, m.Send("x"))
	require.Equal(t, "x", test.Receive(t, m.Sent()))

	m.Deliver("y")
	m.Disconnect()
	m.Disconnect()
	test.AssertEvents(t, m.Events(),
		transport.Event{Kind: transport.Connected},
		transport.Event{Kind: transport.Text, Text: "y"},
		transport.Event{Kind: transport.Disconnected},
	)
}

func TestReplaceAndFail(t *testing.T) {
	m := New()
	err := errors.New("boom")

	m.Connect(context.Background(), "ws://a")
	m.Connect(context.Background(), "ws://a")
	m.Fail(err)
	m.Fail(err)
	test.AssertEvents(t, m.Events(),
		transport.Event{Kind: transport.Disconnected},
		transport.Event{Kind: transport.Error, Err: err},
		transport.Event{Kind: transport.Disconnected, Err: err},
	)
}
