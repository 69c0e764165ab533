package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/ridge/ddp/test"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// echoServer serves /websocket, echoing text frames until the client sends
// "close", then closes the connection from the server side
func echoServer(t *testing.T) string {
	router := mux.NewRouter()
	router.HandleFunc("/websocket", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "close" {
				_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return WithWSScheme(server.URL) + "/websocket"
}

func nextEvent(t *testing.T, w *WebSocket) Event {
	return test.Receive(t, w.Events())
}

func TestWebSocketEcho(t *testing.T) {
	ctx := test.Context(t)
	w := NewWebSocket(DefaultConfig)

	w.Connect(ctx, echoServer(t))
	require.Equal(t, Event{Kind: Connected}, nextEvent(t, w))

	require.NoError(t, w.Send(`{"msg":"ping"}`))
	require.NoError(t, w.Send(`{"msg":"pong"}`))
	require.Equal(t, Event{Kind: Text, Text: `{"msg":"ping"}`}, nextEvent(t, w))
	require.Equal(t, Event{Kind: Text, Text: `{"msg":"pong"}`}, nextEvent(t, w))

	w.Disconnect()
	require.Equal(t, Event{Kind: Disconnected}, nextEvent(t, w))
	require.Eventually(t, func() bool { return w.Send("x") == ErrNotConnected }, time.Second, time.Millisecond)
}

func TestWebSocketServerClose(t *testing.T) {
	ctx := test.Context(t)
	w := NewWebSocket(DefaultConfig)

	w.Connect(ctx, echoServer(t))
	require.Equal(t, Event{Kind: Connected}, nextEvent(t, w))
	require.NoError(t, w.Send("close"))
	require.Equal(t, Event{Kind: Disconnected}, nextEvent(t, w))
}

func TestWebSocketDialFailure(t *testing.T) {
	ctx := test.Context(t)
	w := NewWebSocket(DefaultConfig)

	server := httptest.NewServer(http.NotFoundHandler())
	url := WithWSScheme(server.URL)
	server.Close()

	w.Connect(ctx, url)
	e := nextEvent(t, w)
	require.Equal(t, Error, e.Kind)
	require.Error(t, e.Err)
	e = nextEvent(t, w)
	require.Equal(t, Disconnected, e.Kind)
	require.Error(t, e.Err)
}

func TestWebSocketReplace(t *testing.T) {
	ctx := test.Context(t)
	w := NewWebSocket(DefaultConfig)
	url := echoServer(t)

	w.Connect(ctx, url)
	require.Equal(t, Event{Kind: Connected}, nextEvent(t, w))

	w.Connect(ctx, url)
	require.Equal(t, Event{Kind: Disconnected}, nextEvent(t, w))
	require.Equal(t, Event{Kind: Connected}, nextEvent(t, w))

	require.NoError(t, w.Send("again"))
	require.Equal(t, Event{Kind: Text, Text: "again"}, nextEvent(t, w))
}

func TestWebSocketContextClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(test.Context(t))
	w := NewWebSocket(DefaultConfig)

	w.Connect(ctx, echoServer(t))
	require.Equal(t, Event{Kind: Connected}, nextEvent(t, w))
	cancel()
	require.Eventually(t, func() bool { return w.Send("x") == ErrNotConnected }, 3*time.Second, time.Millisecond)
}

func TestSendWithoutConnection(t *testing.T) {
	w := NewWebSocket(DefaultConfig)
	require.ErrorIs(t, w.Send("x"), ErrNotConnected)
	w.Disconnect()
}

func TestWithWSScheme(t *testing.T) {
	require.Equal(t, "ws://localhost:3000", WithWSScheme("http://localhost:3000"))
	require.Equal(t, "wss://example.com/websocket", WithWSScheme("https://example.com/websocket"))
	require.Panics(t, func() { WithWSScheme("localhost") })
}
