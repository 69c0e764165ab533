package ddp

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ridge/ddp/backoff"
	"github.com/ridge/ddp/storage"
	"github.com/ridge/ddp/test"
	"github.com/ridge/ddp/transport/mock"
	"github.com/ridge/parallel"
	"github.com/ridge/tj"
	"github.com/stretchr/testify/require"
)

const testURL = "ws://meteor.test/websocket"

var errNetwork = errors.New("network is down")

type harness struct {
	t        *testing.T
	tr       *mock.Transport
	storage  *storage.Memory
	client   *Client
	errors   chan error
	statuses chan Status
}

func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func newHarness(t *testing.T, configure ...func(config *Config)) *harness {
	h := &harness{
		t:        t,
		tr:       mock.New(),
		storage:  storage.NewMemory(),
		errors:   make(chan error, 100),
		statuses: make(chan Status, 100),
	}
	config := Config{
		URL:         testURL,
		Transport:   h.tr,
		Storage:     h.storage,
		Backoff:     backoff.Config{Min: time.Millisecond, Max: 10 * time.Millisecond, Scale: 2},
		UpdateDelay: 50 * time.Millisecond,
		Registerer:  prometheus.NewRegistry(),
		Observer: Observer{
			Status: func(status Status) { offer(h.statuses, status) },
			Error:  func(err error) { offer(h.errors, err) },
		},
	}
	for _, fn := range configure {
		fn(&config)
	}
	h.client = New(config)
	test.Group(t).Spawn("client", parallel.Fail, h.client.Run)
	return h
}

// connect opens a session and waits until it is usable
func (h *harness) connect(session string) {
	connected := make(chan string, 1)
	h.client.Connect(func(s string) { connected <- s })
	h.handshake(session)
	require.Equal(h.t, session, test.Receive(h.t, connected))
}

// handshake completes a connection attempt and returns the connect message
func (h *harness) handshake(session string) tj.O {
	require.Equal(h.t, testURL, test.Receive(h.t, h.tr.Connects()))
	require.True(h.t, h.tr.Open())
	connect := h.sent()
	require.Equal(h.t, "connect", connect["msg"])
	h.deliver(tj.O{"msg": "connected", "session": session})
	return connect
}

func (h *harness) sent() tj.O {
	return test.Object(h.t, h.sentText())
}

func (h *harness) sentText() string {
	return test.Receive(h.t, h.tr.Sent())
}

func (h *harness) noneSent() {
	test.AssertNoEvent(h.t, h.tr.Sent(), 50*time.Millisecond)
}

func (h *harness) deliver(obj tj.O) {
	h.tr.Deliver(test.JSON(h.t, obj))
}

func (h *harness) drop() {
	h.tr.Fail(errNetwork)
}

func (h *harness) waitStatus(status Status) {
	require.Eventually(h.t, func() bool { return h.client.Status() == status }, test.EventTimeout, time.Millisecond)
}

func requireJSON(t *testing.T, expected, actual tj.O) {
	require.JSONEq(t, test.JSON(t, expected), test.JSON(t, actual))
}
