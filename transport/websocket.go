package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ridge/ddp/tlog"
	"github.com/ridge/parallel"
	"go.uber.org/zap"
)

// Config is the WebSocket configuration
type Config struct {
	// Timeout for the WebSocket protocol upgrade
	HandshakeTimeout time.Duration

	// Disconnect when an outgoing packet is not acknowledged for this long.
	// 0 for kernel default.
	TCPTimeout time.Duration

	// Send WebSocket control pings this often. 0 to disable.
	PingInterval time.Duration

	// Disconnect if a control pong doesn't arrive during PingInterval
	RequirePong bool

	// Request specific Websocket subprotocols
	Subprotocols []string

	// Pass specific TLS configuration to the connection
	TLSClientConfig *tls.Config

	// Extra headers sent with the upgrade request
	Header http.Header
}

// DefaultConfig is the default Config value
var DefaultConfig = Config{
	HandshakeTimeout: 5 * time.Second,

	TCPTimeout: 30 * time.Second,

	PingInterval: 30 * time.Second,
}

const (
	eventBuffer    = 64
	outgoingBuffer = 64
)

type session struct {
	cancel   context.CancelFunc
	outgoing chan string
	done     chan struct{}
}

// WebSocket is a Transport over gorilla/websocket
type WebSocket struct {
	config Config
	events chan Event

	mu      sync.Mutex
	current *session
}

// NewWebSocket creates a WebSocket transport
func NewWebSocket(config Config) *WebSocket {
	return &WebSocket{
		config: config,
		events: make(chan Event, eventBuffer),
	}
}

// Events implements Transport
func (w *WebSocket) Events() <-chan Event {
	return w.events
}

// Connect implements Transport.
//
// A replaced connection reports Disconnected before the new attempt starts.
func (w *WebSocket) Connect(ctx context.Context, url string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev := w.current
	if prev != nil {
		prev.cancel()
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &session{
		cancel:   cancel,
		outgoing: make(chan string, outgoingBuffer),
		done:     make(chan struct{}),
	}
	w.current = s

	go func() {
		defer close(s.done)
		defer cancel()

		if prev != nil {
			<-prev.done
		}

		err := w.run(sessionCtx, url, s)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if err != nil {
			w.emit(ctx, Event{Kind: Error, Err: err})
		}
		w.emit(ctx, Event{Kind: Disconnected, Err: err})
	}()
}

// Send implements Transport
func (w *WebSocket) Send(text string) error {
	w.mu.Lock()
	s := w.current
	w.mu.Unlock()

	if s == nil {
		return ErrNotConnected
	}
	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}
	select {
	case s.outgoing <- text:
		return nil
	case <-s.done:
		return ErrNotConnected
	}
}

// Disconnect implements Transport
func (w *WebSocket) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current != nil {
		w.current.cancel()
	}
}

func (w *WebSocket) emit(ctx context.Context, e Event) {
	select {
	case w.events <- e:
	case <-ctx.Done():
	}
}

func (w *WebSocket) run(ctx context.Context, url string, s *session) error {
	ws, err := dial(ctx, url, w.config)
	if err != nil {
		return err
	}

	ctx = tlog.With(ctx, zap.String("url", url))
	tlog.Get(ctx).Debug("WebSocket established")
	w.emit(ctx, Event{Kind: Connected})

	return w.handleSession(ctx, ws, s)
}

func dial(ctx context.Context, url string, config Config) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var netDialer net.Dialer
			conn, err := netDialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			err = tuneTCP(conn, config)
			if err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		},
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: config.HandshakeTimeout,
		Subprotocols:     config.Subprotocols,
		TLSClientConfig:  config.TLSClientConfig,
	}

	ws, resp, err := dialer.DialContext(ctx, url, config.Header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("failed to establish WebSocket connection to %s (%s): %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("failed to establish WebSocket connection to %s: %w", url, err)
	}
	return ws, nil
}

func (w *WebSocket) handleSession(ctx context.Context, ws *websocket.Conn, s *session) error {
	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		var pings int64 // difference between pings sent and pongs received

		if w.config.RequirePong {
			ws.SetPongHandler(func(data string) error {
				atomic.AddInt64(&pings, -1)
				return nil
			})
		}

		spawn("receiver", parallel.Exit, func(ctx context.Context) error {
			for {
				mt, buff, err := ws.ReadMessage()
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					var e *websocket.CloseError
					if errors.As(err, &e) {
						return nil
					}
					return err
				}
				switch mt {
				case websocket.TextMessage, websocket.BinaryMessage:
					// DDP is a text protocol; binary frames carry the same JSON
					select {
					case w.events <- Event{Kind: Text, Text: string(buff)}:
					case <-ctx.Done():
						return ctx.Err()
					}
				default:
					return fmt.Errorf("unexpected WebSocket message type %d", mt)
				}
			}
		})

		spawn("sender", parallel.Exit, func(ctx context.Context) error {
			var ticks <-chan time.Time
			if w.config.PingInterval != 0 {
				ticker := time.NewTicker(w.config.PingInterval)
				defer ticker.Stop()
				ticks = ticker.C
			}
			for {
				// gorilla/websocket does not support concurrent writes, so
				// messages and pings are written from this goroutine only
				select {
				case <-ctx.Done():
					return ctx.Err()
				case text := <-s.outgoing:
					if err := ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
						return err
					}
				case <-ticks:
					if w.config.RequirePong && atomic.AddInt64(&pings, 1) > 1 { // we still haven't received the previous pong
						return errors.New("WebSocket ping timeout")
					}
					if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
						return err
					}
				}
			}
		})

		spawn("closer", parallel.Exit, func(ctx context.Context) error {
			<-ctx.Done()
			if err := ws.Close(); err != nil {
				// TLS sometimes reports this when the other side has already
				// closed the connection; the error carries no type to match.
				if !strings.Contains(err.Error(), "failed to send closeNotify alert (but connection was closed anyway)") {
					return err
				}
			}

			return ctx.Err()
		})

		return nil
	})
}

// WithWSScheme changes http to ws and https to wss
func WithWSScheme(addr string) string {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		panic("no scheme in address")
	}
	return strings.Replace(addr, "http", "ws", 1)
}
