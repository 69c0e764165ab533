package ddp

import (
	"github.com/ridge/ddp/transport"
	"github.com/ridge/ddp/wire"
	"github.com/ridge/must/v2"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// sessionState is owned by the receive worker
type sessionState struct {
	version       string // proposed in the next handshake
	autoReconnect bool
	closing       bool // caller asked to disconnect
	active        bool // transport.Connect called, Disconnected not yet seen
	stale         int  // Disconnected events of replaced connections still due
	onConnected   []func(session string)
}

// Connect opens the session. onConnected, if not nil, is called with the
// session id once the session is open and login resumption has settled.
//
// Only one connection attempt is in flight at a time: calling Connect while
// connecting just adds the callback; calling it while open calls it soon.
func (c *Client) Connect(onConnected func(session string)) {
	c.receive.Push(func() { c.connect(onConnected) })
}

// Reconnect re-enables a session stopped by Disconnect or by a version
// mismatch, proposing the configured protocol version again
func (c *Client) Reconnect() {
	c.receive.Push(func() {
		c.sess.version = c.config.Version
		c.connect(nil)
	})
}

// Disconnect closes the session and stops automatic reconnection.
//
// If forced, the session id is discarded so that the next Connect starts a
// fresh session, and pending method calls fail with ErrDisconnected.
func (c *Client) Disconnect(forced bool) {
	c.receive.Push(func() { c.disconnect(forced) })
}

func (c *Client) connect(onConnected func(string)) {
	if onConnected != nil {
		c.sess.onConnected = append(c.sess.onConnected, onConnected)
	}

	switch c.Status() {
	case StatusOpen:
		c.notifyConnected(c.Session())
		return
	case StatusConnecting, StatusHandshaking:
		return
	case StatusReconnecting:
		c.backoff.Stop()
	}

	c.sess.autoReconnect = true
	c.sess.closing = false
	c.backoff.Reset()
	c.dial()
}

func (c *Client) dial() {
	if c.sess.active {
		c.sess.stale++
	}
	c.sess.active = true
	c.setStatus(StatusConnecting)
	c.log().Debug("Connecting", zap.String("url", c.config.URL))
	c.transport.Connect(c.ctx, c.config.URL)
}

// notifyConnected calls pending connect callbacks on the method worker, so
// that they are ordered after the results of calls issued earlier
func (c *Client) notifyConnected(session string) {
	callbacks := c.sess.onConnected
	c.sess.onConnected = nil
	if len(callbacks) == 0 {
		return
	}
	c.methods.Push(func() {
		for _, fn := range callbacks {
			fn(session)
		}
	})
}

func (c *Client) disconnect(forced bool) {
	c.sess.autoReconnect = false
	c.backoff.Stop()

	if forced {
		c.setSession("")
		c.methods.Push(func() { c.failPending(ErrDisconnected) })
	}

	if !c.sess.active {
		if c.Status() != StatusFailed {
			c.setStatus(StatusIdle)
		}
		return
	}
	c.sess.closing = true
	c.setStatus(StatusClosing)
	c.transport.Disconnect()
}

// called on receive
func (c *Client) handleEvent(e transport.Event) {
	if c.sess.stale > 0 {
		// Events of a replaced connection
		if e.Kind == transport.Disconnected {
			c.sess.stale--
		}
		return
	}

	switch e.Kind {
	case transport.Connected:
		c.onTransportConnected()
	case transport.Disconnected:
		c.onTransportDisconnected(e.Err)
	case transport.Text:
		c.handleText(e.Text)
	case transport.Error:
		c.log().Warn("Transport error", zap.Error(e.Err))
	}
}

func (c *Client) onTransportConnected() {
	epoch := c.epoch.Add(1)
	c.setStatus(StatusHandshaking)

	text := must.OK1(wire.Encode(
		wire.Msg(wire.TypeConnect),
		wire.Version(c.sess.version),
		wire.Support(c.config.Support),
		wire.Session(c.Session()),
	))
	c.sendText(epoch, wire.TypeConnect, text, zap.String("version", c.sess.version))
}

func (c *Client) onTransportDisconnected(err error) {
	c.epoch.Add(1)
	c.sess.active = false
	c.documents.Push(c.closeSubscriptions)
	c.methods.Push(c.closeMethods)
	c.heartbeat.Push(c.resetHeartbeat)

	if c.sess.closing || !c.sess.autoReconnect {
		c.sess.closing = false
		if c.Status() != StatusFailed {
			c.setStatus(StatusIdle)
		}
		c.log().Info("Disconnected")
		return
	}

	c.setStatus(StatusReconnecting)
	delay, ok := c.backoff.ScheduleRetryDelay(func() {
		c.receive.Push(c.retry)
	})
	if ok {
		c.metrics.reconnects.Inc()
		c.log().Info("Connection lost, reconnecting", zap.Duration("delay", delay), zap.Error(err))
	}
}

// retry is the scheduled reconnection attempt
func (c *Client) retry() {
	if c.Status() != StatusReconnecting || !c.sess.autoReconnect {
		return
	}
	c.dial()
}

func (c *Client) onConnectedMessage(m *wire.Message) {
	if c.Status() != StatusHandshaking {
		c.log().Warn("Unexpected connected message", zap.Stringer("status", c.Status()))
		return
	}

	epoch := c.epoch.Load()
	session := m.Session
	c.setSession(session)
	c.backoff.Reset()
	c.setStatus(StatusOpen)
	c.log().Info("Connected", zap.String("session", session), zap.String("version", c.sess.version))

	callbacks := c.sess.onConnected
	c.sess.onConnected = nil

	c.heartbeat.Push(c.resetHeartbeat)
	c.documents.Push(func() { c.openSubscriptions(epoch) })
	if c.config.LoginServiceConfiguration {
		c.Subscribe(LoginServiceConfiguration, nil, SubscribeOptions{})
	}
	c.methods.Push(func() {
		c.openMethods(epoch, func() {
			for _, fn := range callbacks {
				fn(session)
			}
		})
	})
}

func (c *Client) onFailedMessage(m *wire.Message) {
	suggested := m.Version
	if suggested != "" && suggested != c.sess.version && slices.Contains(c.config.Support, suggested) {
		c.log().Info("Server suggests another protocol version", zap.String("proposed", c.sess.version), zap.String("suggested", suggested))
		c.sess.version = suggested
		// The reconnection path retries with the suggested version
		c.transport.Disconnect()
		return
	}

	err := &VersionMismatchError{Proposed: c.sess.version, Suggested: suggested, Support: c.config.Support}
	c.sess.autoReconnect = false
	c.backoff.Stop()
	c.setStatus(StatusFailed)
	c.reportError(err)
	c.sess.closing = true
	c.transport.Disconnect()
}
