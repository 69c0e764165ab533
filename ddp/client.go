// Package ddp is a client of the Meteor Distributed Data Protocol.
//
// A Client keeps one session with a DDP server: it connects and reconnects,
// invokes methods, manages subscriptions and mirrors the published documents
// into a local store.
//
// The work of a client is split between five ordered queues, each drained by
// a single worker started by Run:
//
//	receive    decodes incoming messages and drives the session state machine
//	documents  applies document mutations and subscription lifecycle events
//	methods    tracks method calls and delivers their results
//	heartbeat  answers pings and checks liveness
//	send       writes outgoing messages in order
//
// State owned by a queue is only touched by its worker. Callbacks passed to
// the client run on the worker of the component that invokes them and must
// not block for long.
package ddp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ridge/ddp/backoff"
	"github.com/ridge/ddp/queue"
	"github.com/ridge/ddp/storage"
	"github.com/ridge/ddp/store"
	"github.com/ridge/ddp/tlog"
	"github.com/ridge/ddp/transport"
	"github.com/ridge/ddp/wire"
	"github.com/ridge/parallel"
	"go.uber.org/zap"
)

// Client is a DDP client
type Client struct {
	config    Config
	transport transport.Transport
	storage   storage.Storage
	store     *store.Store
	backoff   *backoff.Controller
	metrics   *metrics
	logger    atomic.Pointer[zap.Logger]

	receive   *queue.Queue
	documents *queue.Queue
	methods   *queue.Queue
	heartbeat *queue.Queue
	send      *queue.Queue

	running atomic.Bool
	ctx     context.Context // set by Run before the workers start
	done    chan struct{}

	status atomic.Int32

	// epoch changes on every transport connect and disconnect; outgoing
	// messages stamped with a past epoch are dropped
	epoch atomic.Uint64

	mu       sync.Mutex
	session  string
	lastPing time.Time
	lastPong time.Time
	userID   string

	sess    sessionState     // owned by receive
	calls   methodRegistry   // owned by methods
	beat    heartbeatState   // owned by heartbeat
	subs    subRegistry      // guarded by its own mutex
	observe observerRegistry // owned by documents

	collectionsMu sync.Mutex
	collections   map[string]*Collection
}

// New creates a client. Nothing happens until Run is called.
func New(config Config) *Client {
	config = config.withDefaults()
	c := &Client{
		config:    config,
		transport: config.Transport,
		storage:   config.Storage,
		store:     store.New(),
		backoff:   backoff.NewController(config.Backoff),
		metrics:   newMetrics(config.Registerer),

		receive:   queue.New("receive"),
		documents: queue.New("documents"),
		methods:   queue.New("methods"),
		heartbeat: queue.New("heartbeat"),
		send:      queue.New("send"),

		done: make(chan struct{}),

		collections: map[string]*Collection{},
	}
	c.logger.Store(zap.NewNop())
	c.sess.version = config.Version
	c.calls.pending = map[string]*pendingCall{}
	c.subs.init()
	c.observe.byCollection = map[string]map[int]func(DocumentEvent){}
	return c
}

// Run runs the client until ctx is closed.
//
// Calls made before Run are queued and processed once it starts. A client
// runs at most once.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("DDP client is already running")
	}
	defer close(c.done)

	ctx = tlog.Component(ctx, "ddp")
	c.logger.Store(tlog.Get(ctx))

	err := parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		c.ctx = ctx
		for _, q := range []*queue.Queue{c.receive, c.documents, c.methods, c.heartbeat, c.send} {
			spawn(q.Name(), parallel.Fail, q.Run)
		}
		spawn("events", parallel.Fail, c.pump)
		if c.config.Heartbeat.Interval > 0 {
			spawn("heartbeat-timer", parallel.Fail, c.heartbeatTimer)
		}
		return nil
	})

	c.backoff.Stop()
	c.transport.Disconnect()
	return err
}

// pump moves transport events onto the receive queue
func (c *Client) pump(ctx context.Context) error {
	events := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-events:
			c.receive.Push(func() { c.handleEvent(e) })
		}
	}
}

func (c *Client) log() *zap.Logger {
	return c.logger.Load()
}

// Status returns the state of the session
func (c *Client) Status() Status {
	return Status(c.status.Load())
}

// IsConnected returns true if the session is open
func (c *Client) IsConnected() bool {
	return c.Status() == StatusOpen
}

// Session returns the session id assigned by the server, empty before the
// first connect and after a forced disconnect
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// LastPing returns the time the last ping was sent by the client
func (c *Client) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// LastPong returns the time the last pong was received
func (c *Client) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// Store returns the local document store
func (c *Client) Store() *store.Store {
	return c.store
}

// called on receive
func (c *Client) setStatus(status Status) {
	if Status(c.status.Swap(int32(status))) == status {
		return
	}
	c.log().Debug("Status changed", zap.Stringer("status", status))
	c.config.Observer.status(status)
}

func (c *Client) setSession(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = session
}

// called on receive
func (c *Client) handleText(text string) {
	m := wire.Decode(text)
	c.metrics.received(m)

	if m.IsDecodeError() {
		c.metrics.decodeErrors.Inc()
		c.log().Warn("Failed to decode message", zap.String("text", text))
		c.reportError(m.Err())
		return
	}
	c.log().Debug("Received", zap.String("msg", string(m.Msg)), zap.String("id", m.ID))

	switch m.Msg {
	case wire.TypeConnected:
		c.onConnectedMessage(m)
	case wire.TypeFailed:
		c.onFailedMessage(m)
	case wire.TypePing:
		c.heartbeat.Push(func() { c.pong(m.ID) })
	case wire.TypePong:
		c.heartbeat.Push(c.onPong)
	case wire.TypeReady:
		c.documents.Push(func() { c.onReady(m.Subs) })
	case wire.TypeNosub:
		c.documents.Push(func() { c.onNosub(m.ID, m.Err()) })
	case wire.TypeAdded, wire.TypeChanged, wire.TypeRemoved:
		c.documents.Push(func() { c.applyMessage(m) })
	case wire.TypeResult:
		c.methods.Push(func() { c.onResult(m.ID, m.Result, m.Err()) })
	case wire.TypeUpdated:
		c.methods.Push(func() { c.config.Observer.updated(m.Methods) })
	case wire.TypeError:
		c.methods.Push(func() { c.onErrorMessage(m) })
	default:
		c.log().Debug("Ignoring message of unknown type", zap.String("msg", string(m.Msg)))
	}
}

// reportError logs a protocol-level error and passes it to the observer
func (c *Client) reportError(err error) {
	c.log().Warn("DDP error", zap.Error(err))
	c.config.Observer.error(err)
}

// sendText queues an outgoing message for the connection of the given epoch
func (c *Client) sendText(epoch uint64, t wire.Type, text string, fields ...zap.Field) {
	c.send.Push(func() {
		c.write(epoch, t, text, fields...)
	})
}

// write sends a message right away on the calling worker
func (c *Client) write(epoch uint64, t wire.Type, text string, fields ...zap.Field) {
	if epoch != c.epoch.Load() {
		c.log().Debug("Dropping message for a closed connection", append(fields, zap.String("msg", string(t)))...)
		return
	}
	if err := c.transport.Send(text); err != nil {
		c.log().Debug("Failed to send", append(fields, zap.String("msg", string(t)), zap.Error(err))...)
		return
	}
	c.metrics.sent(t)
	c.log().Debug("Sent", append(fields, zap.String("msg", string(t)))...)
}
