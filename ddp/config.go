package ddp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ridge/ddp/backoff"
	"github.com/ridge/ddp/storage"
	"github.com/ridge/ddp/transport"
)

// Protocol defaults
const (
	DefaultVersion        = "1"
	DefaultStorageKey     = "MeteorDDP"
	DefaultRequestTimeout = 15 * time.Second
	DefaultUpdateDelay    = 330 * time.Millisecond
)

// HeartbeatConfig configures client-initiated pings
type HeartbeatConfig struct {
	// Send a ping this often while the session is open. 0 to disable.
	Interval time.Duration

	// Drop the connection if the previous ping was not answered by the time
	// the next one is due. The drop is handled as any other lost connection.
	RequirePong bool
}

// Config is the configuration of a Client.
//
// Every field has a usable zero value except URL.
type Config struct {
	// Server endpoint, e.g. wss://example.com/websocket
	URL string

	// Transport to use. Gorilla WebSocket with transport.DefaultConfig if nil.
	Transport transport.Transport

	// Storage for the login record. In-memory if nil.
	Storage storage.Storage

	// Key of the login record in Storage. DefaultStorageKey if empty.
	StorageKey string

	// Protocol version proposed in the handshake. DefaultVersion if empty.
	Version string

	// Protocol versions supported. [Version] if empty.
	Support []string

	// Reconnection delays. backoff.Default for zero fields.
	Backoff backoff.Config

	Heartbeat HeartbeatConfig

	// Timeout of the synchronous helpers. DefaultRequestTimeout if 0.
	RequestTimeout time.Duration

	// Debounce window of Collection change notifications.
	// DefaultUpdateDelay if 0.
	UpdateDelay time.Duration

	// Subscribe to meteor.loginServiceConfiguration after every connect
	LoginServiceConfiguration bool

	// Register client metrics here if not nil
	Registerer prometheus.Registerer

	Observer Observer
}

func (c Config) withDefaults() Config {
	if c.Transport == nil {
		c.Transport = transport.NewWebSocket(transport.DefaultConfig)
	}
	if c.Storage == nil {
		c.Storage = storage.NewMemory()
	}
	if c.StorageKey == "" {
		c.StorageKey = DefaultStorageKey
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if len(c.Support) == 0 {
		c.Support = []string{c.Version}
	}
	c.Backoff = c.Backoff.OrDefault()
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.UpdateDelay == 0 {
		c.UpdateDelay = DefaultUpdateDelay
	}
	return c
}
