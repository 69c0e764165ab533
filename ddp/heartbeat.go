package ddp

import (
	"context"
	"time"

	"github.com/ridge/ddp/wire"
	"github.com/ridge/must/v2"
	"go.uber.org/zap"
)

// heartbeatState is owned by the heartbeat worker
type heartbeatState struct {
	awaitingPong bool
}

// Ping sends a ping to the server. The reply is reflected by LastPong.
func (c *Client) Ping() {
	c.heartbeat.Push(c.ping)
}

// called on heartbeat
func (c *Client) ping() {
	if c.Status() != StatusOpen {
		return
	}

	id := NewID()
	text := must.OK1(wire.Encode(wire.Msg(wire.TypePing), wire.ID(id)))

	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()

	c.beat.awaitingPong = true
	c.write(c.epoch.Load(), wire.TypePing, text, zap.String("id", id))
}

// called on heartbeat
func (c *Client) pong(id string) {
	text := must.OK1(wire.Encode(wire.Msg(wire.TypePong), wire.ID(id)))
	c.write(c.epoch.Load(), wire.TypePong, text, zap.String("id", id))
}

// called on heartbeat
func (c *Client) onPong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()

	c.beat.awaitingPong = false
}

// called on heartbeat
func (c *Client) resetHeartbeat() {
	c.beat.awaitingPong = false
}

// called on heartbeat
func (c *Client) heartbeatTick() {
	if c.Status() != StatusOpen {
		return
	}
	if c.config.Heartbeat.RequirePong && c.beat.awaitingPong {
		c.log().Warn("Server did not answer ping, dropping connection", zap.Time("lastPing", c.LastPing()))
		c.beat.awaitingPong = false
		c.transport.Disconnect()
		return
	}
	c.ping()
}

func (c *Client) heartbeatTimer(ctx context.Context) error {
	ticker := time.NewTicker(c.config.Heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.heartbeat.Push(c.heartbeatTick)
		}
	}
}
