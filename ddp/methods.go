package ddp

import (
	"context"
	"sort"
	"time"

	"github.com/ridge/ddp/wire"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
)

// MethodFn receives the outcome of a method call: the raw result, or an
// error. Server-reported errors are *wire.Error.
type MethodFn func(result json.RawMessage, err error)

type pendingCall struct {
	id      string
	name    string
	text    string
	fn      MethodFn
	created time.Time
	seq     uint64
	epoch   uint64 // connection the call was last sent on
}

// methodRegistry is owned by the method worker
type methodRegistry struct {
	pending map[string]*pendingCall
	seq     uint64
	live    bool
	epoch   uint64
}

// Call invokes a method on the server and returns the correlation id.
//
// fn, if not nil, is called exactly once with the outcome. Outcomes are
// delivered in the order their results arrive. Calls issued while the
// session is not open are sent once it opens; calls unresolved when the
// connection drops stay pending and are sent again after reconnection.
func (c *Client) Call(name string, params []any, fn MethodFn) string {
	id := NewID()
	c.methods.Push(func() { c.issue(id, name, params, fn) })
	return id
}

// CallSync is the blocking version of Call.
//
// It waits for the outcome, for ctx to close or for the request timeout to
// expire, whichever comes first. Calling it from a callback blocks the worker
// that would deliver the result, so the call always times out; a warning is
// logged when that is likely.
func (c *Client) CallSync(ctx context.Context, name string, params []any) (json.RawMessage, error) {
	if !c.running.Load() {
		return nil, ErrNotRunning
	}
	if c.methods.Busy() {
		c.log().Warn("Synchronous method call while the method worker is busy; calling from a callback deadlocks until timeout",
			zap.String("method", name))
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	type outcome struct {
		result json.RawMessage
		err    error
	}
	ch := make(chan outcome, 1)
	c.Call(name, params, func(result json.RawMessage, err error) {
		ch <- outcome{result: result, err: err}
	})

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrNotRunning
	}
}

// called on methods
func (c *Client) issue(id, name string, params []any, fn MethodFn) {
	text, err := wire.Encode(wire.Msg(wire.TypeMethod), wire.Method(name), wire.ID(id), wire.Params(params))
	if err != nil {
		c.log().Error("Failed to encode method call", zap.String("method", name), zap.Error(err))
		if fn != nil {
			fn(nil, err)
		}
		return
	}

	c.calls.seq++
	call := &pendingCall{
		id:      id,
		name:    name,
		text:    text,
		fn:      fn,
		created: time.Now(),
		seq:     c.calls.seq,
	}
	c.calls.pending[id] = call
	c.metrics.pendingMethods.Set(float64(len(c.calls.pending)))

	if c.calls.live {
		c.sendCall(call)
	}
}

// called on methods
func (c *Client) sendCall(call *pendingCall) {
	call.epoch = c.calls.epoch
	c.sendText(call.epoch, wire.TypeMethod, call.text, zap.String("method", call.name), zap.String("id", call.id))
}

// openMethods is called on methods when a session opens: it resumes the
// login, if possible, then sends every pending call not sent on this
// connection yet. settled is called once the resume attempt completes.
func (c *Client) openMethods(epoch uint64, settled func()) {
	c.calls.live = true
	c.calls.epoch = epoch

	resuming := c.resumeLogin(settled)

	for _, call := range c.pendingInOrder() {
		if call.epoch != epoch {
			c.sendCall(call)
		}
	}

	if !resuming {
		settled()
	}
}

// called on methods
func (c *Client) pendingInOrder() []*pendingCall {
	calls := maps.Values(c.calls.pending)
	sort.Slice(calls, func(i, j int) bool { return calls[i].seq < calls[j].seq })
	return calls
}

// called on methods
func (c *Client) closeMethods() {
	c.calls.live = false
}

// called on methods
func (c *Client) resolve(id string, result json.RawMessage, err error) bool {
	call := c.calls.pending[id]
	if call == nil {
		return false
	}
	delete(c.calls.pending, id)
	c.metrics.pendingMethods.Set(float64(len(c.calls.pending)))

	c.log().Debug("Method resolved", zap.String("method", call.name), zap.String("id", id),
		zap.Duration("duration", time.Since(call.created)), zap.Error(err))
	if call.fn != nil {
		call.fn(result, err)
	}
	c.config.Observer.method(call.name, result, err)
	return true
}

// called on methods
func (c *Client) onResult(id string, result json.RawMessage, e *wire.Error) {
	var err error
	if e != nil {
		err = e
		result = nil
	}
	if !c.resolve(id, result, err) {
		c.log().Debug("Dropping result of unknown method call", zap.String("id", id))
	}
}

// called on methods
func (c *Client) onErrorMessage(m *wire.Message) {
	err := m.Err()
	if m.ID != "" && c.resolve(m.ID, nil, err) {
		return
	}
	c.reportError(err)
}

// called on methods
func (c *Client) failPending(err error) {
	for _, call := range c.pendingInOrder() {
		c.resolve(call.id, nil, err)
	}
}
