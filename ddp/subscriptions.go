package ddp

import (
	"errors"
	"sort"
	"sync"

	"github.com/ridge/ddp/wire"
	"github.com/ridge/must/v2"
	"go.uber.org/zap"
)

// LoginServiceConfiguration is the publication with the configuration of
// login services
const LoginServiceConfiguration = "meteor.loginServiceConfiguration"

// ErrSubscriptionStopped is passed to OnReady when the server stops a
// subscription before it becomes ready
var ErrSubscriptionStopped = errors.New("subscription stopped before it became ready")

// SubscribeOptions are the optional parts of a subscription
type SubscribeOptions struct {
	// Collection whose document events are passed to OnData. The name of the
	// subscription if empty.
	Collection string

	// OnReady is called once, when the subscription becomes ready or fails
	OnReady func(err error)

	// OnData is called for every change of a document in Collection
	OnData func(event DocumentEvent)
}

// SubscriptionInfo describes a registered subscription
type SubscriptionInfo struct {
	ID         string
	Name       string
	Params     []any
	Collection string
	Ready      bool
	Err        error // set if the subscription failed
}

type subState int

const (
	subRequested subState = iota
	subReady
	subFailed
)

type subscription struct {
	id         string
	name       string
	key        string
	params     []any
	collection string
	text       string // cached sub message, replayed on reconnection
	seq        uint64

	state subState
	err   error

	onReady   []func(error)
	onData    func(DocumentEvent)
	removing  bool
	onRemoved []func()
}

func (s *subscription) target() string {
	if s.collection != "" {
		return s.collection
	}
	return s.name
}

// subRegistry is guarded by mu, since Subscribe returns the id of an
// identical subscription synchronously. Lifecycle events are applied by the
// document worker; user callbacks are called there without holding mu.
type subRegistry struct {
	mu    sync.Mutex
	byID  map[string]*subscription
	byKey map[string]*subscription // requested or ready, not being removed
	seq   uint64
	live  bool
	epoch uint64
}

func (r *subRegistry) init() {
	r.byID = map[string]*subscription{}
	r.byKey = map[string]*subscription{}
}

// subscriptionKey identifies identical subscriptions: same name, same
// parameters
func subscriptionKey(name string, params []any) string {
	if len(params) == 0 {
		params = []any{}
	}
	return name + "\x00" + wire.Canonical(params)
}

// Subscribe subscribes to a publication and returns the subscription id.
//
// A subscription identical to one already requested or ready (same name and
// parameters) is not sent again: its id is returned, opts.OnReady is added
// to its listeners (and called soon if it is ready already), and a non-nil
// opts.OnData replaces its data callback.
//
// Subscriptions are replayed with the same id after every reconnection until
// they are unsubscribed or fail.
func (c *Client) Subscribe(name string, params []any, opts SubscribeOptions) string {
	key := subscriptionKey(name, params)

	c.subs.mu.Lock()
	if sub := c.subs.byKey[key]; sub != nil {
		if opts.OnData != nil {
			sub.onData = opts.OnData
		}
		alreadyReady := sub.state == subReady
		if opts.OnReady != nil && !alreadyReady {
			sub.onReady = append(sub.onReady, opts.OnReady)
		}
		id := sub.id
		c.subs.mu.Unlock()

		if opts.OnReady != nil && alreadyReady {
			c.documents.Push(func() { opts.OnReady(nil) })
		}
		return id
	}

	id := NewID()
	text, err := wire.Encode(wire.Msg(wire.TypeSub), wire.Name(name), wire.ID(id), wire.Params(params))
	if err != nil {
		c.subs.mu.Unlock()
		c.log().Error("Failed to encode subscription", zap.String("name", name), zap.Error(err))
		if opts.OnReady != nil {
			c.documents.Push(func() { opts.OnReady(err) })
		}
		return ""
	}

	c.subs.seq++
	sub := &subscription{
		id:         id,
		name:       name,
		key:        key,
		params:     params,
		collection: opts.Collection,
		text:       text,
		seq:        c.subs.seq,
		onData:     opts.OnData,
	}
	if opts.OnReady != nil {
		sub.onReady = []func(error){opts.OnReady}
	}
	c.subs.byID[id] = sub
	c.subs.byKey[key] = sub
	c.metrics.subscriptions.Set(float64(len(c.subs.byID)))
	if c.subs.live {
		c.sendText(c.subs.epoch, wire.TypeSub, text, zap.String("name", name), zap.String("id", id))
	}
	c.subs.mu.Unlock()

	return id
}

// Unsubscribe stops a subscription. The unsub message is sent whether or not
// the subscription became ready.
//
// onRemoved, if not nil, is called on the document worker once the server
// confirms the removal, or right away if there is nothing to wait for.
// Document events already in flight may still arrive before that.
func (c *Client) Unsubscribe(id string, onRemoved func()) {
	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()

	live, epoch := c.subs.live, c.subs.epoch
	sub := c.subs.byID[id]
	if live {
		c.sendUnsub(epoch, id)
	}

	if sub == nil {
		if onRemoved != nil {
			c.documents.Push(onRemoved)
		}
		return
	}

	if onRemoved != nil {
		sub.onRemoved = append(sub.onRemoved, onRemoved)
	}
	if !sub.removing {
		sub.removing = true
		if c.subs.byKey[sub.key] == sub {
			delete(c.subs.byKey, sub.key)
		}
	}

	if !live || sub.state == subFailed {
		// No confirmation will come
		callbacks := c.removeLocked(sub)
		c.documents.Push(func() { c.finishRemoval(sub, callbacks, true) })
	}
}

func (c *Client) sendUnsub(epoch uint64, id string) {
	text := must.OK1(wire.Encode(wire.Msg(wire.TypeUnsub), wire.ID(id)))
	c.sendText(epoch, wire.TypeUnsub, text, zap.String("id", id))
}

// UnsubscribeByName stops every subscription with the given name and returns
// their ids. onRemoved, if not nil, is called once after all of them are
// removed.
func (c *Client) UnsubscribeByName(name string, onRemoved func()) []string {
	return c.unsubscribeMatching(func(sub *subscription) bool { return sub.name == name }, onRemoved)
}

// UnsubscribeAll stops every subscription and returns their ids
func (c *Client) UnsubscribeAll(onRemoved func()) []string {
	return c.unsubscribeMatching(func(*subscription) bool { return true }, onRemoved)
}

func (c *Client) unsubscribeMatching(match func(*subscription) bool, onRemoved func()) []string {
	c.subs.mu.Lock()
	var subs []*subscription
	for _, sub := range c.subs.byID {
		if !sub.removing && match(sub) {
			subs = append(subs, sub)
		}
	}
	c.subs.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })
	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.id)
	}

	if len(ids) == 0 {
		if onRemoved != nil {
			c.documents.Push(onRemoved)
		}
		return ids
	}

	remaining := len(ids) // touched on documents only
	for _, id := range ids {
		var fn func()
		if onRemoved != nil {
			fn = func() {
				remaining--
				if remaining == 0 {
					onRemoved()
				}
			}
		}
		c.Unsubscribe(id, fn)
	}
	return ids
}

// SubscriptionReady returns true if a subscription with the given name is
// ready
func (c *Client) SubscriptionReady(name string) bool {
	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()

	for _, sub := range c.subs.byID {
		if sub.name == name && sub.state == subReady && !sub.removing {
			return true
		}
	}
	return false
}

// Subscriptions lists registered subscriptions in the order they were made
func (c *Client) Subscriptions() []SubscriptionInfo {
	c.subs.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs.byID))
	for _, sub := range c.subs.byID {
		subs = append(subs, sub)
	}
	c.subs.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })

	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()
	res := make([]SubscriptionInfo, 0, len(subs))
	for _, sub := range subs {
		res = append(res, SubscriptionInfo{
			ID:         sub.id,
			Name:       sub.name,
			Params:     sub.params,
			Collection: sub.collection,
			Ready:      sub.state == subReady,
			Err:        sub.err,
		})
	}
	return res
}

// mu must be held; returns the callbacks to call
func (c *Client) removeLocked(sub *subscription) []func() {
	delete(c.subs.byID, sub.id)
	if c.subs.byKey[sub.key] == sub {
		delete(c.subs.byKey, sub.key)
	}
	c.metrics.subscriptions.Set(float64(len(c.subs.byID)))

	callbacks := sub.onRemoved
	sub.onRemoved = nil
	return callbacks
}

// called on documents without mu; pending ready listeners learn that the
// subscription is gone
func (c *Client) finishRemoval(sub *subscription, callbacks []func(), requested bool) {
	c.subs.mu.Lock()
	pending := sub.onReady
	sub.onReady = nil
	c.subs.mu.Unlock()

	for _, fn := range pending {
		fn(ErrSubscriptionStopped)
	}
	for _, fn := range callbacks {
		fn()
	}
	if !requested {
		c.config.Observer.subscriptionRemoved(sub.id, sub.name)
	}
}

// called on documents
func (c *Client) onReady(ids []string) {
	var fire []func(error)

	c.subs.mu.Lock()
	for _, id := range ids {
		sub := c.subs.byID[id]
		if sub == nil || sub.state != subRequested {
			continue
		}
		sub.state = subReady
		fire = append(fire, sub.onReady...)
		sub.onReady = nil
	}
	c.subs.mu.Unlock()

	for _, fn := range fire {
		fn(nil)
	}
}

// called on documents
func (c *Client) onNosub(id string, e *wire.Error) {
	var err error
	if e != nil {
		err = e
	}

	c.subs.mu.Lock()
	sub := c.subs.byID[id]
	if sub == nil {
		c.subs.mu.Unlock()
		if err != nil {
			c.reportError(err)
		}
		return
	}

	if err != nil && !sub.removing {
		sub.state = subFailed
		sub.err = err
		if c.subs.byKey[sub.key] == sub {
			delete(c.subs.byKey, sub.key)
		}
		fire := sub.onReady
		sub.onReady = nil
		c.subs.mu.Unlock()

		c.log().Warn("Subscription failed", zap.String("name", sub.name), zap.String("id", id), zap.Error(err))
		for _, fn := range fire {
			fn(err)
		}
		c.config.Observer.error(err)
		return
	}

	requested := sub.removing
	callbacks := c.removeLocked(sub)
	c.subs.mu.Unlock()

	c.log().Debug("Subscription removed", zap.String("name", sub.name), zap.String("id", id), zap.Bool("requested", requested))
	c.finishRemoval(sub, callbacks, requested)
}

// openSubscriptions is called on documents when a session opens: every
// subscription still wanted is sent again with its cached message
func (c *Client) openSubscriptions(epoch uint64) {
	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()

	c.subs.live = true
	c.subs.epoch = epoch

	subs := make([]*subscription, 0, len(c.subs.byID))
	for _, sub := range c.subs.byID {
		if sub.state != subFailed && !sub.removing {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })
	for _, sub := range subs {
		c.sendText(epoch, wire.TypeSub, sub.text, zap.String("name", sub.name), zap.String("id", sub.id))
	}
}

// closeSubscriptions is called on documents when the connection drops.
// Removals in progress complete, since the server forgot them.
func (c *Client) closeSubscriptions() {
	type removal struct {
		sub       *subscription
		callbacks []func()
	}
	var removals []removal

	c.subs.mu.Lock()
	c.subs.live = false
	for _, sub := range c.subs.byID {
		if sub.removing {
			removals = append(removals, removal{sub: sub, callbacks: c.removeLocked(sub)})
		}
	}
	c.subs.mu.Unlock()

	sort.Slice(removals, func(i, j int) bool { return removals[i].sub.seq < removals[j].sub.seq })
	for _, r := range removals {
		c.finishRemoval(r.sub, r.callbacks, true)
	}
}

// dataCallbacks returns the data callbacks of subscriptions showing the
// collection
func (c *Client) dataCallbacks(collection string) []func(DocumentEvent) {
	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()

	var subs []*subscription
	for _, sub := range c.subs.byID {
		if sub.onData != nil && !sub.removing && sub.target() == collection {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })

	res := make([]func(DocumentEvent), 0, len(subs))
	for _, sub := range subs {
		res = append(res, sub.onData)
	}
	return res
}
