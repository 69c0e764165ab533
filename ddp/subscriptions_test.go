package ddp

import (
	"errors"
	"testing"
	"time"

	"github.com/ridge/ddp/test"
	"github.com/ridge/ddp/wire"
	"github.com/ridge/tj"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReady(t *testing.T) {
	h := newHarness(t)
	h.connect("s1")

	ready := make(chan error, 10)
	onReady := func(err error) { ready <- err }

	id := h.client.Subscribe("tasks", []any{"open"}, SubscribeOptions{OnReady: onReady})
	requireJSON(t, tj.O{"msg": "sub", "id": id, "name": "tasks", "params": tj.A{"open"}}, h.sent())
	require.False(t, h.client.SubscriptionReady("tasks"))

	// Identical subscription is not sent again
	require.Equal(t, id, h.client.Subscribe("tasks", []any{"open"}, SubscribeOptions{OnReady: onReady}))
	h.noneSent()

	h.deliver(tj.O{"msg": "ready", "subs": tj.A{id}})
	test.AssertForefrontEvents(t, ready, nil, nil)
	test.AssertNoEvent(t, ready, 50*time.Millisecond)
	require.True(t, h.client.SubscriptionReady("tasks"))

	// Ready already
	require.Equal(t, id, h.client.Subscribe("tasks", []any{"open"}, SubscribeOptions{OnReady: onReady}))
	require.NoError(t, test.Receive(t, ready))
	h.noneSent()

	// Ready is reported once
	h.deliver(tj.O{"msg": "ready", "subs": tj.A{id}})
	test.AssertNoEvent(t, ready, 50*time.Millisecond)

	other := h.client.Subscribe("tasks", []any{"closed"}, SubscribeOptions{})
	require.NotEqual(t, id, other)
	require.Equal(t, other, h.sent()["id"])

	subs := h.client.Subscriptions()
	require.Len(t, subs, 2)
	require.Equal(t, SubscriptionInfo{ID: id, Name: "tasks", Params: []any{"open"}, Ready: true}, subs[0])
	require.Equal(t, other, subs[1].ID)
	require.False(t, subs[1].Ready)
}

func TestSubscriptionKey(t *testing.T) {
	require.Equal(t, subscriptionKey("a", nil), subscriptionKey("a", []any{}))
	require.Equal(t, subscriptionKey("a", []any{map[string]any{"x": 1, "y": 2}}), subscriptionKey("a", []any{map[string]any{"y": 2, "x": 1}}))
	require.NotEqual(t, subscriptionKey("a", []any{1}), subscriptionKey("a", []any{2}))
	require.NotEqual(t, subscriptionKey("a", nil), subscriptionKey("b", nil))
}

func TestSubscribeBeforeConnect(t *testing.T) {
	h := newHarness(t)

	id := h.client.Subscribe("tasks", nil, SubscribeOptions{})
	h.client.Connect(nil)
	h.handshake("s1")
	requireJSON(t, tj.O{"msg": "sub", "id": id, "name": "tasks"}, h.sent())
	h.noneSent()
}

func TestResubscribeAfterReconnect(t *testing.T) {
	h := newHarness(t)
	h.connect("s1")

	first := h.client.Subscribe("a", []any{1}, SubscribeOptions{})
	firstText := h.sentText()
	second := h.client.Subscribe("b", nil, SubscribeOptions{})
	secondText := h.sentText()
	h.deliver(tj.O{"msg": "ready", "subs": tj.A{first, second}})

	h.drop()
	h.handshake("s1")
	test.AssertForefrontEvents(t, h.tr.Sent(), firstText, secondText)
	h.noneSent()
}

func TestSubscriptionFailed(t *testing.T) {
	h := newHarness(t)
	h.connect("s1")

	ready := make(chan error, 1)
	id := h.client.Subscribe("secret", nil, SubscribeOptions{OnReady: func(err error) { ready <- err }})
	h.sent()

	h.deliver(tj.O{"msg": "nosub", "id": id, "error": tj.O{"error": 403, "reason": "Forbidden"}})
	var ddpErr *wire.Error
	require.True(t, errors.As(test.Receive(t, ready), &ddpErr))
	require.Equal(t, "Forbidden", ddpErr.Reason)
	require.True(t, errors.As(test.Receive(t, h.errors), &ddpErr))

	subs := h.client.Subscriptions()
	require.Len(t, subs, 1)
	require.Error(t, subs[0].Err)
	require.False(t, h.client.SubscriptionReady("secret"))

	// Not replayed
	h.drop()
	h.handshake("s1")
	h.noneSent()

	// A new attempt is a new subscription
	retry := h.client.Subscribe("secret", nil, SubscribeOptions{})
	require.NotEqual(t, id, retry)
	require.Equal(t, retry, h.sent()["id"])

	// Removing a failed subscription completes at once
	removed := make(chan struct{}, 1)
	h.client.Unsubscribe(id, func() { removed <- struct{}{} })
	requireJSON(t, tj.O{"msg": "unsub", "id": id}, h.sent())
	test.Receive(t, removed)
	require.Len(t, h.client.Subscriptions(), 1)
}

func TestUnsubscribe(t *testing.T) {
	removedByServer := make(chan string, 1)
	h := newHarness(t, func(config *Config) {
		config.Observer.SubscriptionRemoved = func(id, name string) { removedByServer <- id }
	})
	h.connect("s1")

	id := h.client.Subscribe("tasks", nil, SubscribeOptions{})
	h.sent()
	h.deliver(tj.O{"msg": "ready", "subs": tj.A{id}})

	removed := make(chan struct{}, 1)
	h.client.Unsubscribe(id, func() { removed <- struct{}{} })
	requireJSON(t, tj.O{"msg": "unsub", "id": id}, h.sent())
	require.False(t, h.client.SubscriptionReady("tasks"))
	test.AssertNoEvent(t, removed, 50*time.Millisecond)

	h.deliver(tj.O{"msg": "nosub", "id": id})
	test.Receive(t, removed)
	require.Empty(t, h.client.Subscriptions())
	test.AssertNoEvent(t, removedByServer, 50*time.Millisecond)

	// After removal, the same subscription is new again
	again := h.client.Subscribe("tasks", nil, SubscribeOptions{})
	require.NotEqual(t, id, again)
	require.Equal(t, again, h.sent()["id"])
}

func TestUnsubscribeBeforeReady(t *testing.T) {
	h := newHarness(t)
	h.connect("s1")

	ready := make(chan error, 1)
	id := h.client.Subscribe("tasks", nil, SubscribeOptions{OnReady: func(err error) { ready <- err }})
	h.sent()

	h.client.Unsubscribe(id, nil)
	require.Equal(t, "unsub", h.sent()["msg"])
	h.deliver(tj.O{"msg": "nosub", "id": id})
	require.ErrorIs(t, test.Receive(t, ready), ErrSubscriptionStopped)
}

func TestServerStopsSubscription(t *testing.T) {
	removedByServer := make(chan string, 1)
	h := newHarness(t, func(config *Config) {
		config.Observer.SubscriptionRemoved = func(id, name string) { removedByServer <- name }
	})
	h.connect("s1")

	id := h.client.Subscribe("tasks", nil, SubscribeOptions{})
	h.sent()
	h.deliver(tj.O{"msg": "ready", "subs": tj.A{id}})
	h.deliver(tj.O{"msg": "nosub", "id": id})
	require.Equal(t, "tasks", test.Receive(t, removedByServer))
	require.Empty(t, h.client.Subscriptions())
}

func TestUnsubscribeWhileDisconnected(t *testing.T) {
	h := newHarness(t)
	h.connect("s1")

	id := h.client.Subscribe("tasks", nil, SubscribeOptions{})
	h.sent()
	h.client.Disconnect(false)
	h.waitStatus(StatusIdle)

	removed := make(chan struct{}, 1)
	require.Eventually(t, func() bool {
		h.client.subs.mu.Lock()
		defer h.client.subs.mu.Unlock()
		return !h.client.subs.live
	}, test.EventTimeout, time.Millisecond)
	h.client.Unsubscribe(id, func() { removed <- struct{}{} })
	test.Receive(t, removed)
	require.Empty(t, h.client.Subscriptions())

	// Nothing to replay
	h.client.Reconnect()
	h.handshake("s1")
	h.noneSent()
}

func TestUnsubscribeByName(t *testing.T) {
	h := newHarness(t)
	h.connect("s1")

	a := h.client.Subscribe("tasks", []any{1}, SubscribeOptions{})
	b := h.client.Subscribe("tasks", []any{2}, SubscribeOptions{})
	c := h.client.Subscribe("users", nil, SubscribeOptions{})
	h.sent()
	h.sent()
	h.sent()

	removed := make(chan struct{}, 1)
	require.Equal(t, []string{a, b}, h.client.UnsubscribeByName("tasks", func() { removed <- struct{}{} }))
	require.Equal(t, a, h.sent()["id"])
	require.Equal(t, b, h.sent()["id"])

	h.deliver(tj.O{"msg": "nosub", "id": a})
	test.AssertNoEvent(t, removed, 50*time.Millisecond)
	h.deliver(tj.O{"msg": "nosub", "id": b})
	test.Receive(t, removed)

	require.Equal(t, []string{c}, h.client.UnsubscribeAll(nil))
	require.Equal(t, c, h.sent()["id"])

	done := make(chan struct{}, 1)
	require.Empty(t, h.client.UnsubscribeByName("nothing", func() { done <- struct{}{} }))
	test.Receive(t, done)
}

func TestPendingUnsubscribeCompletesOnDisconnect(t *testing.T) {
	h := newHarness(t)
	h.connect("s1")

	id := h.client.Subscribe("tasks", nil, SubscribeOptions{})
	h.sent()

	removed := make(chan struct{}, 1)
	h.client.Unsubscribe(id, func() { removed <- struct{}{} })
	h.sent()
	h.drop()
	test.Receive(t, removed)

	h.handshake("s1")
	h.noneSent()
}
