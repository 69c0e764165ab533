package ddp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ridge/ddp/test"
	"github.com/ridge/ddp/wire"
	"github.com/ridge/parallel"
	"github.com/ridge/tj"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome struct {
	result string
	err    error
}

func collect(ch chan outcome) MethodFn {
	return func(result json.RawMessage, err error) {
		ch <- outcome{result: string(result), err: err}
	}
}

func TestCallResult(t *testing.T) {
	h := newHarness(t)
	h.connect("s1")

	outcomes := make(chan outcome, 10)
	id := h.client.Call("echo", []any{1, 2}, collect(outcomes))
	requireJSON(t, tj.O{"msg": "method", "method": "echo", "params": tj.A{1, 2}, "id": id}, h.sent())

	h.deliver(tj.O{"msg": "result", "id": id, "result": "ok"})
	h.deliver(tj.O{"msg": "result", "id": id, "result": "again"})
	h.deliver(tj.O{"msg": "result", "id": "unknown", "result": "lost"})
	test.AssertForefrontEvents(t, outcomes, outcome{result: `"ok"`})
	test.AssertNoEvent(t, outcomes, 50*time.Millisecond)
}

func TestCallError(t *testing.T) {
	h := newHarness(t)
	h.connect("s1")

	outcomes := make(chan outcome, 1)
	id := h.client.Call("secret", nil, collect(outcomes))
	requireJSON(t, tj.O{"msg": "method", "method": "secret", "id": id}, h.sent())

	h.deliver(tj.O{"msg": "result", "id": id, "error": tj.O{"error": 403, "reason": "Access denied"}})
	o := test.Receive(t, outcomes)
	require.Empty(t, o.result)
	var ddpErr *wire.Error
	require.True(t, errors.As(o.err, &ddpErr))
	require.Equal(t, wire.ErrorCode("403"), ddpErr.Code)
	require.Equal(t, "Access denied", ddpErr.Reason)
}

func TestCallErrorWithOddCode(t *testing.T) {
	h := newHarness(t)
	h.connect("s1")

	outcomes := make(chan outcome, 1)
	id := h.client.Call("m", nil, collect(outcomes))
	h.sent()
	h.deliver(tj.O{"msg": "result", "id": id, "error": tj.O{"error": true, "reason": "Odd server"}})
	o := test.Receive(t, outcomes)
	var ddpErr *wire.Error
	require.True(t, errors.As(o.err, &ddpErr))
	require.Equal(t, wire.ErrorCode("true"), ddpErr.Code)
}

func TestCallEmptyErrorIsSuccess(t *testing.T) {
	h := newHarness(t)
	h.connect("s1")

	outcomes := make(chan outcome, 1)
	id := h.client.Call("m", nil, collect(outcomes))
	h.sent()
	h.deliver(tj.O{"msg": "result", "id": id, "error": tj.O{}, "result": 5})
	require.Equal(t, outcome{result: "5"}, test.Receive(t, outcomes))
}

func TestErrorMessageWithID(t *testing.T) {
	h := newHarness(t)
	h.connect("s1")

	outcomes := make(chan outcome, 1)
	id := h.client.Call("m", nil, collect(outcomes))
	h.sent()
	h.deliver(tj.O{"msg": "error", "id": id, "reason": "Malformed method invocation"})
	require.Error(t, test.Receive(t, outcomes).err)
	test.AssertNoEvent(t, h.errors, 50*time.Millisecond)
}

func TestResultsInArrivalOrder(t *testing.T) {
	h := newHarness(t)
	h.connect("s1")

	outcomes := make(chan outcome, 10)
	first := h.client.Call("a", nil, collect(outcomes))
	second := h.client.Call("b", nil, collect(outcomes))
	h.sent()
	h.sent()

	h.deliver(tj.O{"msg": "result", "id": second, "result": 2})
	h.deliver(tj.O{"msg": "result", "id": first, "result": 1})
	test.AssertForefrontEvents(t, outcomes, outcome{result: "2"}, outcome{result: "1"})
}

func TestCallBeforeConnect(t *testing.T) {
	h := newHarness(t)

	outcomes := make(chan outcome, 1)
	id := h.client.Call("early", nil, collect(outcomes))
	h.connect("s1")
	require.Equal(t, id, h.sent()["id"])

	h.deliver(tj.O{"msg": "result", "id": id})
	require.NoError(t, test.Receive(t, outcomes).err)
}

func TestCallResentAfterReconnect(t *testing.T) {
	h := newHarness(t)
	h.connect("s1")

	outcomes := make(chan outcome, 1)
	id := h.client.Call("echo", []any{"x"}, collect(outcomes))
	text := h.sentText()

	h.drop()
	h.handshake("s1")
	require.Equal(t, text, h.sentText())
	h.noneSent()

	h.deliver(tj.O{"msg": "result", "id": id, "result": "x"})
	require.Equal(t, outcome{result: `"x"`}, test.Receive(t, outcomes))
}

func TestUpdatedObserved(t *testing.T) {
	updated := make(chan []string, 1)
	h := newHarness(t, func(config *Config) {
		config.Observer.Updated = func(methods []string) { updated <- methods }
	})
	h.connect("s1")

	h.deliver(tj.O{"msg": "updated", "methods": tj.A{"a", "b"}})
	require.Equal(t, []string{"a", "b"}, test.Receive(t, updated))
}

func TestMethodObserved(t *testing.T) {
	type call struct {
		name   string
		result string
	}
	calls := make(chan call, 1)
	h := newHarness(t, func(config *Config) {
		config.Observer.Method = func(name string, result json.RawMessage, err error) {
			calls <- call{name: name, result: string(result)}
		}
	})
	h.connect("s1")

	id := h.client.Call("sum", []any{1, 2}, nil)
	h.sent()
	h.deliver(tj.O{"msg": "result", "id": id, "result": 3})
	require.Equal(t, call{name: "sum", result: "3"}, test.Receive(t, calls))
}

func TestCallSync(t *testing.T) {
	h := newHarness(t)
	h.connect("s1")

	group := test.Group(t)
	results := make(chan outcome, 1)
	group.Spawn("call", parallel.Continue, func(ctx context.Context) error {
		result, err := h.client.CallSync(ctx, "echo", []any{"hi"})
		results <- outcome{result: string(result), err: err}
		return nil
	})

	m := h.sent()
	require.Equal(t, "echo", m["method"])
	h.deliver(tj.O{"msg": "result", "id": m["id"], "result": "hi"})
	require.Equal(t, outcome{result: `"hi"`}, test.Receive(t, results))
}

func TestCallSyncTimeout(t *testing.T) {
	h := newHarness(t, func(config *Config) {
		config.RequestTimeout = 50 * time.Millisecond
	})
	h.connect("s1")

	_, err := h.client.CallSync(test.Context(t), "never", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallSyncNotRunning(t *testing.T) {
	c := New(Config{URL: testURL})
	_, err := c.CallSync(test.Context(t), "m", nil)
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestCollectionMethods(t *testing.T) {
	h := newHarness(t)
	h.connect("s1")

	id := h.client.Insert("tasks", []any{tj.O{"_id": "1", "title": "a"}}, nil)
	requireJSON(t, tj.O{"msg": "method", "method": "/tasks/insert", "params": tj.A{tj.O{"_id": "1", "title": "a"}}, "id": id}, h.sent())

	h.client.Update("tasks", []any{tj.O{"_id": "1"}, tj.O{"$set": tj.O{"title": "b"}}}, nil)
	require.Equal(t, "/tasks/update", h.sent()["method"])

	h.client.Remove("tasks", []any{tj.O{"_id": "1"}}, nil)
	require.Equal(t, "/tasks/remove", h.sent()["method"])
}
