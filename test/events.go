package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// EventTimeout is how long the assertions below wait for each event
var EventTimeout = 3 * time.Second

// Receive waits for one value on ch, failing the test on timeout or if the
// channel is closed
func Receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), EventTimeout)
	defer cancel()

	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return v
	case <-ctx.Done():
		t.Fatal("timeout waiting for event")
	}
	panic("unreachable")
}

// AssertNoEvent asserts that nothing arrives on ch within d
func AssertNoEvent[T any](t *testing.T, ch <-chan T, d time.Duration) bool {
	select {
	case v := <-ch:
		return assert.Fail(t, "unexpected event", "%#v", v)
	case <-time.After(d):
		return true
	}
}

// AssertForefrontEvents asserts that the expected list of events was received on the actual channel
func AssertForefrontEvents[T any](t *testing.T, actualCh <-chan T, expected ...T) bool {
	ok := true
	for i, e := range expected {
		res := func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), EventTimeout)
			defer cancel()

			select {
			case <-ctx.Done():
				return assert.Fail(t, "timeout", "index: %d", i)
			case val, valOK := <-actualCh:
				if !assert.Truef(t, valOK, "channel closed, index: %d", i) {
					return false
				}
				ok = ok && assert.Equal(t, e, val)
				return true
			}
		}()
		if !res {
			return false
		}
	}
	return ok
}

// AssertEvents asserts that the expected list of events was received on the actual channel and no unexpected events are enqueued there
func AssertEvents[T any](t *testing.T, actualCh <-chan T, expected ...T) bool {
	if !AssertForefrontEvents(t, actualCh, expected...) {
		return false
	}

	ok := true
	for {
		select {
		case val, valOK := <-actualCh:
			if !valOK {
				return ok
			}
			assert.Fail(t, "unexpected event", "%#v", val)
			ok = false
		default:
			return ok
		}
	}
}
