package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerDelays(t *testing.T) {
	c := NewController(Config{Min: time.Millisecond, Max: 4 * time.Millisecond, Scale: 2})

	var delays []time.Duration
	for i := 0; i < 5; i++ {
		fired := make(chan struct{})
		d, ok := c.ScheduleRetryDelay(func() { close(fired) })
		require.True(t, ok)
		delays = append(delays, d)
		<-fired
	}
	assert.Equal(t, []time.Duration{
		time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
	}, delays)

	c.Reset()
	fired := make(chan struct{})
	d, ok := c.ScheduleRetryDelay(func() { close(fired) })
	require.True(t, ok)
	assert.Equal(t, time.Millisecond, d)
	<-fired
}

func TestControllerSingleRetry(t *testing.T) {
	c := NewController(Config{Min: 20 * time.Millisecond, Max: time.Second, Scale: 2})

	calls := make(chan int, 2)
	require.True(t, c.ScheduleRetry(func() { calls <- 1 }))
	require.False(t, c.ScheduleRetry(func() { calls <- 2 }))
	require.True(t, c.Armed())

	select {
	case n := <-calls:
		require.Equal(t, 1, n)
	case <-time.After(3 * time.Second):
		t.Fatal("retry did not fire")
	}
	require.Eventually(t, func() bool { return !c.Armed() }, time.Second, time.Millisecond)

	select {
	case n := <-calls:
		t.Fatalf("unexpected retry %d", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestControllerStop(t *testing.T) {
	c := NewController(Config{Min: 20 * time.Millisecond, Max: time.Second, Scale: 2})

	fired := make(chan struct{}, 1)
	require.True(t, c.ScheduleRetry(func() { fired <- struct{}{} }))
	c.Stop()
	require.False(t, c.Armed())

	select {
	case <-fired:
		t.Fatal("stopped retry fired")
	case <-time.After(60 * time.Millisecond):
	}

	require.True(t, c.ScheduleRetry(func() { fired <- struct{}{} }))
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("retry did not fire")
	}
}
