package ddp

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDebouncer(t *testing.T) {
	var fired atomic.Int32
	d := newDebouncer(50*time.Millisecond, func() { fired.Add(1) })

	require.False(t, d.Armed())
	d.Trigger()
	d.Trigger()
	d.Trigger()
	require.True(t, d.Armed())

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !d.Armed() }, time.Second, time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 1, fired.Load())

	d.Trigger()
	require.Eventually(t, func() bool { return fired.Load() == 2 }, time.Second, time.Millisecond)
}
