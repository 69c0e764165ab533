package backoff

import (
	"sync"
	"time"
)

// Controller schedules retries with exponentially growing delays.
//
// At most one retry is armed at any time. There is no limit on the number
// of attempts, only on the delay between them.
type Controller struct {
	mu      sync.Mutex
	backoff *Exponential
	timer   *time.Timer
	gen     uint64
}

// NewController creates a new Controller
func NewController(config Config) *Controller {
	return &Controller{backoff: NewExponential(config.OrDefault())}
}

// ScheduleRetry arms a timer that calls fn after the current interval and
// advances the interval. Returns false without scheduling anything if a retry
// is already armed.
func (c *Controller) ScheduleRetry(fn func()) bool {
	_, ok := c.schedule(fn)
	return ok
}

// ScheduleRetryDelay is ScheduleRetry that also returns the delay chosen
func (c *Controller) ScheduleRetryDelay(fn func()) (time.Duration, bool) {
	return c.schedule(fn)
}

func (c *Controller) schedule(fn func()) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		return 0, false
	}

	delay := c.backoff.Backoff()
	gen := c.gen
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.mu.Unlock()

		fn()
	})
	return delay, true
}

// Armed returns true if a retry is waiting to fire
func (c *Controller) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// Reset restores the starting interval. An armed retry is not affected.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backoff.Reset()
}

// Stop cancels an armed retry, if any
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}
