package backoff

import (
	"time"
)

// Config is used to configure exponential backoff
type Config struct {
	Min   time.Duration
	Max   time.Duration
	Scale float64
}

// Default is the configuration used when none is given
var Default = Config{
	Min:   10 * time.Millisecond,
	Max:   5 * time.Second,
	Scale: 1.5,
}

// OrDefault returns the config with zero fields replaced by Default values
func (c Config) OrDefault() Config {
	if c.Min <= 0 {
		c.Min = Default.Min
	}
	if c.Max <= 0 {
		c.Max = Default.Max
	}
	if c.Max < c.Min {
		c.Max = c.Min
	}
	if c.Scale < 1 {
		c.Scale = Default.Scale
	}
	return c
}

// Exponential contains the current state of the backoff logic
type Exponential struct {
	config  Config
	current time.Duration
}

// NewExponential creates new Exponential
func NewExponential(config Config) *Exponential {
	return &Exponential{
		config:  config,
		current: config.Min,
	}
}

// Backoff returns the duration to wait and updates the inner state
func (b *Exponential) Backoff() time.Duration {
	beforeScale := b.current
	b.current = time.Duration(float64(b.current) * b.config.Scale)
	if b.current > b.config.Max {
		b.current = b.config.Max
	}
	return beforeScale
}

// Reset resets the backoff state
func (b *Exponential) Reset() {
	b.current = b.config.Min
}
