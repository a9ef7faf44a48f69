package session

import (
	"context"
	"sync"
	"time"
)

// Clock is the attempt countdown. It decrements once per tick and fires
// onExpire exactly once for its whole lifetime, even across Reset.
type Clock struct {
	interval time.Duration
	onTick   func(remaining int)
	onExpire func()

	mu        sync.Mutex
	remaining int
	expired   bool
	cancel    context.CancelFunc
}

// NewClock creates a stopped clock. Either callback may be nil.
func NewClock(interval time.Duration, onTick func(remaining int), onExpire func()) *Clock {
	if interval <= 0 {
		interval = time.Second
	}
	return &Clock{
		interval: interval,
		onTick:   onTick,
		onExpire: onExpire,
	}
}

// Reset sets the remaining seconds, typically to a server-supplied value.
func (c *Clock) Reset(remaining int) {
	if remaining < 0 {
		remaining = 0
	}
	c.mu.Lock()
	c.remaining = remaining
	c.mu.Unlock()
}

// Remaining returns the current countdown value.
func (c *Clock) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Expired reports whether the expiry callback has fired.
func (c *Clock) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// Tick advances the countdown by one second. Reaching zero fires the
// expiry callback; later ticks are no-ops.
func (c *Clock) Tick() int {
	c.mu.Lock()
	if c.expired {
		c.mu.Unlock()
		return 0
	}
	if c.remaining > 0 {
		c.remaining--
	}
	remaining := c.remaining
	fire := remaining == 0
	if fire {
		c.expired = true
	}
	c.mu.Unlock()

	if c.onTick != nil {
		c.onTick(remaining)
	}
	if fire && c.onExpire != nil {
		c.onExpire()
	}
	return remaining
}

// Start begins ticking in the background until Stop or ctx cancellation.
// Starting a running clock is a no-op.
func (c *Clock) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil || c.expired {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx)
}

// Stop cancels the tick subscription. It does not wait for an in-progress
// callback, so it is safe to call from inside one.
func (c *Clock) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Running reports whether the tick loop is active.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

func (c *Clock) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick racing Stop must not decrement a frozen clock.
			if ctx.Err() != nil {
				return
			}
			c.Tick()
		}
	}
}
