package scheduler

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Dicklesworthstone/licrm/internal/clock"
)

// DefaultTickInterval is how often an active cooldown reports its remaining time.
const DefaultTickInterval = 15 * time.Second

// Cooldown is a timed lockout entered when the remote endpoint throttles us.
//
// Activation schedules two independent actions: a single wake-up at the end
// of the window, which resumes the caller, and a chain of ticks that only
// report progress. Reactivating replaces both; callbacks from an earlier
// activation are recognised by generation and ignored.
type Cooldown struct {
	mu sync.Mutex

	clock        clock.Clock
	tickInterval time.Duration

	active bool
	endsAt time.Time
	gen    uint64

	wake clock.Timer
	tick clock.Timer

	onTick func(remaining time.Duration)
}

// NewCooldown creates an inactive cooldown. A non-positive tickInterval
// falls back to DefaultTickInterval.
func NewCooldown(clk clock.Clock, tickInterval time.Duration) *Cooldown {
	if clk == nil {
		clk = clock.Real{}
	}
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	return &Cooldown{clock: clk, tickInterval: tickInterval}
}

// SetTickHook sets the callback invoked on each intermediate tick.
func (c *Cooldown) SetTickHook(onTick func(remaining time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTick = onTick
}

// Activate starts (or restarts) the lockout for d. resume is invoked exactly
// once when the window ends, unless the cooldown is reactivated or stopped
// first.
func (c *Cooldown) Activate(d time.Duration, resume func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimersLocked()
	c.gen++
	c.active = true
	c.endsAt = c.clock.Now().Add(d)

	gen := c.gen
	c.wake = c.clock.AfterFunc(d, func() { c.fireWake(gen, resume) })
	c.tick = c.clock.AfterFunc(c.tickInterval, func() { c.fireTick(gen) })

	slog.Debug("cooldown activated",
		"duration", d,
		"ends_at", c.endsAt,
		"generation", gen,
	)
}

func (c *Cooldown) fireWake(gen uint64, resume func()) {
	c.mu.Lock()
	if gen != c.gen || !c.active {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	if now.Before(c.endsAt) {
		// Fired early; re-arm for the remainder.
		c.wake = c.clock.AfterFunc(c.endsAt.Sub(now), func() { c.fireWake(gen, resume) })
		c.mu.Unlock()
		return
	}
	c.active = false
	c.stopTimersLocked()
	c.mu.Unlock()

	if resume != nil {
		resume()
	}
}

func (c *Cooldown) fireTick(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.active {
		c.mu.Unlock()
		return
	}
	remaining := c.endsAt.Sub(c.clock.Now())
	hook := c.onTick
	if remaining > 0 {
		c.tick = c.clock.AfterFunc(c.tickInterval, func() { c.fireTick(gen) })
	}
	c.mu.Unlock()

	if hook != nil && remaining > 0 {
		hook(remaining)
	}
}

// Stop cancels an active cooldown without resuming. Pending timers are released.
func (c *Cooldown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.active = false
	c.stopTimersLocked()
}

func (c *Cooldown) stopTimersLocked() {
	if c.wake != nil {
		c.wake.Stop()
		c.wake = nil
	}
	if c.tick != nil {
		c.tick.Stop()
		c.tick = nil
	}
}

// Active reports whether the lockout is in effect.
func (c *Cooldown) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// EndsAt returns the end of the current window, or the zero time when inactive.
func (c *Cooldown) EndsAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return time.Time{}
	}
	return c.endsAt
}

// Remaining returns the time left in the window, or 0 when inactive.
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return 0
	}
	remaining := c.endsAt.Sub(c.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FormatCountdown renders d as m:ss, rounding up to the next whole second.
func FormatCountdown(d time.Duration) string {
	if d <= 0 {
		return "0:00"
	}
	secs := int64(math.Ceil(d.Seconds()))
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
