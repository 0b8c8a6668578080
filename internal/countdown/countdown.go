// Package countdown drives the per-question visual timer. The server stays
// authoritative for timeouts: this controller only reports elapsed state,
// it never emits network events.
package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Level classifies the remaining-time fraction for visual thresholds.
type Level int

const (
	LevelNominal  Level = iota // more than half the time left
	LevelWarning               // between a quarter and half
	LevelCritical              // a quarter or less
)

// Controller decrements once per second while running. Freeze stops the
// tick permanently at the current value; Stop cancels without freezing
// semantics. At most one run is alive; Start cancels the previous one.
type Controller struct {
	clock clockwork.Clock

	mu        sync.Mutex
	total     int
	remaining int
	frozen    bool
	cancel    chan struct{}

	onTick   func(remaining int)
	onExpire func()
}

// New creates a stopped controller. Callbacks may be nil; they are invoked
// from the controller's own goroutine.
func New(clock clockwork.Clock, onTick func(remaining int), onExpire func()) *Controller {
	return &Controller{
		clock:    clock,
		onTick:   onTick,
		onExpire: onExpire,
	}
}

// Start begins a countdown from total seconds. A non-positive total starts
// no timer and reports zero immediately.
func (c *Controller) Start(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.total = total
	c.frozen = false

	if total <= 0 {
		c.remaining = 0
		log.Debug().Int("total", total).Msg("countdown not started, no time limit")
		return
	}

	c.remaining = total
	cancel := make(chan struct{})
	c.cancel = cancel
	go c.run(cancel)
}

func (c *Controller) run(cancel chan struct{}) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-cancel:
			return
		case <-ticker.Chan():
			expired, fire := c.tick(cancel)
			if fire != nil {
				fire()
			}
			if expired {
				return
			}
		}
	}
}

// tick decrements under the lock and returns the callback to invoke, so
// callbacks never run while the lock is held.
func (c *Controller) tick(cancel chan struct{}) (expired bool, fire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A Freeze or Start raced this tick: it no longer owns the countdown.
	if c.frozen || c.cancel != cancel || c.remaining <= 0 {
		return true, nil
	}

	c.remaining--
	remaining := c.remaining

	if remaining <= 0 {
		onExpire := c.onExpire
		onTick := c.onTick
		return true, func() {
			if onTick != nil {
				onTick(0)
			}
			if onExpire != nil {
				onExpire()
			}
		}
	}

	onTick := c.onTick
	return false, func() {
		if onTick != nil {
			onTick(remaining)
		}
	}
}

// Freeze halts the countdown at its current value permanently, for when
// the player has submitted an answer. It does not resume.
func (c *Controller) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
	c.stopLocked()
}

// Stop cancels the countdown. Safe when not running.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if c.cancel != nil {
		close(c.cancel)
		c.cancel = nil
	}
}

// Remaining returns the whole seconds left.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Fraction returns remaining/total in [0, 1].
func (c *Controller) Fraction() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.total <= 0 || c.remaining <= 0 {
		return 0
	}
	return float64(c.remaining) / float64(c.total)
}

// Level maps the current fraction onto the visual thresholds. Monotonic
// and deterministic for a given total.
func (c *Controller) Level() Level {
	f := c.Fraction()
	switch {
	case f > 0.5:
		return LevelNominal
	case f > 0.25:
		return LevelWarning
	default:
		return LevelCritical
	}
}

// Frozen reports whether Freeze has been called since the last Start.
func (c *Controller) Frozen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frozen
}
