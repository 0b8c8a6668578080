// Package roulette animates the category reveal. The spin is purely
// cosmetic, since the server already chose the category, but it must
// terminate deterministically and report the result upstream exactly once
// per target per activation. Stop ends an activation; a later round may
// reveal the same category again and gets a fresh spin and a fresh report.
package roulette

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Categories is the fixed, ordered set the wheel cycles through.
var Categories = []string{"Ciencia", "Arte", "Historia", "Geografía", "Deportes", "Tecnología"}

const (
	// SpinSteps at StepInterval gives the 2s spin, then the wheel sits on
	// the target for SettleDelay before reporting completion.
	SpinSteps    = 40
	StepInterval = 50 * time.Millisecond
	SettleDelay  = 2 * time.Second
)

// Wheel runs the bounded spin animation. Spinning again with a new target
// cancels any in-flight animation first; re-spinning the same target is a
// no-op, so the completion callback fires once per distinct target between
// Stops. The wheel outlives a single round: Stop clears the target and
// completion guard so the next round can land on the same category.
type Wheel struct {
	clock      clockwork.Clock
	categories []string

	mu        sync.Mutex
	target    string
	displayed string
	settled   bool
	completed map[string]bool
	cancel    chan struct{}

	onStep   func(displayed string)
	onFinish func(category string)
}

// New creates an idle wheel over the default category set. Callbacks may
// be nil; they run on the wheel's own goroutine.
func New(clock clockwork.Clock, onStep func(string), onFinish func(string)) *Wheel {
	return &Wheel{
		clock:      clock,
		categories: Categories,
		completed:  make(map[string]bool),
		onStep:     onStep,
		onFinish:   onFinish,
	}
}

// Spin starts the animation toward the server-chosen target. An empty
// target does nothing.
func (w *Wheel) Spin(target string) {
	if target == "" {
		log.Debug().Msg("roulette target empty, not spinning")
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.target == target {
		// Re-activation with the same target must not re-run the spin or
		// re-fire the completion.
		return
	}

	w.stopLocked()
	w.target = target
	w.settled = false
	w.displayed = ""

	cancel := make(chan struct{})
	w.cancel = cancel
	go w.run(target, cancel)

	log.Debug().Str("category", target).Msg("roulette spinning")
}

func (w *Wheel) run(target string, cancel chan struct{}) {
	ticker := w.clock.NewTicker(StepInterval)

	for step := 0; step < SpinSteps; step++ {
		select {
		case <-cancel:
			ticker.Stop()
			return
		case <-ticker.Chan():
			w.setDisplayed(w.categories[step%len(w.categories)])
		}
	}
	ticker.Stop()

	// Land on the server's choice and let it settle before reporting.
	w.setDisplayed(target)
	w.markSettled(target)

	timer := w.clock.NewTimer(SettleDelay)
	select {
	case <-cancel:
		if !timer.Stop() {
			select {
			case <-timer.Chan():
			default:
			}
		}
		return
	case <-timer.Chan():
	}

	// The settle fire and a Stop can race; cancellation wins.
	select {
	case <-cancel:
		return
	default:
	}

	w.finish(target)
}

func (w *Wheel) setDisplayed(category string) {
	w.mu.Lock()
	w.displayed = category
	onStep := w.onStep
	w.mu.Unlock()

	if onStep != nil {
		onStep(category)
	}
}

func (w *Wheel) markSettled(target string) {
	w.mu.Lock()
	if w.target == target {
		w.settled = true
	}
	w.mu.Unlock()
}

// finish reports the target upstream, guarded so a given target is only
// reported once within the current activation.
func (w *Wheel) finish(target string) {
	w.mu.Lock()
	if w.completed[target] {
		w.mu.Unlock()
		return
	}
	w.completed[target] = true
	onFinish := w.onFinish
	w.mu.Unlock()

	log.Debug().Str("category", target).Msg("roulette finished")
	if onFinish != nil {
		onFinish(target)
	}
}

// Stop cancels any in-flight animation and its pending timers and resets
// the target and completion guard, so a later round can spin and report
// the same category again.
func (w *Wheel) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.target = ""
	w.settled = false
	w.completed = make(map[string]bool)
}

func (w *Wheel) stopLocked() {
	if w.cancel != nil {
		close(w.cancel)
		w.cancel = nil
	}
}

// Displayed returns what the wheel currently shows.
func (w *Wheel) Displayed() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.displayed
}

// Settled reports whether the wheel has landed on its target.
func (w *Wheel) Settled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settled
}
