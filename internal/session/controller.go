package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizrush/quizrush/internal/countdown"
	"github.com/quizrush/quizrush/internal/identity"
	"github.com/quizrush/quizrush/internal/protocol"
	"github.com/quizrush/quizrush/internal/roulette"
	"github.com/quizrush/quizrush/internal/route"
)

// Transport is the capability the controller needs from the shared
// connection. Injected so tests can substitute a fake.
type Transport interface {
	On(event string, handler func(data json.RawMessage))
	Off(event string)
	Emit(event string, payload interface{}) error
}

// gameEvents are the inbound kinds a game view listens to. Bound on Start,
// unbound on Stop; the one-handler-per-kind transport contract makes
// rebinding across remounts idempotent.
var gameEvents = []string{
	protocol.EventRoomState,
	protocol.EventStartRoulette,
	protocol.EventNewQuestion,
	protocol.EventRoundResult,
	protocol.EventGameWinner,
	protocol.EventGameEnded,
	protocol.EventRoomUpdate,
}

type msg interface{ isMsg() }

type inboundMsg struct{ ev Event }
type submitMsg struct{ answer string }
type navFiredMsg struct{ gen uint64 }
type rouletteDoneMsg struct{ category string }
type renderMsg struct{}
type getStateMsg struct{ reply chan State }

func (inboundMsg) isMsg()      {}
func (submitMsg) isMsg()       {}
func (navFiredMsg) isMsg()     {}
func (rouletteDoneMsg) isMsg() {}
func (renderMsg) isMsg()       {}
func (getStateMsg) isMsg()     {}

// Controller owns one game view's lifetime: it resynchronizes on start,
// feeds inbound events through the reducer, and runs the timers the active
// phase needs. All state transitions happen on a single goroutine; timer
// fires and transport handlers only post messages to it, so races between
// local timers and authoritative events serialize through the loop and the
// newest applied event always wins.
type Controller struct {
	transport Transport
	clock     clockwork.Clock
	nav       route.Navigator
	user      identity.User
	roomCode  string
	onChange  func(State)

	inbox chan msg
	stop  chan struct{}
	done  chan struct{}

	// Loop-owned; never touched from outside the loop goroutine.
	state     State
	countdown *countdown.Controller
	wheel     *roulette.Wheel
	navTimer  clockwork.Timer
	navCancel chan struct{}
	navGen    uint64

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
}

// New creates a controller for one room. onChange may be nil; it is
// invoked from the controller goroutine after every applied transition.
func New(t Transport, clock clockwork.Clock, nav route.Navigator, user identity.User, roomCode string, onChange func(State)) *Controller {
	c := &Controller{
		transport: t,
		clock:     clock,
		nav:       nav,
		user:      user,
		roomCode:  roomCode,
		onChange:  onChange,
		inbox:     make(chan msg, 64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		state:     NewState(roomCode),
	}
	c.countdown = countdown.New(clock,
		func(int) { c.post(renderMsg{}) },
		func() {
			// Local expiry is visual only; the server declares timeout.
			log.Debug().Str("room", roomCode).Msg("question time expired locally, awaiting server result")
			c.post(renderMsg{})
		},
	)
	c.wheel = roulette.New(clock,
		func(string) { c.post(renderMsg{}) },
		func(category string) { c.post(rouletteDoneMsg{category: category}) },
	)
	return c
}

// Start binds the game event handlers and issues the one resync request
// for this activation. Starting twice is an error.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("session controller already started")
	}
	c.started = true
	c.mu.Unlock()

	for _, event := range gameEvents {
		c.bind(event)
	}

	// Resynchronize: exactly one snapshot request per activation. If the
	// reply never arrives the machine stays in Waiting, its safe default.
	if err := c.transport.Emit(protocol.EventGetRoomState, protocol.GetRoomStateRequest{RoomCode: c.roomCode}); err != nil {
		log.Error().Err(err).Str("room", c.roomCode).Msg("failed to request room state")
	}

	go c.loop(ctx)

	log.Info().Str("room", c.roomCode).Msg("session controller started")
	return nil
}

func (c *Controller) bind(event string) {
	c.transport.On(event, func(data json.RawMessage) {
		payload, err := protocol.ParseInbound(event, data)
		if err != nil {
			log.Debug().Err(err).Str("event", event).Msg("dropping malformed payload")
			return
		}
		ev, ok := toEvent(event, payload)
		if !ok {
			return
		}
		c.post(inboundMsg{ev: ev})
	})
}

// toEvent converts a decoded wire payload into a reducer event.
func toEvent(event string, payload interface{}) (Event, bool) {
	switch event {
	case protocol.EventRoomState:
		p, ok := payload.(protocol.RoomState)
		if !ok {
			return Event{}, false
		}
		return Event{Type: EvtRoomState, Snapshot: &p}, true
	case protocol.EventStartRoulette:
		category, ok := payload.(string)
		if !ok {
			return Event{}, false
		}
		return Event{Type: EvtStartRoulette, Category: category}, true
	case protocol.EventNewQuestion:
		p, ok := payload.(protocol.Question)
		if !ok {
			return Event{}, false
		}
		return Event{Type: EvtNewQuestion, Question: &p}, true
	case protocol.EventRoundResult:
		p, ok := payload.(protocol.RoundResult)
		if !ok {
			return Event{}, false
		}
		return Event{Type: EvtRoundResult, Status: p.Status}, true
	case protocol.EventGameWinner:
		p, ok := payload.(protocol.Player)
		if !ok {
			return Event{}, false
		}
		return Event{Type: EvtGameWinner, Player: &p}, true
	case protocol.EventGameEnded:
		p, ok := payload.(protocol.GameEnded)
		if !ok {
			return Event{}, false
		}
		return Event{Type: EvtGameEnded, Message: p.Message}, true
	case protocol.EventRoomUpdate:
		p, ok := payload.(protocol.Room)
		if !ok {
			return Event{}, false
		}
		return Event{Type: EvtRoomUpdate, Room: &p}, true
	default:
		return Event{}, false
	}
}

func (c *Controller) post(m msg) {
	select {
	case c.inbox <- m:
	case <-c.done:
	}
}

func (c *Controller) loop(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return
		case <-c.stop:
			c.teardown()
			return
		case m := <-c.inbox:
			c.handle(m)
		}
	}
}

func (c *Controller) handle(m msg) {
	switch m := m.(type) {
	case inboundMsg:
		c.applyEvent(m.ev)

	case submitMsg:
		c.submitAnswer(m.answer)

	case navFiredMsg:
		if m.gen != c.navGen {
			// A phase change already superseded this timer.
			log.Debug().Str("room", c.roomCode).Msg("dropping stale navigation fire")
			return
		}
		c.navTimer = nil
		c.navCancel = nil
		log.Info().Str("room", c.roomCode).Msg("navigating back to lobby")
		c.nav.Navigate(route.Lobby{})

	case rouletteDoneMsg:
		// Report the revealed category back; the wheel guarantees this
		// fires once per target, so the emit cannot duplicate.
		if err := c.transport.Emit(protocol.EventRouletteFinished, protocol.RouletteFinishedRequest{
			RoomCode: c.roomCode,
			Category: m.category,
		}); err != nil {
			log.Error().Err(err).Str("room", c.roomCode).Msg("failed to report roulette result")
		}
		c.notify()

	case renderMsg:
		c.notify()

	case getStateMsg:
		m.reply <- c.state
	}
}

func (c *Controller) applyEvent(ev Event) {
	prev := c.state
	next, effects := Apply(c.state, ev)
	c.state = next

	if next.Phase != prev.Phase {
		// Event wins: any timer scheduled for the superseded phase is moot.
		c.cancelNav()
		c.syncComponents(prev, next)
		log.Debug().
			Str("room", c.roomCode).
			Str("from", string(prev.Phase)).
			Str("to", string(next.Phase)).
			Str("event", string(ev.Type)).
			Msg("phase transition")
	} else {
		c.syncSamePhase(prev, next)
	}

	for _, effect := range effects {
		switch e := effect.(type) {
		case NavigateLobbyAfter:
			c.scheduleNav(e)
		}
	}

	c.notify()
}

// syncComponents starts and stops the phase-owned animations.
func (c *Controller) syncComponents(prev, next State) {
	if prev.Phase == PhaseRoulette && next.Phase != PhaseRoulette {
		c.wheel.Stop()
	}
	if prev.Phase == PhaseQuestion && next.Phase != PhaseQuestion && next.Phase != PhaseFeedback {
		c.countdown.Stop()
	}

	switch next.Phase {
	case PhaseRoulette:
		c.wheel.Spin(next.Category)
	case PhaseQuestion:
		if next.Question != nil {
			c.countdown.Start(next.Question.TimeLimit)
		}
	}
}

// syncSamePhase restarts a phase-owned animation whose content changed
// without a phase transition: a different category while the wheel already
// spins, or a replacement question while one is on screen.
func (c *Controller) syncSamePhase(prev, next State) {
	switch next.Phase {
	case PhaseRoulette:
		if next.Category != prev.Category {
			c.wheel.Spin(next.Category)
		}
	case PhaseQuestion:
		if next.Question != prev.Question && next.Question != nil {
			c.countdown.Start(next.Question.TimeLimit)
		}
	}
}

func (c *Controller) submitAnswer(answer string) {
	if c.state.Phase != PhaseQuestion || c.state.Question == nil {
		log.Debug().Str("room", c.roomCode).Msg("ignoring answer outside question phase")
		return
	}

	// Freeze first so the bar holds its value, then send: the local
	// feedback phase is advisory and must not delay the outbound event.
	c.countdown.Freeze()
	if err := c.transport.Emit(protocol.EventAnswerQuestion, protocol.AnswerQuestionRequest{
		RoomCode: c.roomCode,
		Answer:   answer,
		UserID:   c.user.ID,
		Name:     c.user.Name,
	}); err != nil {
		log.Error().Err(err).Str("room", c.roomCode).Msg("failed to send answer")
	}

	c.applyEvent(Event{Type: EvtAnswerSubmitted, Answer: answer})
}

// scheduleNav arms the navigation-away timer, replacing any previous one.
func (c *Controller) scheduleNav(e NavigateLobbyAfter) {
	c.cancelNav()

	c.navGen++
	gen := c.navGen
	timer := c.clock.NewTimer(e.After)
	cancel := make(chan struct{})
	c.navTimer = timer
	c.navCancel = cancel

	go func() {
		select {
		case <-timer.Chan():
			c.post(navFiredMsg{gen: gen})
		case <-cancel:
			stopAndDrainTimer(timer)
		}
	}()

	log.Debug().Str("room", c.roomCode).Dur("after", e.After).Msg("scheduled lobby navigation")
}

func (c *Controller) cancelNav() {
	c.navGen++
	if c.navTimer != nil {
		stopAndDrainTimer(c.navTimer)
		c.navTimer = nil
	}
	if c.navCancel != nil {
		close(c.navCancel)
		c.navCancel = nil
	}
}

// stopAndDrainTimer stops a timer and drains its channel so a concurrent
// fire can never be observed later. Pattern from time.Timer.Stop docs.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange(c.state)
	}
}

func (c *Controller) teardown() {
	for _, event := range gameEvents {
		c.transport.Off(event)
	}
	c.wheel.Stop()
	c.countdown.Stop()
	c.cancelNav()
	log.Info().Str("room", c.roomCode).Msg("session controller stopped")
}

// SubmitAnswer records the player's answer: countdown freezes, the answer
// event goes out immediately, and the view enters the local feedback phase
// until the authoritative result arrives.
func (c *Controller) SubmitAnswer(answer string) {
	c.post(submitMsg{answer: answer})
}

// State returns a snapshot of the current session state.
func (c *Controller) State() State {
	reply := make(chan State, 1)
	select {
	case c.inbox <- getStateMsg{reply: reply}:
		select {
		case s := <-reply:
			return s
		case <-c.done:
		}
	case <-c.done:
	}
	return c.state
}

// Countdown exposes the question timer for rendering.
func (c *Controller) Countdown() *countdown.Controller { return c.countdown }

// Wheel exposes the roulette for rendering.
func (c *Controller) Wheel() *roulette.Wheel { return c.wheel }

// Stop tears down subscriptions and every owned timer. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return
	}
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}
