// Package lobby drives the room-listing view: open rooms, create/join, and
// the hand-off into the game view when the server starts a match.
package lobby

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quizrush/quizrush/internal/identity"
	"github.com/quizrush/quizrush/internal/protocol"
	"github.com/quizrush/quizrush/internal/route"
)

// Transport is the capability the lobby needs from the shared connection.
type Transport interface {
	On(event string, handler func(data json.RawMessage))
	Off(event string)
	Emit(event string, payload interface{}) error
}

var lobbyEvents = []string{
	protocol.EventRoomList,
	protocol.EventRoomUpdate,
	protocol.EventStartGame,
}

// State is what the lobby view renders: the open-room listing, and the
// room the player currently sits in (nil while browsing).
type State struct {
	Rooms       []protocol.Room
	CurrentRoom *protocol.Room
}

type msg interface{ isMsg() }

type roomListMsg struct{ rooms []protocol.Room }
type roomUpdateMsg struct{ room protocol.Room }
type startGameMsg struct{ roomCode string }
type getStateMsg struct{ reply chan State }

func (roomListMsg) isMsg()   {}
func (roomUpdateMsg) isMsg() {}
func (startGameMsg) isMsg()  {}
func (getStateMsg) isMsg()   {}

// Controller is the lobby actor. Like the session controller, handlers
// only post to the inbox; all state lives on one goroutine.
type Controller struct {
	transport Transport
	nav       route.Navigator
	user      identity.User
	onChange  func(State)

	inbox chan msg
	stop  chan struct{}
	done  chan struct{}

	state State

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
}

// New creates a lobby controller. onChange may be nil.
func New(t Transport, nav route.Navigator, user identity.User, onChange func(State)) *Controller {
	return &Controller{
		transport: t,
		nav:       nav,
		user:      user,
		onChange:  onChange,
		inbox:     make(chan msg, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start binds the lobby handlers and requests the room listing.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("lobby controller already started")
	}
	c.started = true
	c.mu.Unlock()

	c.transport.On(protocol.EventRoomList, func(data json.RawMessage) {
		payload, err := protocol.ParseInbound(protocol.EventRoomList, data)
		if err != nil {
			log.Debug().Err(err).Msg("dropping malformed room list")
			return
		}
		if rooms, ok := payload.([]protocol.Room); ok {
			c.post(roomListMsg{rooms: rooms})
		}
	})
	c.transport.On(protocol.EventRoomUpdate, func(data json.RawMessage) {
		payload, err := protocol.ParseInbound(protocol.EventRoomUpdate, data)
		if err != nil {
			log.Debug().Err(err).Msg("dropping malformed room update")
			return
		}
		if room, ok := payload.(protocol.Room); ok {
			c.post(roomUpdateMsg{room: room})
		}
	})
	c.transport.On(protocol.EventStartGame, func(data json.RawMessage) {
		payload, err := protocol.ParseInbound(protocol.EventStartGame, data)
		if err != nil {
			log.Debug().Err(err).Msg("dropping malformed start game event")
			return
		}
		if sg, ok := payload.(protocol.StartGame); ok && sg.RoomCode != "" {
			c.post(startGameMsg{roomCode: sg.RoomCode})
		}
	})

	if err := c.transport.Emit(protocol.EventGetRooms, struct{}{}); err != nil {
		log.Error().Err(err).Msg("failed to request room listing")
	}

	go c.loop(ctx)

	log.Info().Str("user_id", c.user.ID).Msg("lobby controller started")
	return nil
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
	case roomListMsg:
		c.state.Rooms = m.rooms
		c.notify()

	case roomUpdateMsg:
		// Wholesale replace; the server owns room membership.
		room := m.room
		c.state.CurrentRoom = &room
		c.notify()

	case startGameMsg:
		log.Info().Str("room", m.roomCode).Msg("game starting, navigating to game view")
		c.nav.Navigate(route.Game{RoomCode: m.roomCode})

	case getStateMsg:
		m.reply <- c.state
	}
}

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange(c.state)
	}
}

func (c *Controller) teardown() {
	for _, event := range lobbyEvents {
		c.transport.Off(event)
	}
	log.Info().Msg("lobby controller stopped")
}

// CreateRoom asks the server to open a room owned by this player.
func (c *Controller) CreateRoom() {
	if err := c.transport.Emit(protocol.EventCreateRoom, protocol.CreateRoomRequest{
		UserID:   c.user.ID,
		Name:     c.user.Name,
		ImageURL: c.user.ImageURL,
	}); err != nil {
		log.Error().Err(err).Msg("failed to create room")
	}
}

// JoinRoom asks the server to seat this player in an open room.
func (c *Controller) JoinRoom(roomCode string) {
	if err := c.transport.Emit(protocol.EventJoinRoom, protocol.JoinRoomRequest{
		RoomCode: roomCode,
		UserID:   c.user.ID,
		Name:     c.user.Name,
		ImageURL: c.user.ImageURL,
	}); err != nil {
		log.Error().Err(err).Str("room", roomCode).Msg("failed to join room")
	}
}

// State returns a snapshot of the lobby state.
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

// Stop unbinds the lobby handlers. Idempotent.
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
