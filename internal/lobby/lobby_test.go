package lobby

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/quizrush/quizrush/internal/identity"
	"github.com/quizrush/quizrush/internal/protocol"
	"github.com/quizrush/quizrush/internal/route"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

type emitted struct {
	event string
	data  json.RawMessage
}

type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]func(json.RawMessage)
	emits    []emitted
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func(json.RawMessage))}
}

func (f *fakeTransport) On(event string, handler func(json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = handler
}

func (f *fakeTransport) Off(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, event)
}

func (f *fakeTransport) Emit(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitted{event: event, data: data})
	return nil
}

func (f *fakeTransport) push(t *testing.T, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal push payload: %v", err)
	}
	f.mu.Lock()
	handler := f.handlers[event]
	f.mu.Unlock()
	if handler == nil {
		t.Fatalf("no handler bound for %s", event)
	}
	handler(data)
}

func (f *fakeTransport) emitted(event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.emits {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeTransport) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

type fakeNavigator struct {
	mu     sync.Mutex
	routes []route.Route
}

func (n *fakeNavigator) Navigate(r route.Route) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, r)
}

func (n *fakeNavigator) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.routes)
}

func (n *fakeNavigator) last() route.Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.routes) == 0 {
		return nil
	}
	return n.routes[len(n.routes)-1]
}

var testUser = identity.User{ID: "u1", Name: "Ana", ImageURL: "https://example.com/ana.png"}

func startLobby(t *testing.T) (*Controller, *fakeTransport, *fakeNavigator) {
	t.Helper()
	ft := newFakeTransport()
	nav := &fakeNavigator{}
	c := New(ft, nav, testUser, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start lobby: %v", err)
	}
	t.Cleanup(c.Stop)
	return c, ft, nav
}

func TestLobby_RequestsRoomListingOnStart(t *testing.T) {
	_, ft, _ := startLobby(t)

	if got := len(ft.emitted(protocol.EventGetRooms)); got != 1 {
		t.Fatalf("want one room listing request, got %d", got)
	}
}

func TestLobby_RoomListReplacesListing(t *testing.T) {
	c, ft, _ := startLobby(t)

	ft.push(t, protocol.EventRoomList, []protocol.Room{
		{RoomCode: "AAA1", Players: []protocol.Player{{UserID: "u2", Name: "Luis"}}},
		{RoomCode: "BBB2"},
	})
	waitFor(t, func() bool { return len(c.State().Rooms) == 2 }, "room listing")

	ft.push(t, protocol.EventRoomList, []protocol.Room{{RoomCode: "CCC3"}})
	waitFor(t, func() bool {
		rooms := c.State().Rooms
		return len(rooms) == 1 && rooms[0].RoomCode == "CCC3"
	}, "replaced room listing")
}

func TestLobby_RoomUpdateTracksCurrentRoom(t *testing.T) {
	c, ft, _ := startLobby(t)

	if c.State().CurrentRoom != nil {
		t.Fatal("no current room before joining")
	}

	ft.push(t, protocol.EventRoomUpdate, protocol.Room{
		RoomCode: "AAA1",
		Players:  []protocol.Player{{UserID: "u1", Name: "Ana", Status: protocol.PlayerAlive}},
	})
	waitFor(t, func() bool {
		room := c.State().CurrentRoom
		return room != nil && room.RoomCode == "AAA1" && len(room.Players) == 1
	}, "current room")
}

func TestLobby_StartGameNavigatesToGameView(t *testing.T) {
	_, ft, nav := startLobby(t)

	ft.push(t, protocol.EventStartGame, protocol.StartGame{RoomCode: "AAA1"})
	waitFor(t, func() bool { return nav.count() == 1 }, "game navigation")

	game, ok := nav.last().(route.Game)
	if !ok {
		t.Fatalf("want game route, got %T", nav.last())
	}
	if game.RoomCode != "AAA1" {
		t.Fatalf("want AAA1, got %q", game.RoomCode)
	}

	// A start event with no room code is meaningless and must be dropped.
	ft.push(t, protocol.EventStartGame, protocol.StartGame{})
	time.Sleep(10 * time.Millisecond)
	if got := nav.count(); got != 1 {
		t.Fatalf("navigated on empty room code: %d", got)
	}
}

func TestLobby_CreateAndJoinCarryIdentity(t *testing.T) {
	c, ft, _ := startLobby(t)

	c.CreateRoom()
	creates := ft.emitted(protocol.EventCreateRoom)
	if len(creates) != 1 {
		t.Fatalf("want one create emit, got %d", len(creates))
	}
	var create protocol.CreateRoomRequest
	if err := json.Unmarshal(creates[0].data, &create); err != nil {
		t.Fatalf("unmarshal create: %v", err)
	}
	if create.UserID != "u1" || create.Name != "Ana" || create.ImageURL != testUser.ImageURL {
		t.Fatalf("create payload incomplete: %+v", create)
	}

	c.JoinRoom("AAA1")
	joins := ft.emitted(protocol.EventJoinRoom)
	if len(joins) != 1 {
		t.Fatalf("want one join emit, got %d", len(joins))
	}
	var join protocol.JoinRoomRequest
	if err := json.Unmarshal(joins[0].data, &join); err != nil {
		t.Fatalf("unmarshal join: %v", err)
	}
	if join.RoomCode != "AAA1" || join.UserID != "u1" || join.Name != "Ana" {
		t.Fatalf("join payload incomplete: %+v", join)
	}
}

func TestLobby_StopUnbindsHandlers(t *testing.T) {
	ft := newFakeTransport()
	nav := &fakeNavigator{}
	c := New(ft, nav, testUser, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := ft.handlerCount(); got != len(lobbyEvents) {
		t.Fatalf("want %d bindings, got %d", len(lobbyEvents), got)
	}

	c.Stop()
	if got := ft.handlerCount(); got != 0 {
		t.Fatalf("teardown left %d bindings", got)
	}
	c.Stop()

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("want error restarting a used controller")
	}
}

func TestLobby_MalformedPayloadsAreDropped(t *testing.T) {
	c, ft, nav := startLobby(t)

	ft.mu.Lock()
	listHandler := ft.handlers[protocol.EventRoomList]
	startHandler := ft.handlers[protocol.EventStartGame]
	ft.mu.Unlock()

	listHandler(json.RawMessage(`{not json`))
	startHandler(json.RawMessage(`[]`))

	time.Sleep(10 * time.Millisecond)
	if got := len(c.State().Rooms); got != 0 {
		t.Fatalf("malformed listing applied: %d rooms", got)
	}
	if got := nav.count(); got != 0 {
		t.Fatalf("malformed start event navigated: %d", got)
	}
}
