package route

// Route identifies a client view.
type Route interface{ isRoute() }

// Lobby is the room-listing view.
type Lobby struct{}

// Game is the in-game view for one room.
type Game struct{ RoomCode string }

func (Lobby) isRoute() {}
func (Game) isRoute()  {}

// Navigator switches the active view. Implemented by the host application;
// controllers only propose navigation, they never render.
type Navigator interface {
	Navigate(r Route)
}
