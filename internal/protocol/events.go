package protocol

import (
	"encoding/json"
	"fmt"
)

// Event names sent by the client.
const (
	EventGetRoomState     = "getRoomState"
	EventCreateRoom       = "createRoom"
	EventJoinRoom         = "joinRoom"
	EventGetRooms         = "getRooms"
	EventRouletteFinished = "rouletteFinished"
	EventAnswerQuestion   = "answerQuestion"
)

// Event names pushed by the server.
const (
	EventRoomState     = "roomState"
	EventRoomList      = "roomList"
	EventRoomUpdate    = "roomUpdate"
	EventStartGame     = "startGame"
	EventStartRoulette = "startRoulette"
	EventNewQuestion   = "newQuestion"
	EventRoundResult   = "roundResult"
	EventGameWinner    = "gameWinner"
	EventGameEnded     = "gameEnded"
)

// Round result statuses carried by roundResult events.
const (
	StatusCorrect    = "correct"
	StatusEliminated = "eliminated"
	StatusTimeout    = "timeout"
)

// Player statuses carried in room updates.
const (
	PlayerAlive      = "alive"
	PlayerEliminated = "eliminated"
)

// Envelope is the wire framing for every message: one JSON object per
// websocket text frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Player is the server-owned view of a room member. The client never
// mutates it; room updates replace the whole list.
type Player struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
	Status   string `json:"status"`
}

// Room is a full room snapshot, rebuilt wholesale on every roomUpdate.
type Room struct {
	RoomCode   string   `json:"roomCode"`
	Players    []Player `json:"players"`
	MaxPlayers int      `json:"maxPlayers,omitempty"`
}

// Question is immutable for the lifetime of one question/feedback cycle.
type Question struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	TimeLimit     int      `json:"timeLimit"`
}

// RoomState is the resync snapshot returned for a getRoomState request.
type RoomState struct {
	Phase    string    `json:"phase"`
	Category string    `json:"category,omitempty"`
	Question *Question `json:"question,omitempty"`
}

// RoundResult reports the outcome of the player's round.
type RoundResult struct {
	Status string `json:"status"`
}

// GameEnded carries the server's closing message.
type GameEnded struct {
	Message string `json:"message"`
}

// StartGame tells lobby clients which room is starting.
type StartGame struct {
	RoomCode string `json:"roomCode"`
}

// Outbound request payloads.

type GetRoomStateRequest struct {
	RoomCode string `json:"roomCode"`
}

type CreateRoomRequest struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type JoinRoomRequest struct {
	RoomCode string `json:"roomCode"`
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type RouletteFinishedRequest struct {
	RoomCode string `json:"roomCode"`
	Category string `json:"category"`
}

type AnswerQuestionRequest struct {
	RoomCode string `json:"roomCode"`
	Answer   string `json:"answer"`
	UserID   string `json:"userId"`
	Name     string `json:"name"`
}

// Encode wraps an event name and payload into a wire frame.
func Encode(event string, payload interface{}) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = data
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return frame, nil
}

// Decode parses a wire frame into its envelope.
func Decode(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("envelope missing event name")
	}
	return &env, nil
}

// ParseInbound decodes a server event's raw payload into its typed struct.
// Unknown event names return (nil, nil) so callers can ignore them without
// treating them as failures.
func ParseInbound(event string, data json.RawMessage) (interface{}, error) {
	switch event {
	case EventRoomState:
		var payload RoomState
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventRoomList:
		var payload []Room
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventRoomUpdate:
		var payload Room
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventStartGame:
		var payload StartGame
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventStartRoulette:
		// The category travels as a bare JSON string.
		var category string
		if err := json.Unmarshal(data, &category); err != nil {
			return nil, err
		}
		return category, nil

	case EventNewQuestion:
		var payload Question
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventRoundResult:
		var payload RoundResult
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventGameWinner:
		var payload Player
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventGameEnded:
		var payload GameEnded
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
