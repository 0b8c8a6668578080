package session

import (
	"time"

	"github.com/quizrush/quizrush/internal/protocol"
)

// Phase is the single discriminant of what the game view currently shows.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseRoulette Phase = "roulette"
	PhaseQuestion Phase = "question"
	PhaseFeedback Phase = "feedback"
	PhaseResult   Phase = "result"
)

// ResultKind tags the round outcome variants.
type ResultKind string

const (
	ResultCorrect    ResultKind = "correct"
	ResultEliminated ResultKind = "eliminated"
	ResultTimeout    ResultKind = "timeout"
	ResultWinner     ResultKind = "winner"
	ResultEnded      ResultKind = "ended"
)

// RoundResult drives the Result phase rendering.
type RoundResult struct {
	Kind    ResultKind
	Player  *protocol.Player // set for ResultWinner
	Message string           // set for ResultEnded
}

// Feedback records the locally-computed correctness shown between answer
// submission and the authoritative round result. Advisory only.
type Feedback struct {
	Answer  string
	Correct bool
}

// State is the canonical source of truth for what the game view renders.
// Exactly one phase is active; auxiliary data is consistent with it:
// roulette implies Category is set, question/feedback imply Question is
// set, result implies Result is set.
type State struct {
	RoomCode string
	Phase    Phase
	Players  []protocol.Player
	Category string
	Question *protocol.Question
	Result   *RoundResult
	Feedback *Feedback
}

// NewState returns the initial state for a room: Waiting, the safe default
// until a resync snapshot or an incremental event says otherwise.
func NewState(roomCode string) State {
	return State{
		RoomCode: roomCode,
		Phase:    PhaseWaiting,
	}
}

// EventType discriminates reducer inputs.
type EventType string

const (
	EvtRoomState       EventType = "roomState"
	EvtStartRoulette   EventType = "startRoulette"
	EvtNewQuestion     EventType = "newQuestion"
	EvtRoundResult     EventType = "roundResult"
	EvtGameWinner      EventType = "gameWinner"
	EvtGameEnded       EventType = "gameEnded"
	EvtRoomUpdate      EventType = "roomUpdate"
	EvtAnswerSubmitted EventType = "answerSubmitted" // local, not from the wire
)

// Event is one reducer input: an inbound server event or a local
// transition. Only the field matching Type is read.
type Event struct {
	Type     EventType
	Snapshot *protocol.RoomState
	Category string
	Question *protocol.Question
	Status   string
	Player   *protocol.Player
	Message  string
	Room     *protocol.Room
	Answer   string
}

// Navigation delays after terminal results.
const (
	EliminatedNavDelay = 3 * time.Second
	GameOverNavDelay   = 5 * time.Second
)

// Effect is a side effect the controller must perform after a transition.
type Effect interface{ isEffect() }

// NavigateLobbyAfter schedules navigation back to the lobby.
type NavigateLobbyAfter struct{ After time.Duration }

func (NavigateLobbyAfter) isEffect() {}
