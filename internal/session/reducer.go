package session

// Apply is the state-transition table: given the current state and one
// event, it returns the next state and the side effects the caller must
// run. It touches no transport and no clock, so every sequence of inbound
// events derives the rendered phase deterministically.
//
// Unknown or inconsistent events return the state unchanged: a malformed
// payload degrades to "no visible phase change", never a crash.
func Apply(s State, ev Event) (State, []Effect) {
	next := s

	switch ev.Type {
	case EvtRoomState:
		// Resync snapshot: applied unconditionally, overwriting whatever
		// the client assumed. Last applied wins; the protocol carries no
		// sequence numbers to order a racing snapshot against fresher
		// incremental events.
		if ev.Snapshot == nil {
			return s, nil
		}
		next.Category = ev.Snapshot.Category
		next.Question = ev.Snapshot.Question
		next.Result = nil
		next.Feedback = nil
		switch Phase(ev.Snapshot.Phase) {
		case PhaseRoulette:
			if ev.Snapshot.Category == "" {
				return s, nil
			}
			next.Phase = PhaseRoulette
		case PhaseQuestion:
			if ev.Snapshot.Question == nil {
				return s, nil
			}
			next.Phase = PhaseQuestion
		default:
			next.Phase = PhaseWaiting
			next.Category = ""
			next.Question = nil
		}
		return next, nil

	case EvtStartRoulette:
		if ev.Category == "" {
			return s, nil
		}
		next.Phase = PhaseRoulette
		next.Category = ev.Category
		next.Result = nil
		next.Feedback = nil
		return next, nil

	case EvtNewQuestion:
		if ev.Question == nil {
			return s, nil
		}
		next.Phase = PhaseQuestion
		next.Question = ev.Question
		next.Feedback = nil
		return next, nil

	case EvtRoundResult:
		var kind ResultKind
		switch ev.Status {
		case "correct":
			kind = ResultCorrect
		case "eliminated":
			kind = ResultEliminated
		case "timeout":
			kind = ResultTimeout
		default:
			// Unrecognized status: render nothing for this phase.
			return s, nil
		}
		next.Phase = PhaseResult
		next.Result = &RoundResult{Kind: kind}
		next.Category = ""
		next.Feedback = nil
		if kind == ResultEliminated {
			return next, []Effect{NavigateLobbyAfter{After: EliminatedNavDelay}}
		}
		return next, nil

	case EvtGameWinner:
		if ev.Player == nil {
			return s, nil
		}
		next.Phase = PhaseResult
		next.Result = &RoundResult{Kind: ResultWinner, Player: ev.Player}
		next.Category = ""
		next.Feedback = nil
		return next, []Effect{NavigateLobbyAfter{After: GameOverNavDelay}}

	case EvtGameEnded:
		next.Phase = PhaseResult
		next.Result = &RoundResult{Kind: ResultEnded, Message: ev.Message}
		next.Category = ""
		next.Feedback = nil
		return next, []Effect{NavigateLobbyAfter{After: GameOverNavDelay}}

	case EvtRoomUpdate:
		if ev.Room == nil {
			return s, nil
		}
		// Full replace, no merge: the server owns the player list.
		next.Players = ev.Room.Players
		return next, nil

	case EvtAnswerSubmitted:
		// Local transition only: the authoritative roundResult still moves
		// the machine to Result; Feedback is advisory.
		if s.Phase != PhaseQuestion || s.Question == nil {
			return s, nil
		}
		next.Phase = PhaseFeedback
		next.Feedback = &Feedback{
			Answer:  ev.Answer,
			Correct: ev.Answer == s.Question.CorrectAnswer,
		}
		return next, nil

	default:
		return s, nil
	}
}
