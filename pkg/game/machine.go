package game

import (
	"fmt"

	"github.com/tecu23/ban-chess-server/pkg/chess"
	"github.com/tecu23/ban-chess-server/pkg/rules"
)

// ValidationError reports an action that is illegal for the current phase or
// position. It is a normal, user-visible outcome, not a fault.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validation error codes.
const (
	CodeGameOver      = "game_over"
	CodeWrongPhase    = "wrong_phase"
	CodeIllegalAction = "illegal_action"
)

// Config holds the variant rules that are deliberately configurable.
type Config struct {
	// BanExhaustionEnds terminates the game immediately when a ban leaves
	// the side to move with no legal move. The banning side wins. When
	// disabled the game simply stays in awaiting_move.
	BanExhaustionEnds bool
}

// DefaultConfig enables the ban-exhaustion rule.
func DefaultConfig() Config {
	return Config{BanExhaustionEnds: true}
}

// Machine computes legal actions and applies them. It holds no game state of
// its own; a single machine serves every session.
type Machine struct {
	oracle rules.Oracle
	cfg    Config
}

// NewMachine builds a machine around an injected rules oracle.
func NewMachine(oracle rules.Oracle, cfg Config) *Machine {
	return &Machine{oracle: oracle, cfg: cfg}
}

// LegalActions returns every action available in the current phase. During
// awaiting_ban these are the mover's candidate moves framed as bans for the
// opponent to choose from; during awaiting_move they are the same moves with
// the pending ban removed.
func (m *Machine) LegalActions(s GameState) ([]Action, error) {
	if s.Terminal() {
		return nil, nil
	}

	moves, err := m.oracle.LegalMoves(s.BoardFEN)
	if err != nil {
		return nil, fmt.Errorf("legal moves: %w", err)
	}

	kind := KindBan
	if s.Phase == PhaseAwaitingMove {
		kind = KindMove
	}

	actions := make([]Action, 0, len(moves))
	for _, mv := range moves {
		if kind == KindMove && s.PendingBan != nil && mv.Equal(*s.PendingBan) {
			continue
		}
		actions = append(actions, Action{Kind: kind, Move: mv})
	}

	return actions, nil
}

// Apply validates the action against the current phase and legal set and
// returns the successor state. The input state is never mutated; on error it
// is returned unchanged alongside the ValidationError.
func (m *Machine) Apply(s GameState, a Action) (GameState, error) {
	if s.Terminal() {
		return s, &ValidationError{Code: CodeGameOver, Message: "game is already over"}
	}

	switch {
	case s.Phase == PhaseAwaitingBan && a.Kind != KindBan:
		return s, &ValidationError{Code: CodeWrongPhase, Message: "a ban is expected"}
	case s.Phase == PhaseAwaitingMove && a.Kind != KindMove:
		return s, &ValidationError{Code: CodeWrongPhase, Message: "a move is expected"}
	}

	legal, err := m.LegalActions(s)
	if err != nil {
		return s, err
	}

	found := false
	for _, cand := range legal {
		if cand.Move.Equal(a.Move) {
			found = true
			break
		}
	}
	if !found {
		return s, &ValidationError{
			Code:    CodeIllegalAction,
			Message: fmt.Sprintf("%s %s is not legal here", a.Kind, a.Move.UCI()),
		}
	}

	if a.Kind == KindBan {
		return m.applyBan(s, a)
	}
	return m.applyMove(s, a)
}

// applyBan records the ban and hands the turn step to the mover. The turn
// owner does not change; banning is the opponent's half of the mover's turn.
func (m *Machine) applyBan(s GameState, a Action) (GameState, error) {
	next := s.clone()
	ban := a.Move
	next.PendingBan = &ban
	next.Phase = PhaseAwaitingMove
	next.ActionCount++

	if m.cfg.BanExhaustionEnds {
		remaining, err := m.LegalActions(next)
		if err != nil {
			return s, err
		}
		if len(remaining) == 0 {
			next.PendingBan = nil
			next.Phase = PhaseTerminal
			next.TerminalReason = "ban_exhaustion"
			next.Winner = next.TurnColor.Opp()
		}
	}

	return next, nil
}

func (m *Machine) applyMove(s GameState, a Action) (GameState, error) {
	pos, err := m.oracle.ApplyMove(s.BoardFEN, a.Move)
	if err != nil {
		return s, &ValidationError{
			Code:    CodeIllegalAction,
			Message: fmt.Sprintf("move %s rejected: %v", a.Move.UCI(), err),
		}
	}

	next := s.clone()
	next.BoardFEN = pos.FEN
	next.PendingBan = nil
	next.ActionCount++
	next.MoveCount++

	if pos.Outcome != rules.OutcomeOngoing {
		next.Phase = PhaseTerminal
		next.TerminalReason = pos.Method
		switch pos.Outcome {
		case rules.OutcomeWhiteWon:
			next.Winner = chess.White
		case rules.OutcomeBlackWon:
			next.Winner = chess.Black
		}
		return next, nil
	}

	next.TurnColor = s.TurnColor.Opp()
	next.Phase = PhaseAwaitingBan
	return next, nil
}
