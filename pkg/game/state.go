// Package game owns the ban/move alternation: which side acts, what the legal
// actions are, and when the game ends. Piece legality itself is delegated to
// the rules oracle.
package game

import (
	"github.com/tecu23/ban-chess-server/pkg/chess"
	"github.com/tecu23/ban-chess-server/pkg/rules"
)

// Phase is the current step of the ban/move cycle.
type Phase string

// The three phases a game can be in. Every cycle is a ban followed by a move:
// the side not about to move bans one candidate, then the mover moves.
const (
	PhaseAwaitingBan  Phase = "awaiting_ban"
	PhaseAwaitingMove Phase = "awaiting_move"
	PhaseTerminal     Phase = "terminal"
)

// ActionKind distinguishes the two action types.
type ActionKind string

// The two kinds of actions.
const (
	KindBan  ActionKind = "ban"
	KindMove ActionKind = "move"
)

// Action is a single ply: a ban or a move.
type Action struct {
	Kind ActionKind `json:"kind"`
	Move rules.Move `json:"move"`
}

// GameState is the complete game position between actions.
type GameState struct {
	BoardFEN       string      `json:"board_fen"`
	PendingBan     *rules.Move `json:"pending_ban,omitempty"`
	TurnColor      chess.Color `json:"turn_color"`
	Phase          Phase       `json:"phase"`
	TerminalReason string      `json:"terminal_reason,omitempty"`
	Winner         chess.Color `json:"winner,omitempty"` // empty for draws and ongoing games

	// ActionCount counts plies (bans and moves); MoveCount counts moves only.
	ActionCount int `json:"action_count"`
	MoveCount   int `json:"move_count"`
}

// NewGameState returns the initial state for a session. White moves first, so
// the opening action is Black's ban.
func NewGameState(fen string) GameState {
	if fen == "" || fen == "startpos" {
		fen = rules.StartFEN
	}

	return GameState{
		BoardFEN:  fen,
		TurnColor: chess.White,
		Phase:     PhaseAwaitingBan,
	}
}

// ActorColor returns the side expected to act in the current phase. During
// awaiting_ban the opponent of the side to move acts; during awaiting_move
// the side to move acts.
func (s GameState) ActorColor() chess.Color {
	if s.Phase == PhaseAwaitingBan {
		return s.TurnColor.Opp()
	}
	return s.TurnColor
}

// Terminal reports whether the game is over.
func (s GameState) Terminal() bool {
	return s.Phase == PhaseTerminal
}

// clone returns a deep copy so Apply never aliases the caller's state.
func (s GameState) clone() GameState {
	out := s
	if s.PendingBan != nil {
		ban := *s.PendingBan
		out.PendingBan = &ban
	}
	return out
}
