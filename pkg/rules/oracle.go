// Package rules wraps the piece-movement legality engine behind an Oracle
// interface so the state machine can be constructed against a capability
// instead of reaching for a lazily loaded engine.
package rules

import (
	"errors"
	"fmt"

	chesslib "github.com/corentings/chess/v2"

	"github.com/tecu23/ban-chess-server/pkg/chess"
)

// StartFEN is the standard starting position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// ErrIllegalMove is returned when a move is not legal in the given position.
var ErrIllegalMove = errors.New("illegal move")

// Outcome is the terminal status of a position.
type Outcome string

// Possible outcomes of a position.
const (
	OutcomeOngoing  Outcome = "*"
	OutcomeWhiteWon Outcome = "1-0"
	OutcomeBlackWon Outcome = "0-1"
	OutcomeDraw     Outcome = "1/2-1/2"
)

// Position is the oracle's view of a board after a move was applied.
type Position struct {
	FEN     string
	Turn    chess.Color
	Outcome Outcome
	Method  string // "checkmate", "stalemate", ... empty while ongoing
}

// Oracle answers piece-movement legality questions for a board encoding.
// Implementations must be safe for concurrent use.
type Oracle interface {
	// LegalMoves returns every legal move for the side to move in fen.
	LegalMoves(fen string) ([]Move, error)
	// ApplyMove applies mv to fen and returns the resulting position,
	// including its terminal status.
	ApplyMove(fen string, mv Move) (Position, error)
}

// ChessOracle implements Oracle on top of corentings/chess.
type ChessOracle struct{}

// NewChessOracle returns an oracle for standard chess legality.
func NewChessOracle() *ChessOracle {
	return &ChessOracle{}
}

// LegalMoves returns every legal move for the side to move in fen.
func (o *ChessOracle) LegalMoves(fen string) ([]Move, error) {
	g, err := gameFromFEN(fen)
	if err != nil {
		return nil, err
	}

	valid := g.ValidMoves()
	moves := make([]Move, 0, len(valid))
	for _, m := range valid {
		mv, err := ParseUCI(m.String())
		if err != nil {
			return nil, fmt.Errorf("oracle produced unparseable move %q: %w", m.String(), err)
		}
		moves = append(moves, mv)
	}

	return moves, nil
}

// ApplyMove applies mv to fen and returns the resulting position.
func (o *ChessOracle) ApplyMove(fen string, mv Move) (Position, error) {
	g, err := gameFromFEN(fen)
	if err != nil {
		return Position{}, err
	}

	if err := g.PushNotationMove(mv.UCI(), chesslib.UCINotation{}, nil); err != nil {
		return Position{}, fmt.Errorf("%w: %s", ErrIllegalMove, mv.UCI())
	}

	pos := Position{
		FEN:     g.FEN(),
		Outcome: OutcomeOngoing,
	}

	if g.Position().Turn() == chesslib.White {
		pos.Turn = chess.White
	} else {
		pos.Turn = chess.Black
	}

	switch g.Outcome() {
	case chesslib.WhiteWon:
		pos.Outcome = OutcomeWhiteWon
	case chesslib.BlackWon:
		pos.Outcome = OutcomeBlackWon
	case chesslib.Draw:
		pos.Outcome = OutcomeDraw
	}

	switch g.Method() {
	case chesslib.Checkmate:
		pos.Method = "checkmate"
	case chesslib.Stalemate:
		pos.Method = "stalemate"
	case chesslib.InsufficientMaterial:
		pos.Method = "insufficient_material"
	case chesslib.FiftyMoveRule:
		pos.Method = "fifty_move_rule"
	case chesslib.ThreefoldRepetition:
		pos.Method = "threefold_repetition"
	}

	return pos, nil
}

func gameFromFEN(fen string) (*chesslib.Game, error) {
	if fen == "" || fen == "startpos" || fen == StartFEN {
		return chesslib.NewGame(), nil
	}

	opt, err := chesslib.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}

	return chesslib.NewGame(opt), nil
}
