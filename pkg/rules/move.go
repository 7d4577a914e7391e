package rules

import (
	"errors"
	"fmt"
)

// ErrBadMoveEncoding is returned when a UCI move string cannot be parsed.
var ErrBadMoveEncoding = errors.New("bad move encoding")

// Move is a single piece move in coordinate form.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// UCI returns the move in UCI coordinate notation, e.g. "e2e4" or "e7e8q".
func (m Move) UCI() string {
	return m.From + m.To + m.Promotion
}

// Equal reports whether two moves denote the same action.
func (m Move) Equal(other Move) bool {
	return m.From == other.From && m.To == other.To && m.Promotion == other.Promotion
}

// ParseUCI parses a move in UCI coordinate notation.
func ParseUCI(s string) (Move, error) {
	if len(s) != 4 && len(s) != 5 {
		return Move{}, fmt.Errorf("%w: %q", ErrBadMoveEncoding, s)
	}

	if !validSquare(s[0:2]) || !validSquare(s[2:4]) {
		return Move{}, fmt.Errorf("%w: %q", ErrBadMoveEncoding, s)
	}

	mv := Move{From: s[0:2], To: s[2:4]}
	if len(s) == 5 {
		switch s[4] {
		case 'q', 'r', 'b', 'n':
			mv.Promotion = s[4:5]
		default:
			return Move{}, fmt.Errorf("%w: %q", ErrBadMoveEncoding, s)
		}
	}

	return mv, nil
}

func validSquare(sq string) bool {
	return sq[0] >= 'a' && sq[0] <= 'h' && sq[1] >= '1' && sq[1] <= '8'
}
