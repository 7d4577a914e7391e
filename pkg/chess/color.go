// Package chess defines the shared game entities: colors and the session clock.
package chess

// Color represents a side in a game.
type Color string

// The two sides of a game.
const (
	White Color = "w"
	Black Color = "b"
)

// Opp returns the opposite color.
func (c Color) Opp() Color {
	if c == White {
		return Black
	}

	return White
}

// Valid reports whether c is one of the two defined colors.
func (c Color) Valid() bool {
	return c == White || c == Black
}
