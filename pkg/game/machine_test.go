package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tecu23/ban-chess-server/pkg/chess"
	"github.com/tecu23/ban-chess-server/pkg/rules"
)

// onlyMoveFEN is a position where Black's single legal move is a7a6: the king
// is boxed in by the white king and the a-pawn can only step once.
const onlyMoveFEN = "k7/p1K5/8/P7/8/8/8/8 b - - 0 1"

func newTestMachine(cfg Config) *Machine {
	return NewMachine(rules.NewChessOracle(), cfg)
}

func mustMove(t *testing.T, uci string) rules.Move {
	t.Helper()
	mv, err := rules.ParseUCI(uci)
	require.NoError(t, err)
	return mv
}

func ban(t *testing.T, uci string) Action {
	t.Helper()
	return Action{Kind: KindBan, Move: mustMove(t, uci)}
}

func move(t *testing.T, uci string) Action {
	t.Helper()
	return Action{Kind: KindMove, Move: mustMove(t, uci)}
}

func containsMove(actions []Action, uci string) bool {
	for _, a := range actions {
		if a.Move.UCI() == uci {
			return true
		}
	}
	return false
}

func TestNewGameStateOpensWithBlackBan(t *testing.T) {
	s := NewGameState("")

	assert.Equal(t, PhaseAwaitingBan, s.Phase)
	assert.Equal(t, chess.White, s.TurnColor)
	assert.Equal(t, chess.Black, s.ActorColor(), "the side not about to move bans first")
	assert.Nil(t, s.PendingBan)
}

func TestLegalActionsKindFollowsPhase(t *testing.T) {
	m := newTestMachine(DefaultConfig())
	s := NewGameState("")

	bans, err := m.LegalActions(s)
	require.NoError(t, err)
	require.Len(t, bans, 20, "20 candidate bans from the starting position")
	for _, a := range bans {
		assert.Equal(t, KindBan, a.Kind)
	}

	s, err = m.Apply(s, ban(t, "e2e4"))
	require.NoError(t, err)

	moves, err := m.LegalActions(s)
	require.NoError(t, err)
	require.Len(t, moves, 19, "the banned move is removed")
	for _, a := range moves {
		assert.Equal(t, KindMove, a.Kind)
	}
	assert.False(t, containsMove(moves, "e2e4"))
}

func TestBanThenMoveScenario(t *testing.T) {
	m := newTestMachine(DefaultConfig())
	s := NewGameState("")

	// Black bans e2->e4.
	s, err := m.Apply(s, ban(t, "e2e4"))
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingMove, s.Phase)
	require.NotNil(t, s.PendingBan)
	assert.Equal(t, "e2e4", s.PendingBan.UCI())
	assert.Equal(t, chess.White, s.TurnColor, "banning never changes the turn owner")

	legal, err := m.LegalActions(s)
	require.NoError(t, err)
	assert.False(t, containsMove(legal, "e2e4"))
	assert.True(t, containsMove(legal, "d2d4"))

	// White plays d2->d4.
	s, err = m.Apply(s, move(t, "d2d4"))
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingBan, s.Phase)
	assert.Nil(t, s.PendingBan)
	assert.Equal(t, chess.Black, s.TurnColor)
	assert.Equal(t, 2, s.ActionCount)
	assert.Equal(t, 1, s.MoveCount)
}

func TestApplyRejections(t *testing.T) {
	m := newTestMachine(DefaultConfig())

	cases := []struct {
		name   string
		action Action
		code   string
	}{
		{name: "move during awaiting_ban", action: move(t, "e2e4"), code: CodeWrongPhase},
		{name: "ban of an illegal move", action: ban(t, "e2e5"), code: CodeIllegalAction},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewGameState("")
			got, err := m.Apply(s, tc.action)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.code, verr.Code)
			assert.Equal(t, s, got, "no partial mutation on failure")
		})
	}
}

func TestBannedMoveCannotBePlayed(t *testing.T) {
	m := newTestMachine(DefaultConfig())
	s := NewGameState("")

	s, err := m.Apply(s, ban(t, "g2g4"))
	require.NoError(t, err)

	_, err = m.Apply(s, move(t, "g2g4"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeIllegalAction, verr.Code)
}

func TestCheckmateTerminatesWithWinner(t *testing.T) {
	m := newTestMachine(DefaultConfig())
	s := NewGameState("")

	// Fool's mate with a harmless ban before every move.
	plies := []Action{
		ban(t, "a2a3"), move(t, "f2f3"),
		ban(t, "a7a6"), move(t, "e7e5"),
		ban(t, "b2b3"), move(t, "g2g4"),
		ban(t, "h7h6"), move(t, "d8h4"),
	}

	var err error
	for _, a := range plies {
		s, err = m.Apply(s, a)
		require.NoError(t, err, "ply %s %s", a.Kind, a.Move.UCI())
	}

	assert.Equal(t, PhaseTerminal, s.Phase)
	assert.Equal(t, "checkmate", s.TerminalReason)
	assert.Equal(t, chess.Black, s.Winner)
	assert.Nil(t, s.PendingBan)

	legal, err := m.LegalActions(s)
	require.NoError(t, err)
	assert.Empty(t, legal)

	_, err = m.Apply(s, ban(t, "a2a3"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeGameOver, verr.Code)
}

func TestBanExhaustionRule(t *testing.T) {
	state := GameState{
		BoardFEN:  onlyMoveFEN,
		TurnColor: chess.Black,
		Phase:     PhaseAwaitingBan,
	}

	t.Run("enabled", func(t *testing.T) {
		m := newTestMachine(Config{BanExhaustionEnds: true})

		legal, err := m.LegalActions(state)
		require.NoError(t, err)
		require.Len(t, legal, 1, "position must have exactly one legal move")
		require.Equal(t, "a7a6", legal[0].Move.UCI())

		s, err := m.Apply(state, ban(t, "a7a6"))
		require.NoError(t, err)
		assert.Equal(t, PhaseTerminal, s.Phase)
		assert.Equal(t, "ban_exhaustion", s.TerminalReason)
		assert.Equal(t, chess.White, s.Winner)
	})

	t.Run("disabled", func(t *testing.T) {
		m := newTestMachine(Config{BanExhaustionEnds: false})

		s, err := m.Apply(state, ban(t, "a7a6"))
		require.NoError(t, err)
		assert.Equal(t, PhaseAwaitingMove, s.Phase)

		legal, err := m.LegalActions(s)
		require.NoError(t, err)
		assert.Empty(t, legal)
	})
}
