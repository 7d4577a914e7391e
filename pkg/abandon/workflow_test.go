package abandon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/ban-chess-server/pkg/chess"
	"github.com/tecu23/ban-chess-server/pkg/events"
	"github.com/tecu23/ban-chess-server/pkg/game"
	"github.com/tecu23/ban-chess-server/pkg/rules"
	"github.com/tecu23/ban-chess-server/pkg/store"
)

const (
	whiteID = "player-white"
	blackID = "player-black"
)

type fixture struct {
	store    *store.MemoryStore
	workflow *Workflow
	session  *store.Session
	advance  func(d time.Duration)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	machine := game.NewMachine(rules.NewChessOracle(), game.DefaultConfig())
	st := store.NewMemoryStore(machine, store.DefaultConfig(), events.NewPublisher(), zap.NewNop())

	now := time.Now()
	st.SetNow(func() time.Time { return now })

	session, err := st.CreateSession(store.SessionInit{
		WhitePlayerID: whiteID,
		BlackPlayerID: blackID,
		InitialClock:  chess.TimeControl{WhiteTime: 5 * 60 * 1000, BlackTime: 5 * 60 * 1000},
	})
	require.NoError(t, err)

	w := NewWorkflow(st, DefaultConfig(), zap.NewNop())

	return &fixture{
		store:    st,
		workflow: w,
		session:  session,
		advance:  func(d time.Duration) { now = now.Add(d) },
	}
}

func TestSweepProgressionActiveWarnedClaimable(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.ReportDisconnect(f.session.ID, blackID, store.TypeDisconnect))

	f.workflow.Sweep()
	assert.Equal(t, StageActive, f.workflow.Stage(f.session.ID))

	// Past the soft threshold.
	f.advance(31 * time.Second)
	f.workflow.Sweep()
	assert.Equal(t, StageWarned, f.workflow.Stage(f.session.ID))

	// Past the 120s disconnect allowance.
	f.advance(90 * time.Second)
	f.workflow.Sweep()
	assert.Equal(t, StageClaimAvailable, f.workflow.Stage(f.session.ID))

	info, ok := f.store.Abandonment(f.session.ID)
	require.True(t, ok)
	assert.True(t, info.WindowOpen)
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.ReportDisconnect(f.session.ID, blackID, store.TypeRageQuit))
	f.advance(11 * time.Second) // past the 10s rage-quit allowance

	f.workflow.Sweep()
	first, ok := f.store.Abandonment(f.session.ID)
	require.True(t, ok)

	// A second overlapping sweep must not change the accounting or reopen
	// anything.
	f.workflow.Sweep()
	second, ok := f.store.Abandonment(f.session.ID)
	require.True(t, ok)
	assert.Equal(t, first.Elapsed, second.Elapsed)
	assert.Equal(t, first.Allowance, second.Allowance)
	assert.Equal(t, StageClaimAvailable, f.workflow.Stage(f.session.ID))
}

func TestRunningBudgetAcrossEpisodes(t *testing.T) {
	f := newFixture(t)

	// Episode one: 50s, then a reconnect.
	require.NoError(t, f.store.ReportDisconnect(f.session.ID, blackID, store.TypeDisconnect))
	f.advance(50 * time.Second)
	require.NoError(t, f.store.ReportReconnect(f.session.ID, blackID))

	// Episode two only needs 70 more seconds to spend the 120s budget.
	require.NoError(t, f.store.ReportDisconnect(f.session.ID, blackID, store.TypeDisconnect))
	f.advance(69 * time.Second)
	f.workflow.Sweep()
	assert.Equal(t, StageWarned, f.workflow.Stage(f.session.ID))

	f.advance(2 * time.Second)
	f.workflow.Sweep()
	assert.Equal(t, StageClaimAvailable, f.workflow.Stage(f.session.ID))
}

func TestPriorDebtDoesNotWarnAFreshEpisode(t *testing.T) {
	f := newFixture(t)

	// 50s of debt carried from an earlier episode.
	require.NoError(t, f.store.ReportDisconnect(f.session.ID, blackID, store.TypeDisconnect))
	f.advance(50 * time.Second)
	require.NoError(t, f.store.ReportReconnect(f.session.ID, blackID))

	// A fresh episode starts clean: the warning tracks the episode, not the
	// running total.
	require.NoError(t, f.store.ReportDisconnect(f.session.ID, blackID, store.TypeDisconnect))
	f.workflow.Sweep()
	assert.Equal(t, StageActive, f.workflow.Stage(f.session.ID))

	f.advance(31 * time.Second)
	f.workflow.Sweep()
	assert.Equal(t, StageWarned, f.workflow.Stage(f.session.ID))
}

func TestClaimVictoryResolves(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.ReportDisconnect(f.session.ID, blackID, store.TypeRageQuit))
	f.advance(11 * time.Second)
	f.workflow.Sweep()

	snap, err := f.workflow.Claim(f.session.ID, whiteID, store.ClaimVictory)
	require.NoError(t, err)
	assert.Equal(t, "1-0", snap.Result)
	assert.Equal(t, StageResolved, f.workflow.Stage(f.session.ID))

	// The latch holds against a second claim.
	_, err = f.workflow.Claim(f.session.ID, whiteID, store.ClaimDraw)
	assert.ErrorIs(t, err, store.ErrClaimConflict)
}

func TestClaimWaitReturnsToActive(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.ReportDisconnect(f.session.ID, blackID, store.TypeRageQuit))
	f.advance(11 * time.Second)
	f.workflow.Sweep()
	require.Equal(t, StageClaimAvailable, f.workflow.Stage(f.session.ID))

	_, err := f.workflow.Claim(f.session.ID, whiteID, store.ClaimWait)
	require.NoError(t, err)
	assert.Equal(t, StageActive, f.workflow.Stage(f.session.ID))

	// 11s elapsed against 10s + 60s extension: not claimable again yet.
	f.workflow.Sweep()
	assert.NotEqual(t, StageClaimAvailable, f.workflow.Stage(f.session.ID))

	// Spend the extension too.
	f.advance(60 * time.Second)
	f.workflow.Sweep()
	assert.Equal(t, StageClaimAvailable, f.workflow.Stage(f.session.ID))
}

func TestReconnectReturnsSweepToActive(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.ReportDisconnect(f.session.ID, blackID, store.TypeDisconnect))
	f.advance(40 * time.Second)
	f.workflow.Sweep()
	require.Equal(t, StageWarned, f.workflow.Stage(f.session.ID))

	require.NoError(t, f.store.ReportReconnect(f.session.ID, blackID))
	f.workflow.Sweep()
	assert.Equal(t, StageActive, f.workflow.Stage(f.session.ID))
}
