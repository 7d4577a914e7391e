package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/ban-chess-server/pkg/abandon"
	"github.com/tecu23/ban-chess-server/pkg/events"
	"github.com/tecu23/ban-chess-server/pkg/game"
	"github.com/tecu23/ban-chess-server/pkg/messages"
	"github.com/tecu23/ban-chess-server/pkg/presence"
	"github.com/tecu23/ban-chess-server/pkg/rules"
	"github.com/tecu23/ban-chess-server/pkg/store"
)

const (
	whiteID = "player-white"
	blackID = "player-black"
)

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func newTestHub(t *testing.T) (*Hub, *store.MemoryStore) {
	t.Helper()

	machine := game.NewMachine(rules.NewChessOracle(), game.DefaultConfig())
	pub := events.NewPublisher()
	st := store.NewMemoryStore(machine, store.DefaultConfig(), pub, zap.NewNop())
	wf := abandon.NewWorkflow(st, abandon.DefaultConfig(), zap.NewNop())

	return NewHub(st, wf, pub, presence.DefaultConfig(), presence.DefaultClassifier{}, zap.NewNop()), st
}

func recv(t *testing.T, conn *Connection) envelope {
	t.Helper()

	select {
	case raw := <-conn.send:
		var env envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("no outbound message")
		return envelope{}
	}
}

func recvEvent(t *testing.T, conn *Connection, event string) envelope {
	t.Helper()

	deadline := time.After(time.Second)
	for {
		select {
		case raw := <-conn.send:
			var env envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("no %s message", event)
			return envelope{}
		}
	}
}

func mustParse(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func rawPayload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func createSession(t *testing.T, h *Hub, conn *Connection) string {
	t.Helper()

	h.handleSessionInit(conn, rawPayload(t, messages.SessionInitPayload{
		WhitePlayerID: whiteID,
		BlackPlayerID: blackID,
		InitialClock:  messages.TimeControlPayload{WhiteTime: 5 * 60 * 1000, BlackTime: 5 * 60 * 1000},
	}))

	env := recv(t, conn)
	require.Equal(t, messages.EventSessionCreated, env.Event)

	var created messages.SessionCreatedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &created))
	return created.SessionID
}

func TestSessionInitCreatesSession(t *testing.T) {
	h, _ := newTestHub(t)
	conn := NewConnection(nil, h, zap.NewNop())

	h.handleSessionInit(conn, rawPayload(t, messages.SessionInitPayload{
		WhitePlayerID: whiteID,
		BlackPlayerID: blackID,
		InitialClock:  messages.TimeControlPayload{WhiteTime: 60000, BlackTime: 60000},
	}))

	env := recv(t, conn)
	require.Equal(t, messages.EventSessionCreated, env.Event)

	var created messages.SessionCreatedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &created))
	assert.NotEmpty(t, created.SessionID)
	assert.Equal(t, "w", string(created.CurrentTurn))
}

func TestJoinUnknownSessionIsAnError(t *testing.T) {
	h, _ := newTestHub(t)
	conn := NewConnection(nil, h, zap.NewNop())

	h.handleJoinSession(conn, rawPayload(t, messages.JoinSessionPayload{
		SessionID: "0b2a9f4e-0000-0000-0000-000000000000",
		PlayerID:  whiteID,
	}))

	env := recv(t, conn)
	assert.Equal(t, messages.EventError, env.Event)
}

func TestBanThenMoveThroughHub(t *testing.T) {
	h, _ := newTestHub(t)
	conn := NewConnection(nil, h, zap.NewNop())
	sessionID := createSession(t, h, conn)

	// Black bans first.
	h.handleAction(conn, rawPayload(t, messages.ActionPayload{
		SessionID:   sessionID,
		PlayerID:    blackID,
		From:        "e2",
		To:          "e4",
		ExpectedPly: 0,
	}), game.KindBan)

	env := recv(t, conn)
	require.Equal(t, messages.EventGameState, env.Event)

	var snap messages.SnapshotPayload
	require.NoError(t, json.Unmarshal(env.Payload, &snap))
	assert.Equal(t, 1, snap.HistoryLength)
	assert.Equal(t, game.PhaseAwaitingMove, snap.Phase)
	require.NotNil(t, snap.PendingBan)
	assert.Equal(t, "e2", snap.PendingBan.From)

	// White moves around the ban.
	h.handleAction(conn, rawPayload(t, messages.ActionPayload{
		SessionID:   sessionID,
		PlayerID:    whiteID,
		From:        "d2",
		To:          "d4",
		ExpectedPly: 1,
	}), game.KindMove)

	env = recv(t, conn)
	require.Equal(t, messages.EventGameState, env.Event)
	require.NoError(t, json.Unmarshal(env.Payload, &snap))
	assert.Equal(t, 2, snap.HistoryLength)
	assert.Equal(t, game.PhaseAwaitingBan, snap.Phase)
	assert.Nil(t, snap.PendingBan)
}

func TestStaleActionGetsConflictAndSnapshot(t *testing.T) {
	h, _ := newTestHub(t)
	conn := NewConnection(nil, h, zap.NewNop())
	sessionID := createSession(t, h, conn)

	h.handleAction(conn, rawPayload(t, messages.ActionPayload{
		SessionID:   sessionID,
		PlayerID:    blackID,
		From:        "e2",
		To:          "e4",
		ExpectedPly: 0,
	}), game.KindBan)
	recv(t, conn)

	// A second submission against ply 0 is stale.
	h.handleAction(conn, rawPayload(t, messages.ActionPayload{
		SessionID:   sessionID,
		PlayerID:    blackID,
		From:        "d2",
		To:          "d4",
		ExpectedPly: 0,
	}), game.KindBan)

	env := recv(t, conn)
	require.Equal(t, messages.EventError, env.Event)

	var perr messages.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &perr))
	assert.Equal(t, "conflict", perr.Code)
	assert.Equal(t, "action no longer legal", perr.Message)

	// The conflict reply is followed by a fresh snapshot to rebase on.
	env = recv(t, conn)
	assert.Equal(t, messages.EventGameState, env.Event)
}

func TestWrongActorIsRejected(t *testing.T) {
	h, _ := newTestHub(t)
	conn := NewConnection(nil, h, zap.NewNop())
	sessionID := createSession(t, h, conn)

	// White cannot ban the opening ply; that belongs to Black.
	h.handleAction(conn, rawPayload(t, messages.ActionPayload{
		SessionID:   sessionID,
		PlayerID:    whiteID,
		From:        "e2",
		To:          "e4",
		ExpectedPly: 0,
	}), game.KindBan)

	env := recv(t, conn)
	require.Equal(t, messages.EventError, env.Event)

	var perr messages.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &perr))
	assert.Equal(t, "wrong_actor", perr.Code)
}

func TestJoinDeliversSnapshotAndBroadcasts(t *testing.T) {
	h, _ := newTestHub(t)
	creator := NewConnection(nil, h, zap.NewNop())
	sessionID := createSession(t, h, creator)

	joiner := NewConnection(nil, h, zap.NewNop())
	h.handleJoinSession(joiner, rawPayload(t, messages.JoinSessionPayload{
		SessionID: sessionID,
		PlayerID:  blackID,
	}))

	env := recvEvent(t, joiner, messages.EventGameState)
	var snap messages.SnapshotPayload
	require.NoError(t, json.Unmarshal(env.Payload, &snap))
	assert.Equal(t, 0, snap.HistoryLength)

	// An action submitted elsewhere reaches the joiner via the broadcast.
	h.handleAction(creator, rawPayload(t, messages.ActionPayload{
		SessionID:   sessionID,
		PlayerID:    blackID,
		From:        "e2",
		To:          "e4",
		ExpectedPly: 0,
	}), game.KindBan)

	require.Eventually(t, func() bool {
		select {
		case raw := <-joiner.send:
			var env envelope
			if json.Unmarshal(raw, &env) != nil {
				return false
			}
			if env.Event != messages.EventGameState {
				return false
			}
			var snap messages.SnapshotPayload
			return json.Unmarshal(env.Payload, &snap) == nil && snap.HistoryLength == 1
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestSyncReturnsAuthoritativeSnapshot(t *testing.T) {
	h, st := newTestHub(t)
	conn := NewConnection(nil, h, zap.NewNop())
	sessionID := createSession(t, h, conn)

	id := mustParse(t, sessionID)
	mv, err := rules.ParseUCI("e2e4")
	require.NoError(t, err)
	_, err = st.ApplyAction(id, blackID, game.Action{Kind: game.KindBan, Move: mv}, 0)
	require.NoError(t, err)

	h.handleSync(conn, rawPayload(t, messages.SyncPayload{SessionID: sessionID}))

	env := recv(t, conn)
	require.Equal(t, messages.EventGameState, env.Event)

	var snap messages.SnapshotPayload
	require.NoError(t, json.Unmarshal(env.Payload, &snap))
	assert.Equal(t, 1, snap.HistoryLength)
}

func TestBroadcastRacingDisconnectIsDropped(t *testing.T) {
	h, st := newTestHub(t)
	creator := NewConnection(nil, h, zap.NewNop())
	sessionID := createSession(t, h, creator)

	joiner := NewConnection(nil, h, zap.NewNop())
	h.registerConnection(joiner)
	h.handleJoinSession(joiner, rawPayload(t, messages.JoinSessionPayload{
		SessionID: sessionID,
		PlayerID:  blackID,
	}))
	recvEvent(t, joiner, messages.EventGameState)

	// The client drops mid-game; teardown must leave late deliveries with
	// nowhere to land rather than a closed channel.
	h.unregisterConnection(joiner)

	id := mustParse(t, sessionID)
	mv, err := rules.ParseUCI("e2e4")
	require.NoError(t, err)
	_, err = st.ApplyAction(id, blackID, game.Action{Kind: game.KindBan, Move: mv}, 0)
	require.NoError(t, err)

	// A handler goroutine that was already in flight delivers after the
	// send channel closed; the guarded send drops it.
	joiner.SendEvent(messages.EventGameState, nil)
	time.Sleep(50 * time.Millisecond)
}

func TestRegisterUnregisterAfterShutdownDoesNotBlock(t *testing.T) {
	h, _ := newTestHub(t)
	go h.Run()

	conn := NewConnection(nil, h, zap.NewNop())
	h.Register(conn)
	recvEvent(t, conn, messages.EventConnected)

	h.Shutdown()

	done := make(chan struct{})
	go func() {
		h.Unregister(conn)
		h.Register(NewConnection(nil, h, zap.NewNop()))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("connection goroutine blocked after shutdown")
	}
}

func TestHeartbeatCannotSpoofOpponent(t *testing.T) {
	h, _ := newTestHub(t)
	conn := NewConnection(nil, h, zap.NewNop())
	sessionID := createSession(t, h, conn)

	h.handleJoinSession(conn, rawPayload(t, messages.JoinSessionPayload{
		SessionID: sessionID,
		PlayerID:  whiteID,
	}))
	recvEvent(t, conn, messages.EventGameState)

	// A beacon claiming to be the opponent must not refresh them.
	h.handleHeartbeat(conn, rawPayload(t, messages.HeartbeatPayload{
		PlayerID: blackID,
		LastSeen: time.Now(),
	}))

	tracker := h.tracker(mustParse(t, sessionID))
	require.NotNil(t, tracker)

	_, _, seen := tracker.Status(blackID)
	assert.False(t, seen, "heartbeat only ever refreshes the sender")
	_, _, seen = tracker.Status(whiteID)
	assert.True(t, seen)
}

func TestUnknownEventIsAnError(t *testing.T) {
	h, _ := newTestHub(t)
	conn := NewConnection(nil, h, zap.NewNop())

	h.handleInbound(InboundHubMessage{
		Conn:    conn,
		Message: messages.InboundMessage{Event: "TELEPORT"},
	})

	env := recv(t, conn)
	assert.Equal(t, messages.EventError, env.Event)
}
