package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/ban-chess-server/pkg/chess"
	"github.com/tecu23/ban-chess-server/pkg/events"
	"github.com/tecu23/ban-chess-server/pkg/game"
	"github.com/tecu23/ban-chess-server/pkg/messages"
)

// Store errors. ErrConflict maps to "action no longer legal" on the caller
// side and forces a resync; ErrClaimConflict is the losing side of the
// claim-resolution race.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionArchived = errors.New("session archived")
	ErrNotParticipant  = errors.New("player is not a session participant")
	ErrConflict        = errors.New("action superseded by a racing action")
	ErrNoClaimWindow   = errors.New("no claim window open")
	ErrClaimConflict   = errors.New("claim already resolved for this episode")
	ErrNotClaimant     = errors.New("only the connected opponent may claim")
)

// Config holds the abandonment allowances the store enforces.
type Config struct {
	RageQuitAllowance   time.Duration
	DisconnectAllowance time.Duration
	WaitExtension       time.Duration
}

// DefaultConfig returns the standard allowances: a short budget for rage
// quits, a long running budget for passive disconnects.
func DefaultConfig() Config {
	return Config{
		RageQuitAllowance:   10 * time.Second,
		DisconnectAllowance: 120 * time.Second,
		WaitExtension:       60 * time.Second,
	}
}

// SessionTopic is the broadcast topic for a session's snapshots.
func SessionTopic(id uuid.UUID) string {
	return "session." + id.String()
}

// MemoryStore is the in-memory authoritative store. Every accepted action is
// recorded in the session log before the snapshot broadcast goes out, so a
// crash between acceptance and broadcast is recoverable purely via resync.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	machine   *game.Machine
	cfg       Config
	publisher *events.Publisher
	logger    *zap.Logger

	now func() time.Time
}

// NewMemoryStore creates a store around the given state machine and
// broadcast publisher.
func NewMemoryStore(machine *game.Machine, cfg Config, publisher *events.Publisher, logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[uuid.UUID]*Session),
		machine:   machine,
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// SetNow replaces the store's clock source. Used by tests to drive the
// allowance accounting deterministically.
func (m *MemoryStore) SetNow(now func() time.Time) {
	m.now = now
}

// CreateSession registers a session from the matchmaking handoff, starts its
// clock and broadcasts the initial snapshot.
func (m *MemoryStore) CreateSession(init SessionInit) (*Session, error) {
	if init.SessionID == uuid.Nil {
		init.SessionID = uuid.New()
	}
	if init.WhitePlayerID == "" || init.BlackPlayerID == "" || init.WhitePlayerID == init.BlackPlayerID {
		return nil, fmt.Errorf("invalid players %q vs %q", init.WhitePlayerID, init.BlackPlayerID)
	}

	now := m.now()
	session := &Session{
		ID:      init.SessionID,
		WhiteID: init.WhitePlayerID,
		BlackID: init.BlackPlayerID,
		state:   game.NewGameState(init.InitialFEN),
		clock:   chess.NewClock(init.InitialClock),
		presence: map[string]PresenceEntry{
			init.WhitePlayerID: {Status: StatusOnline, LastSeen: now},
			init.BlackPlayerID: {Status: StatusOnline, LastSeen: now},
		},
		debt:      make(map[string]time.Duration),
		extension: make(map[string]time.Duration),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	if _, exists := m.sessions[session.ID]; exists {
		m.mu.Unlock()
		return nil, ErrSessionExists
	}
	m.sessions[session.ID] = session
	m.mu.Unlock()

	session.clock.Start()
	go m.watchClock(session)

	m.logger.Info("session created",
		zap.String("session_id", session.ID.String()),
		zap.String("white", session.WhiteID),
		zap.String("black", session.BlackID))

	session.mu.Lock()
	snap := session.snapshotLocked(now)
	session.mu.Unlock()
	m.broadcastSnapshot(session.ID, snap)

	return session, nil
}

// GetSession returns a session by id.
func (m *MemoryStore) GetSession(id uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ApplyAction validates and applies one action for playerID. The apply path
// is serial per session; expectedPly >= 0 asserts the log position the caller
// acted against, and a stale value is rejected with ErrConflict rather than
// queued or merged.
func (m *MemoryStore) ApplyAction(sessionID uuid.UUID, playerID string, action game.Action, expectedPly int) (messages.SnapshotPayload, error) {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return messages.SnapshotPayload{}, ErrSessionNotFound
	}

	s.mu.Lock()

	if s.archived {
		s.mu.Unlock()
		return messages.SnapshotPayload{}, ErrSessionArchived
	}

	color, participant := s.ColorOf(playerID)
	if !participant {
		s.mu.Unlock()
		return messages.SnapshotPayload{}, ErrNotParticipant
	}

	if expectedPly >= 0 && expectedPly != len(s.log) {
		s.mu.Unlock()
		return messages.SnapshotPayload{}, ErrConflict
	}

	if color != s.state.ActorColor() {
		s.mu.Unlock()
		return messages.SnapshotPayload{}, &game.ValidationError{
			Code:    "wrong_actor",
			Message: "it is not your turn to act",
		}
	}

	next, err := m.machine.Apply(s.state, action)
	if err != nil {
		s.mu.Unlock()
		return messages.SnapshotPayload{}, err
	}

	// Record before broadcast.
	s.state = next
	s.log = append(s.log, action)

	if action.Kind == game.KindMove && !next.Terminal() {
		s.clock.Switch()
	}

	terminal := next.Terminal()
	if terminal {
		s.archiveLocked()
	}

	now := m.now()
	snap := s.snapshotLocked(now)
	reason := next.TerminalReason
	winner := next.Winner
	s.mu.Unlock()

	m.broadcastSnapshot(sessionID, snap)
	if terminal {
		m.publish(sessionID, messages.EventGameOver, messages.GameOverPayload{
			SessionID: sessionID.String(),
			Reason:    reason,
			Winner:    winner,
		})
	}

	return snap, nil
}

// Snapshot returns the current canonical snapshot.
func (m *MemoryStore) Snapshot(sessionID uuid.UUID) (messages.SnapshotPayload, error) {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return messages.SnapshotPayload{}, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(m.now()), nil
}

// ActionLog returns a copy of the accepted action log.
func (m *MemoryStore) ActionLog(sessionID uuid.UUID) ([]game.Action, error) {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	log := make([]game.Action, len(s.log))
	copy(log, s.log)
	return log, nil
}

// LegalActions returns the legal actions for the session's current state.
func (m *MemoryStore) LegalActions(sessionID uuid.UUID) ([]game.Action, error) {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return m.machine.LegalActions(s.State())
}

// Subscribe registers fn for the session's snapshot broadcast and returns an
// unsubscribe function. Delivery is at-least-once and unordered; consumers
// recover ordering via Snapshot.
func (m *MemoryStore) Subscribe(sessionID uuid.UUID, fn func(messages.SnapshotPayload)) func() {
	sub := m.publisher.Subscribe(SessionTopic(sessionID), func(msg events.Message) {
		if msg.Type != messages.EventGameState {
			return
		}
		var snap messages.SnapshotPayload
		if err := json.Unmarshal(msg.Payload, &snap); err != nil {
			m.logger.Error("bad snapshot payload", zap.Error(err))
			return
		}
		fn(snap)
	})

	return func() { m.publisher.Unsubscribe(sub) }
}

// ForEachActive calls fn for every non-archived session. Used by the
// abandonment sweep, which must work even when no client is connected.
func (m *MemoryStore) ForEachActive(fn func(*Session)) {
	m.mu.RLock()
	active := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !s.Archived() {
			active = append(active, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range active {
		fn(s)
	}
}

// RemoveSession archives and drops a session.
func (m *MemoryStore) RemoveSession(id uuid.UUID) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	s.mu.Lock()
	s.archiveLocked()
	s.mu.Unlock()

	m.logger.Info("session removed", zap.String("session_id", id.String()))
}

// broadcastSnapshot publishes the canonical snapshot on the session topic.
func (m *MemoryStore) broadcastSnapshot(sessionID uuid.UUID, snap messages.SnapshotPayload) {
	m.publish(sessionID, messages.EventGameState, snap)
}

func (m *MemoryStore) publish(sessionID uuid.UUID, msgType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("marshal broadcast payload", zap.Error(err))
		return
	}

	m.publisher.Publish(events.Message{
		Topic:     SessionTopic(sessionID),
		Type:      msgType,
		Payload:   raw,
		Timestamp: m.now(),
	})
}

// watchClock forwards clock ticks and converts a flag fall into a terminal
// state.
func (m *MemoryStore) watchClock(s *Session) {
	ticks := s.clock.GetTickChannel()
	timeup := s.clock.GetTimeupChannel()

	for {
		select {
		case <-s.done:
			return
		case tick := <-ticks:
			m.publish(s.ID, messages.EventClockUpdate, messages.ClockUpdatePayload{
				SessionID:   s.ID.String(),
				WhiteTime:   tick.White,
				BlackTime:   tick.Black,
				ActiveColor: string(tick.ActiveColor),
			})
		case color := <-timeup:
			m.handleTimeout(s, color)
			return
		}
	}
}

func (m *MemoryStore) handleTimeout(s *Session, flagged chess.Color) {
	s.mu.Lock()
	if s.archived {
		s.mu.Unlock()
		return
	}

	s.state.Phase = game.PhaseTerminal
	s.state.TerminalReason = "timeout"
	s.state.Winner = flagged.Opp()
	s.archiveLocked()
	snap := s.snapshotLocked(m.now())
	winner := s.state.Winner
	s.mu.Unlock()

	m.logger.Info("flag fell",
		zap.String("session_id", s.ID.String()),
		zap.String("loser", string(flagged)))

	m.broadcastSnapshot(s.ID, snap)
	m.publish(s.ID, messages.EventGameOver, messages.GameOverPayload{
		SessionID: s.ID.String(),
		Reason:    "timeout",
		Winner:    winner,
	})
}
