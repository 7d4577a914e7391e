// Package store is the authoritative Game Store: it owns every session,
// serializes mutations per session, and broadcasts canonical snapshots to
// subscribers. Clients only ever hold cached copies of what lives here.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tecu23/ban-chess-server/pkg/chess"
	"github.com/tecu23/ban-chess-server/pkg/game"
	"github.com/tecu23/ban-chess-server/pkg/messages"
	"github.com/tecu23/ban-chess-server/pkg/rules"
)

// PresenceStatus is a player's liveness as recorded by the store.
type PresenceStatus string

// Presence statuses.
const (
	StatusOnline       PresenceStatus = "online"
	StatusDisconnected PresenceStatus = "disconnected"
	StatusRageQuit     PresenceStatus = "rage_quit"
	StatusOffline      PresenceStatus = "offline"
)

// DisconnectType distinguishes a passive drop from a deliberate quit. The
// type decides the allowance budget.
type DisconnectType string

// Disconnect types.
const (
	TypeDisconnect DisconnectType = "disconnect"
	TypeRageQuit   DisconnectType = "rage_quit"
)

// ClaimType is what the connected opponent asks for.
type ClaimType string

// Claim types.
const (
	ClaimVictory ClaimType = "victory"
	ClaimDraw    ClaimType = "draw"
	ClaimWait    ClaimType = "wait"
)

// PresenceEntry is one player's presence record.
type PresenceEntry struct {
	Status   PresenceStatus
	LastSeen time.Time
}

// DisconnectRecord tracks the current disconnect episode. Accumulated carries
// the debt from earlier episodes; the running episode's elapsed time is always
// derived from StartedAt so that overlapping sweeps cannot double-count.
type DisconnectRecord struct {
	PlayerID    string
	Type        DisconnectType
	StartedAt   time.Time
	Accumulated time.Duration
	Allowance   time.Duration
}

// ClaimWindow is the interval during which the opponent may resolve the game.
// Resolved is a one-way latch: at most one claim resolves per episode.
type ClaimWindow struct {
	AvailableAt time.Time
	Resolved    bool
	ClaimType   ClaimType
}

// SessionInit is the handoff payload from the matchmaking collaborator.
type SessionInit struct {
	SessionID     uuid.UUID
	WhitePlayerID string
	BlackPlayerID string
	InitialClock  chess.TimeControl
	InitialFEN    string
}

// Session is one game owned by the store. All fields are guarded by mu;
// access from outside the package goes through the exported methods.
type Session struct {
	ID      uuid.UUID
	WhiteID string
	BlackID string

	mu         sync.Mutex
	state      game.GameState
	clock      *chess.Clock
	presence   map[string]PresenceEntry
	debt       map[string]time.Duration
	extension  map[string]time.Duration
	disconnect *DisconnectRecord
	claim      *ClaimWindow
	log        []game.Action
	archived   bool
	done       chan struct{}
}

// State returns a copy of the current game state.
func (s *Session) State() game.GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Archived reports whether the session has been archived.
func (s *Session) Archived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archived
}

// Presence returns a player's presence record.
func (s *Session) Presence(playerID string) (PresenceEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.presence[playerID]
	return entry, ok
}

// ColorOf returns the color a player holds in this session.
func (s *Session) ColorOf(playerID string) (chess.Color, bool) {
	switch playerID {
	case s.WhiteID:
		return chess.White, true
	case s.BlackID:
		return chess.Black, true
	}
	return "", false
}

// OpponentOf returns the other player's id.
func (s *Session) OpponentOf(playerID string) (string, bool) {
	switch playerID {
	case s.WhiteID:
		return s.BlackID, true
	case s.BlackID:
		return s.WhiteID, true
	}
	return "", false
}

// playerOf is the inverse of ColorOf.
func (s *Session) playerOf(color chess.Color) string {
	if color == chess.White {
		return s.WhiteID
	}
	return s.BlackID
}

// snapshotLocked builds the canonical broadcast payload. Caller holds mu.
func (s *Session) snapshotLocked(now time.Time) messages.SnapshotPayload {
	var ban *messages.BanSquares
	if s.state.PendingBan != nil {
		ban = &messages.BanSquares{From: s.state.PendingBan.From, To: s.state.PendingBan.To}
	}

	status := "active"
	if s.archived {
		status = "archived"
	}

	result := string(rules.OutcomeOngoing)
	if s.state.Terminal() {
		switch s.state.Winner {
		case chess.White:
			result = string(rules.OutcomeWhiteWon)
		case chess.Black:
			result = string(rules.OutcomeBlackWon)
		default:
			result = string(rules.OutcomeDraw)
		}
	}

	return messages.SnapshotPayload{
		SessionID:     s.ID.String(),
		BoardEncoding: s.state.BoardFEN,
		PendingBan:    ban,
		TurnColor:     s.state.TurnColor,
		Phase:         s.state.Phase,
		HistoryLength: len(s.log),
		Status:        status,
		Result:        result,
		Timestamp:     now,
	}
}

// archiveLocked stops the clock and marks the session finished. Caller holds
// mu. Safe to call twice.
func (s *Session) archiveLocked() {
	if s.archived {
		return
	}
	s.archived = true
	s.clock.Stop()
	close(s.done)
}
