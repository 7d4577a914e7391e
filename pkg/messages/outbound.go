package messages

import (
	"time"

	"github.com/tecu23/ban-chess-server/pkg/chess"
	"github.com/tecu23/ban-chess-server/pkg/game"
)

// OutboundMessage is how we wrap responses before sending them to the client.
type OutboundMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Outbound event names.
const (
	EventConnected      = "CONNECTED"
	EventSessionCreated = "SESSION_CREATED"
	EventGameState      = "GAME_STATE"
	EventClockUpdate    = "CLOCK_UPDATE"
	EventPresence       = "PRESENCE"
	EventClaimAvailable = "CLAIM_AVAILABLE"
	EventClaimResolved  = "CLAIM_RESOLVED"
	EventGameOver       = "GAME_OVER"
	EventError          = "ERROR"
)

// ConnectedPayload acknowledges a new connection.
type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
}

// SessionCreatedPayload acknowledges a matchmaking handoff.
type SessionCreatedPayload struct {
	SessionID   string      `json:"session_id"`
	InitialFEN  string      `json:"initial_fen"`
	WhiteTime   int64       `json:"white_time"`
	BlackTime   int64       `json:"black_time"`
	CurrentTurn chess.Color `json:"current_turn"`
}

// BanSquares is the pending ban inside a snapshot.
type BanSquares struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// SnapshotPayload is the canonical session snapshot broadcast to every
// subscriber after an accepted action. Field names are part of the wire
// contract with existing clients.
type SnapshotPayload struct {
	SessionID     string      `json:"sessionId"`
	BoardEncoding string      `json:"boardEncoding"`
	PendingBan    *BanSquares `json:"pendingBan"`
	TurnColor     chess.Color `json:"turnColor"`
	Phase         game.Phase  `json:"phase"`
	HistoryLength int         `json:"historyLength"`
	Status        string      `json:"status"`
	Result        string      `json:"result"`
	Timestamp     time.Time   `json:"timestamp"`
}

// ClockUpdatePayload carries the periodic clock broadcast.
type ClockUpdatePayload struct {
	SessionID   string `json:"session_id"`
	WhiteTime   int64  `json:"whiteTimeMs"`
	BlackTime   int64  `json:"blackTimeMs"`
	ActiveColor string `json:"activeColor"`
}

// PresencePayload reports a player's presence status to the opponent.
type PresencePayload struct {
	SessionID string    `json:"session_id"`
	PlayerID  string    `json:"playerId"`
	Status    string    `json:"status"`
	LastSeen  time.Time `json:"lastSeen"`
}

// ClaimAvailablePayload tells the connected opponent a claim window opened.
type ClaimAvailablePayload struct {
	SessionID          string    `json:"session_id"`
	DisconnectedPlayer string    `json:"disconnected_player"`
	AvailableAt        time.Time `json:"available_at"`
}

// ClaimResolvedPayload reports the outcome of a claim.
type ClaimResolvedPayload struct {
	SessionID string `json:"session_id"`
	ClaimType string `json:"claim_type"`
	Result    string `json:"result"`
}

// GameOverPayload reports a terminal game.
type GameOverPayload struct {
	SessionID string      `json:"session_id"`
	Reason    string      `json:"reason"`
	Winner    chess.Color `json:"winner,omitempty"`
}

// ErrorPayload reports a user-visible, non-fatal failure.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
