// Package messages defines the wire payloads exchanged with clients and
// broadcast to session subscribers.
package messages

import (
	"encoding/json"
	"time"
)

// InboundMessage is the generic wrapper for messages coming from a client.
// The "event" field names the action; "payload" is parsed per event.
type InboundMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound event names.
const (
	EventSessionInit = "SESSION_INIT"
	EventJoinSession = "JOIN_SESSION"
	EventBan         = "BAN"
	EventMove        = "MOVE"
	EventClaim       = "CLAIM"
	EventHeartbeat   = "HEARTBEAT"
	EventSync        = "SYNC"
)

// TimeControlPayload is the initial clock inside the matchmaking handoff.
type TimeControlPayload struct {
	WhiteTime      int64 `json:"white_time"`
	BlackTime      int64 `json:"black_time"`
	WhiteIncrement int64 `json:"white_increment"`
	BlackIncrement int64 `json:"black_increment"`
}

// SessionInitPayload is the handoff from the matchmaking collaborator.
type SessionInitPayload struct {
	SessionID     string             `json:"session_id"`
	WhitePlayerID string             `json:"white_player_id"`
	BlackPlayerID string             `json:"black_player_id"`
	InitialClock  TimeControlPayload `json:"initial_clock"`
}

// JoinSessionPayload attaches a connection to an existing session.
type JoinSessionPayload struct {
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id"`
}

// ActionPayload carries a proposed ban or move.
type ActionPayload struct {
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	// ExpectedPly lets the client state which log position it acted
	// against; a stale value is a concurrency conflict. -1 skips the check.
	ExpectedPly int `json:"expected_ply"`
}

// ClaimPayload is a claim against a disconnected opponent.
type ClaimPayload struct {
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id"`
	ClaimType string `json:"claim_type"` // victory | draw | wait
}

// HeartbeatPayload is the periodic presence beacon.
type HeartbeatPayload struct {
	PlayerID string    `json:"playerId"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// SyncPayload requests the authoritative snapshot for a session.
type SyncPayload struct {
	SessionID string `json:"session_id"`
}
