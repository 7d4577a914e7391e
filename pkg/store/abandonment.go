package store

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/ban-chess-server/pkg/game"
	"github.com/tecu23/ban-chess-server/pkg/messages"
)

// AbandonmentInfo is the sweep's view of a disconnect episode.
type AbandonmentInfo struct {
	DisconnectedPlayer string
	Type               DisconnectType
	// Elapsed is prior-episode debt plus the running episode, derived from
	// the episode start time on every read. EpisodeElapsed is the running
	// episode alone; warnings track it, forfeiture tracks the total.
	Elapsed        time.Duration
	EpisodeElapsed time.Duration
	Allowance      time.Duration
	WindowOpen     bool
	WindowResolved bool
}

// ReportDisconnect opens a disconnect episode for the player. Re-reporting
// the same player's episode is a no-op, so the presence layer and the sweep
// can both call it safely.
func (m *MemoryStore) ReportDisconnect(sessionID uuid.UUID, playerID string, dtype DisconnectType) error {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()

	if _, participant := s.ColorOf(playerID); !participant {
		s.mu.Unlock()
		return ErrNotParticipant
	}
	if s.archived {
		s.mu.Unlock()
		return ErrSessionArchived
	}

	now := m.now()
	status := StatusDisconnected
	if dtype == TypeRageQuit {
		status = StatusRageQuit
	}
	s.presence[playerID] = PresenceEntry{Status: status, LastSeen: now}

	if s.disconnect != nil && s.disconnect.PlayerID != playerID {
		// The other player's episode ends here. Fold its elapsed time into
		// their debt so it survives the record being replaced, and let any
		// unresolved window for it lapse.
		s.debt[s.disconnect.PlayerID] += now.Sub(s.disconnect.StartedAt)
		s.disconnect = nil
		if s.claim != nil && !s.claim.Resolved {
			s.claim = nil
		}
	}
	if s.disconnect == nil {
		s.disconnect = &DisconnectRecord{
			PlayerID:    playerID,
			Type:        dtype,
			StartedAt:   now,
			Accumulated: s.debt[playerID],
			Allowance:   m.baseAllowance(dtype) + s.extension[playerID],
		}
	}
	entry := s.presence[playerID]
	s.mu.Unlock()

	m.logger.Info("disconnect reported",
		zap.String("session_id", sessionID.String()),
		zap.String("player_id", playerID),
		zap.String("type", string(dtype)))

	m.publishPresence(sessionID, playerID, entry)
	return nil
}

// ReportReconnect closes the player's disconnect episode: the episode's
// elapsed time is added to the player's running debt and any unresolved claim
// window lapses.
func (m *MemoryStore) ReportReconnect(sessionID uuid.UUID, playerID string) error {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()

	if _, participant := s.ColorOf(playerID); !participant {
		s.mu.Unlock()
		return ErrNotParticipant
	}

	now := m.now()
	s.presence[playerID] = PresenceEntry{Status: StatusOnline, LastSeen: now}

	if s.disconnect != nil && s.disconnect.PlayerID == playerID {
		s.debt[playerID] += now.Sub(s.disconnect.StartedAt)
		s.disconnect = nil
		if s.claim != nil && !s.claim.Resolved {
			s.claim = nil
		}
	}
	entry := s.presence[playerID]
	s.mu.Unlock()

	m.logger.Info("reconnect reported",
		zap.String("session_id", sessionID.String()),
		zap.String("player_id", playerID))

	m.publishPresence(sessionID, playerID, entry)
	return nil
}

// Heartbeat refreshes a player's lastSeen without touching any episode.
func (m *MemoryStore) Heartbeat(sessionID uuid.UUID, playerID string) error {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.presence[playerID]
	if !ok {
		return ErrNotParticipant
	}
	entry.LastSeen = m.now()
	if entry.Status == StatusOffline {
		entry.Status = StatusOnline
	}
	s.presence[playerID] = entry
	return nil
}

// Abandonment returns the current episode's accounting, or ok=false when no
// episode is open.
func (m *MemoryStore) Abandonment(sessionID uuid.UUID) (AbandonmentInfo, bool) {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return AbandonmentInfo{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disconnect == nil || s.archived {
		return AbandonmentInfo{}, false
	}

	episode := m.now().Sub(s.disconnect.StartedAt)
	info := AbandonmentInfo{
		DisconnectedPlayer: s.disconnect.PlayerID,
		Type:               s.disconnect.Type,
		Elapsed:            s.disconnect.Accumulated + episode,
		EpisodeElapsed:     episode,
		Allowance:          s.disconnect.Allowance,
	}
	if s.claim != nil {
		info.WindowOpen = true
		info.WindowResolved = s.claim.Resolved
	}
	return info, true
}

// OpenClaimWindow opens the claim window for the current episode if it is not
// already open. Idempotent; safe under concurrent sweeps.
func (m *MemoryStore) OpenClaimWindow(sessionID uuid.UUID) (bool, error) {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return false, ErrSessionNotFound
	}

	s.mu.Lock()

	if s.archived || s.disconnect == nil {
		s.mu.Unlock()
		return false, nil
	}
	if s.claim != nil {
		s.mu.Unlock()
		return false, nil
	}

	s.claim = &ClaimWindow{AvailableAt: m.now()}
	disconnected := s.disconnect.PlayerID
	availableAt := s.claim.AvailableAt
	s.mu.Unlock()

	m.logger.Info("claim window opened",
		zap.String("session_id", sessionID.String()),
		zap.String("disconnected_player", disconnected))

	m.publish(sessionID, messages.EventClaimAvailable, messages.ClaimAvailablePayload{
		SessionID:          sessionID.String(),
		DisconnectedPlayer: disconnected,
		AvailableAt:        availableAt,
	})
	return true, nil
}

// Claim resolves the open claim window. The resolved flag is a one-way latch
// updated under the session lock, so of two racing claims exactly one wins
// and the other receives ErrClaimConflict. victory and draw terminate the
// game; wait extends the disconnected player's allowance and withdraws the
// window without resolving it.
func (m *MemoryStore) Claim(sessionID uuid.UUID, claimantID string, ctype ClaimType) (messages.SnapshotPayload, error) {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return messages.SnapshotPayload{}, ErrSessionNotFound
	}

	s.mu.Lock()

	if s.claim == nil {
		s.mu.Unlock()
		return messages.SnapshotPayload{}, ErrNoClaimWindow
	}
	if s.claim.Resolved || s.archived {
		s.mu.Unlock()
		return messages.SnapshotPayload{}, ErrClaimConflict
	}

	if s.disconnect == nil {
		s.mu.Unlock()
		return messages.SnapshotPayload{}, ErrNoClaimWindow
	}
	opponent, _ := s.OpponentOf(s.disconnect.PlayerID)
	if claimantID != opponent || s.presence[claimantID].Status != StatusOnline {
		s.mu.Unlock()
		return messages.SnapshotPayload{}, ErrNotClaimant
	}

	now := m.now()

	if ctype == ClaimWait {
		s.extension[s.disconnect.PlayerID] += m.cfg.WaitExtension
		s.disconnect.Allowance += m.cfg.WaitExtension
		s.claim = nil
		snap := s.snapshotLocked(now)
		s.mu.Unlock()

		m.publish(sessionID, messages.EventClaimResolved, messages.ClaimResolvedPayload{
			SessionID: sessionID.String(),
			ClaimType: string(ClaimWait),
			Result:    snap.Result,
		})
		return snap, nil
	}

	s.claim.Resolved = true
	s.claim.ClaimType = ctype

	s.state.Phase = game.PhaseTerminal
	s.state.TerminalReason = "abandonment"
	if ctype == ClaimVictory {
		color, _ := s.ColorOf(claimantID)
		s.state.Winner = color
	} else {
		s.state.Winner = ""
	}
	s.archiveLocked()

	snap := s.snapshotLocked(now)
	winner := s.state.Winner
	s.mu.Unlock()

	m.logger.Info("claim resolved",
		zap.String("session_id", sessionID.String()),
		zap.String("claimant", claimantID),
		zap.String("claim_type", string(ctype)))

	m.broadcastSnapshot(sessionID, snap)
	m.publish(sessionID, messages.EventClaimResolved, messages.ClaimResolvedPayload{
		SessionID: sessionID.String(),
		ClaimType: string(ctype),
		Result:    snap.Result,
	})
	m.publish(sessionID, messages.EventGameOver, messages.GameOverPayload{
		SessionID: sessionID.String(),
		Reason:    "abandonment",
		Winner:    winner,
	})

	return snap, nil
}

func (m *MemoryStore) baseAllowance(dtype DisconnectType) time.Duration {
	if dtype == TypeRageQuit {
		return m.cfg.RageQuitAllowance
	}
	return m.cfg.DisconnectAllowance
}

func (m *MemoryStore) publishPresence(sessionID uuid.UUID, playerID string, entry PresenceEntry) {
	m.publish(sessionID, messages.EventPresence, messages.PresencePayload{
		SessionID: sessionID.String(),
		PlayerID:  playerID,
		Status:    string(entry.Status),
		LastSeen:  entry.LastSeen,
	})
}
