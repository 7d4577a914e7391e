// Package syncer reconciles a client's cached session state with the Game
// Store's authoritative snapshot. The store is the sole mutation authority,
// so reconciliation is wholesale replacement, never a merge.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/ban-chess-server/pkg/channel"
	"github.com/tecu23/ban-chess-server/pkg/game"
	"github.com/tecu23/ban-chess-server/pkg/messages"
)

// Store is the authoritative source the synchronizer reads from.
type Store interface {
	Snapshot(sessionID uuid.UUID) (messages.SnapshotPayload, error)
	ActionLog(sessionID uuid.UUID) ([]game.Action, error)
}

// Synchronizer holds one client's cached view of a session.
type Synchronizer struct {
	store  Store
	logger *zap.Logger

	mu       sync.Mutex
	local    messages.SnapshotPayload
	localLog []game.Action
	hasLocal bool

	pending *PendingQueue

	// onReplace is called after local state is replaced by a server
	// snapshot. Optional.
	onReplace func(messages.SnapshotPayload)
}

// New creates a synchronizer over the store. onReplace may be nil.
func New(store Store, logger *zap.Logger, onReplace func(messages.SnapshotPayload)) *Synchronizer {
	return &Synchronizer{
		store:     store,
		logger:    logger,
		pending:   NewPendingQueue(),
		onReplace: onReplace,
	}
}

// Pending returns the optimistic action queue for this session view.
func (s *Synchronizer) Pending() *PendingQueue {
	return s.pending
}

// Sync fetches the authoritative snapshot and reconciles the local cache.
// Divergence is detected with a cheap signal — action-log length, then a
// content fingerprint — and resolved by replacing local state wholesale.
// Calling Sync twice with no intervening server change leaves the local
// state untouched the second time.
func (s *Synchronizer) Sync(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	remote, err := s.store.Snapshot(sessionID)
	if err != nil {
		return false, fmt.Errorf("fetch snapshot: %w", err)
	}

	s.mu.Lock()
	if s.hasLocal &&
		s.local.HistoryLength == remote.HistoryLength &&
		fingerprint(s.local) == fingerprint(remote) {
		s.mu.Unlock()
		return false, nil
	}

	if s.hasLocal {
		// Divergence is resolved automatically and only logged; it is
		// never a user-facing error.
		s.logger.Info("local state diverged, replacing with server snapshot",
			zap.String("session_id", sessionID.String()),
			zap.Int("local_history", s.local.HistoryLength),
			zap.Int("remote_history", remote.HistoryLength))
	}
	s.mu.Unlock()

	log, err := s.store.ActionLog(sessionID)
	if err != nil {
		return false, fmt.Errorf("fetch action log: %w", err)
	}

	s.mu.Lock()
	s.local = remote
	s.localLog = log
	s.hasLocal = true
	s.mu.Unlock()

	dropped := s.pending.Reconcile(remote.HistoryLength)
	for _, p := range dropped {
		s.logger.Debug("pending action reconciled",
			zap.String("move", p.Action.Move.UCI()),
			zap.Int("ply", p.Ply))
	}

	if s.onReplace != nil {
		s.onReplace(remote)
	}
	return true, nil
}

// Local returns the cached snapshot.
func (s *Synchronizer) Local() (messages.SnapshotPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local, s.hasLocal
}

// LocalLog returns a copy of the cached action log.
func (s *Synchronizer) LocalLog() []game.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]game.Action, len(s.localLog))
	copy(out, s.localLog)
	return out
}

// Watch resyncs whenever the owning channel reports a reconnect, and once
// immediately for the initial mount. It blocks until ctx is cancelled or the
// channel's state stream closes.
func (s *Synchronizer) Watch(ctx context.Context, ch *channel.ReliableChannel, sessionID uuid.UUID) {
	if _, err := s.Sync(ctx, sessionID); err != nil {
		s.logger.Error("initial sync failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-ch.StateChanges():
			if !ok {
				return
			}
			if state != channel.StateConnected {
				continue
			}
			if _, err := s.Sync(ctx, sessionID); err != nil {
				s.logger.Error("resync after reconnect failed", zap.Error(err))
			}
		}
	}
}

// fingerprint hashes the snapshot content, ignoring the broadcast timestamp.
func fingerprint(snap messages.SnapshotPayload) string {
	snap.Timestamp = time.Time{}
	raw, err := json.Marshal(snap)
	if err != nil {
		return ""
	}
	return channel.ContentID(raw)
}
