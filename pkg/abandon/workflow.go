// Package abandon converts sustained disconnection into a resolvable outcome:
// a periodic sweep walks every active session, warns past a soft threshold,
// opens the claim window once the allowance is spent, and arbitrates claims.
package abandon

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/ban-chess-server/pkg/messages"
	"github.com/tecu23/ban-chess-server/pkg/store"
)

// Stage is a session's position in the abandonment workflow.
type Stage string

// Workflow stages. Resolved is terminal.
const (
	StageActive         Stage = "active"
	StageWarned         Stage = "warned"
	StageClaimAvailable Stage = "claim_available"
	StageResolved       Stage = "resolved"
)

// Store is the slice of the game store the workflow needs.
type Store interface {
	ForEachActive(fn func(*store.Session))
	Abandonment(sessionID uuid.UUID) (store.AbandonmentInfo, bool)
	OpenClaimWindow(sessionID uuid.UUID) (bool, error)
	Claim(sessionID uuid.UUID, claimantID string, ctype store.ClaimType) (messages.SnapshotPayload, error)
}

// Config tunes the sweep.
type Config struct {
	SweepInterval time.Duration
	SoftThreshold time.Duration
}

// DefaultConfig sweeps every 30s and warns after 30s of disconnection.
func DefaultConfig() Config {
	return Config{
		SweepInterval: 30 * time.Second,
		SoftThreshold: 30 * time.Second,
	}
}

// Workflow runs the cluster-wide abandonment sweep. It keeps no elapsed-time
// state of its own — everything is derived from the store on each pass, so
// overlapping sweeps never double-count and the sweep works with no client
// connected.
type Workflow struct {
	store  Store
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	stages map[uuid.UUID]Stage

	done chan struct{}
	once sync.Once
}

// NewWorkflow creates the workflow over the given store.
func NewWorkflow(s Store, cfg Config, logger *zap.Logger) *Workflow {
	return &Workflow{
		store:  s,
		cfg:    cfg,
		logger: logger,
		stages: make(map[uuid.UUID]Stage),
		done:   make(chan struct{}),
	}
}

// Run sweeps on a fixed cadence until Stop is called.
func (w *Workflow) Run() {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Stop halts the sweep loop.
func (w *Workflow) Stop() {
	w.once.Do(func() { close(w.done) })
}

// Sweep runs one pass over every active session. Idempotent and safe to run
// concurrently with itself and with manual claims.
func (w *Workflow) Sweep() {
	w.store.ForEachActive(func(s *store.Session) {
		info, ok := w.store.Abandonment(s.ID)
		if !ok {
			w.setStage(s.ID, StageActive)
			return
		}
		if info.WindowResolved {
			w.setStage(s.ID, StageResolved)
			return
		}

		switch {
		case info.Elapsed > info.Allowance:
			opened, err := w.store.OpenClaimWindow(s.ID)
			if err != nil {
				w.logger.Error("open claim window", zap.Error(err),
					zap.String("session_id", s.ID.String()))
				return
			}
			if opened {
				w.logger.Info("allowance exhausted, claim available",
					zap.String("session_id", s.ID.String()),
					zap.String("player_id", info.DisconnectedPlayer),
					zap.Duration("elapsed", info.Elapsed),
					zap.Duration("allowance", info.Allowance))
			}
			w.setStage(s.ID, StageClaimAvailable)

		// The warning tracks the running episode alone; prior-episode debt
		// only counts toward forfeiture.
		case info.EpisodeElapsed > w.cfg.SoftThreshold:
			if w.Stage(s.ID) != StageWarned {
				w.logger.Warn("session nearing abandonment",
					zap.String("session_id", s.ID.String()),
					zap.String("player_id", info.DisconnectedPlayer),
					zap.Duration("elapsed", info.Elapsed))
			}
			w.setStage(s.ID, StageWarned)

		default:
			w.setStage(s.ID, StageActive)
		}
	})
}

// Claim forwards a claim to the store and tracks the resulting stage. The
// store's conditional write guarantees that of a racing sweep-driven
// forfeiture and a manual claim exactly one succeeds.
func (w *Workflow) Claim(sessionID uuid.UUID, claimantID string, ctype store.ClaimType) (messages.SnapshotPayload, error) {
	snap, err := w.store.Claim(sessionID, claimantID, ctype)
	if err != nil {
		return snap, err
	}

	if ctype == store.ClaimWait {
		w.setStage(sessionID, StageActive)
	} else {
		w.setStage(sessionID, StageResolved)
	}
	return snap, nil
}

// Stage returns the session's current workflow stage.
func (w *Workflow) Stage(sessionID uuid.UUID) Stage {
	w.mu.Lock()
	defer w.mu.Unlock()

	if stage, ok := w.stages[sessionID]; ok {
		return stage
	}
	return StageActive
}

// Forget drops a session's stage record on teardown.
func (w *Workflow) Forget(sessionID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.stages, sessionID)
}

func (w *Workflow) setStage(sessionID uuid.UUID, stage Stage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stages[sessionID] = stage
}
