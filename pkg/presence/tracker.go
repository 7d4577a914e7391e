// Package presence derives per-player liveness and disconnect classification
// from join/leave/heartbeat traffic. It persists nothing; it is an in-memory,
// per-session observer feeding the abandonment workflow.
package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is a player's liveness as seen by the tracker.
type Status string

// Presence statuses.
const (
	StatusOnline       Status = "online"
	StatusDisconnected Status = "disconnected"
	StatusRageQuit     Status = "rage_quit"
	StatusOffline      Status = "offline"
)

// Kind is the classified disconnect type.
type Kind string

// Disconnect kinds. Unknown means the distinguishing signal was unavailable;
// the tracker resolves it to Disconnect — a documented, intentional fallback,
// not a best-effort guess.
const (
	KindUnknown    Kind = "unknown"
	KindRageQuit   Kind = "rage_quit"
	KindDisconnect Kind = "disconnect"
)

// Classifier decides what kind of disconnect a leave event was. A real
// implementation consults a site-wide presence signal that reveals deliberate
// navigation; strategies are pluggable.
type Classifier interface {
	Classify(playerID string) Kind
}

// DefaultClassifier has no deliberate-navigation signal and always returns
// Unknown.
type DefaultClassifier struct{}

// Classify always returns Unknown.
func (DefaultClassifier) Classify(string) Kind { return KindUnknown }

// Config tunes the tracker. The heartbeat interval must stay strictly below
// the transport's liveness timeout.
type Config struct {
	HeartbeatInterval    time.Duration
	TransportTimeout     time.Duration
	ClassificationWindow time.Duration
}

// DefaultConfig returns the standard intervals: heartbeat every 25s against a
// 30s transport timeout, and a 10s classification window.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    25 * time.Second,
		TransportTimeout:     30 * time.Second,
		ClassificationWindow: 10 * time.Second,
	}
}

// Callbacks are fired when a player's classification resolves or a player
// rejoins. OnDisconnect never receives KindUnknown.
type Callbacks struct {
	OnDisconnect func(playerID string, kind Kind)
	OnReconnect  func(playerID string)
}

type playerState struct {
	status        Status
	lastSeen      time.Time
	classifyTimer *time.Timer
}

// Tracker observes one session's presence traffic.
type Tracker struct {
	cfg        Config
	classifier Classifier
	cb         Callbacks
	logger     *zap.Logger

	mu      sync.Mutex
	players map[string]*playerState
	stopped bool
}

// NewTracker creates a tracker with the given classifier strategy.
func NewTracker(cfg Config, classifier Classifier, cb Callbacks, logger *zap.Logger) *Tracker {
	if classifier == nil {
		classifier = DefaultClassifier{}
	}
	return &Tracker{
		cfg:        cfg,
		classifier: classifier,
		cb:         cb,
		logger:     logger,
		players:    make(map[string]*playerState),
	}
}

// HandleHeartbeat records a heartbeat. A heartbeat from a player with a
// pending classification counts as a rejoin.
func (t *Tracker) HandleHeartbeat(playerID string, at time.Time) {
	t.handleAlive(playerID, at)
}

// HandleJoin records a transport-level join.
func (t *Tracker) HandleJoin(playerID string) {
	t.handleAlive(playerID, time.Now())
}

func (t *Tracker) handleAlive(playerID string, at time.Time) {
	t.mu.Lock()

	if t.stopped {
		t.mu.Unlock()
		return
	}

	p := t.players[playerID]
	if p == nil {
		p = &playerState{}
		t.players[playerID] = p
	}

	wasGone := p.status == StatusDisconnected || p.status == StatusRageQuit
	pending := p.classifyTimer != nil
	if pending {
		p.classifyTimer.Stop()
		p.classifyTimer = nil
	}
	p.status = StatusOnline
	p.lastSeen = at
	t.mu.Unlock()

	if (wasGone || pending) && t.cb.OnReconnect != nil {
		t.cb.OnReconnect(playerID)
	}
}

// HandleLeave starts the classification window for a transport-level leave.
// If the player rejoins before it elapses the pending classification is
// cancelled; otherwise the classifier strategy decides, with Unknown
// resolving to Disconnect.
func (t *Tracker) HandleLeave(playerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}

	p := t.players[playerID]
	if p == nil {
		p = &playerState{}
		t.players[playerID] = p
	}
	if p.classifyTimer != nil {
		return // classification already pending
	}

	p.classifyTimer = time.AfterFunc(t.cfg.ClassificationWindow, func() {
		t.classify(playerID)
	})
}

// ReportIntentionalLeave resolves a pending classification early as a rage
// quit, for transports that do surface the deliberate-navigation signal.
func (t *Tracker) ReportIntentionalLeave(playerID string) {
	t.mu.Lock()
	p := t.players[playerID]
	if p == nil || p.classifyTimer == nil || t.stopped {
		t.mu.Unlock()
		return
	}
	p.classifyTimer.Stop()
	p.classifyTimer = nil
	p.status = StatusRageQuit
	t.mu.Unlock()

	t.logger.Info("leave classified", zap.String("player_id", playerID),
		zap.String("kind", string(KindRageQuit)))

	if t.cb.OnDisconnect != nil {
		t.cb.OnDisconnect(playerID, KindRageQuit)
	}
}

func (t *Tracker) classify(playerID string) {
	t.mu.Lock()
	p := t.players[playerID]
	if p == nil || p.classifyTimer == nil || t.stopped {
		t.mu.Unlock()
		return
	}
	p.classifyTimer = nil

	kind := t.classifier.Classify(playerID)
	if kind == KindUnknown {
		kind = KindDisconnect
	}

	if kind == KindRageQuit {
		p.status = StatusRageQuit
	} else {
		p.status = StatusDisconnected
	}
	t.mu.Unlock()

	t.logger.Info("leave classified",
		zap.String("player_id", playerID),
		zap.String("kind", string(kind)))

	if t.cb.OnDisconnect != nil {
		t.cb.OnDisconnect(playerID, kind)
	}
}

// Status returns the player's current status and last-seen time.
func (t *Tracker) Status(playerID string) (Status, time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.players[playerID]
	if !ok {
		return StatusOffline, time.Time{}, false
	}
	return p.status, p.lastSeen, true
}

// Stale reports whether a player's last heartbeat is older than the transport
// timeout.
func (t *Tracker) Stale(playerID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.players[playerID]
	if !ok {
		return true
	}
	return now.Sub(p.lastSeen) > t.cfg.TransportTimeout
}

// Stop cancels every pending classification timer. Required on session
// teardown to avoid leaked timers.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	for _, p := range t.players {
		if p.classifyTimer != nil {
			p.classifyTimer.Stop()
			p.classifyTimer = nil
		}
	}
}
