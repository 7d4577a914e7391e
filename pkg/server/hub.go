// Package server owns the websocket surface: connection lifecycle, message
// routing into the store, and per-session presence tracking.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/ban-chess-server/pkg/abandon"
	"github.com/tecu23/ban-chess-server/pkg/chess"
	"github.com/tecu23/ban-chess-server/pkg/events"
	"github.com/tecu23/ban-chess-server/pkg/game"
	"github.com/tecu23/ban-chess-server/pkg/messages"
	"github.com/tecu23/ban-chess-server/pkg/presence"
	"github.com/tecu23/ban-chess-server/pkg/rules"
	"github.com/tecu23/ban-chess-server/pkg/store"
)

// InboundHubMessage are the messages that the hub receives
type InboundHubMessage struct {
	Conn    *Connection             // who sent it
	Message messages.InboundMessage // parsed envelope
}

// Hub keeps track of all active connections and routes inbound messages to
// the store, the abandonment workflow and the per-session presence trackers.
type Hub struct {
	mu          sync.RWMutex         // Mutex to protect direct access to the connections map.
	connections map[*Connection]bool // Registered connections

	register   chan *Connection       // Incoming registration
	unregister chan *Connection       // Incoming unregistration
	inbound    chan InboundHubMessage // Channel of inbound messages the hub routes

	store     *store.MemoryStore
	workflow  *abandon.Workflow
	publisher *events.Publisher

	presenceCfg presence.Config
	classifier  presence.Classifier
	trackers    map[uuid.UUID]*presence.Tracker

	logger *zap.Logger

	done chan struct{}
	once sync.Once
}

// NewHub creates a new hub.
func NewHub(
	st *store.MemoryStore,
	workflow *abandon.Workflow,
	publisher *events.Publisher,
	presenceCfg presence.Config,
	classifier presence.Classifier,
	logger *zap.Logger,
) *Hub {
	return &Hub{
		connections: make(map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		inbound:     make(chan InboundHubMessage),
		store:       st,
		workflow:    workflow,
		publisher:   publisher,
		presenceCfg: presenceCfg,
		classifier:  classifier,
		trackers:    make(map[uuid.UUID]*presence.Tracker),
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Run is the main execution of the hub
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case conn := <-h.register:
			h.registerConnection(conn)

		case conn := <-h.unregister:
			h.unregisterConnection(conn)

		case msg := <-h.inbound:
			h.handleInbound(msg)
		}
	}
}

// Register queues a connection for registration. Returns without queueing
// once the hub is shut down, so connection goroutines never block on a loop
// that no longer runs.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister queues a connection for removal. Safe after Shutdown.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Shutdown stops the hub loop, every presence tracker and every connection.
func (h *Hub) Shutdown() {
	h.once.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, tracker := range h.trackers {
		tracker.Stop()
	}
	h.trackers = make(map[uuid.UUID]*presence.Tracker)

	for conn := range h.connections {
		conn.closeSend()
		delete(h.connections, conn)
	}

	h.logger.Info("hub shut down")
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	h.connections[conn] = true
	total := len(h.connections)
	h.mu.Unlock()

	h.logger.Info("connection registered",
		zap.String("connection_id", conn.ID.String()),
		zap.Int("total", total))

	conn.SendEvent(messages.EventConnected, messages.ConnectedPayload{
		ConnectionID: conn.ID.String(),
	})
}

func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	_, ok := h.connections[conn]
	if ok {
		delete(h.connections, conn)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	// Detach from the broadcast before closing the send channel: publisher
	// handlers run on their own goroutines and a snapshot racing this
	// teardown must find the subscription gone, not a closed channel.
	if unsub := conn.detach(); unsub != nil {
		unsub()
	}
	conn.closeSend()

	// A dropped transport starts the classification window; the tracker
	// decides later whether this was a rage quit or a plain disconnect.
	if playerID, sessionID, bound := conn.binding(); bound {
		if tracker := h.tracker(sessionID); tracker != nil {
			tracker.HandleLeave(playerID)
		}
	}

	h.logger.Info("connection unregistered",
		zap.String("connection_id", conn.ID.String()))
}

// handleInbound decodes and routes one client message.
func (h *Hub) handleInbound(msg InboundHubMessage) {
	switch msg.Message.Event {
	case messages.EventSessionInit:
		h.handleSessionInit(msg.Conn, msg.Message.Payload)

	case messages.EventJoinSession:
		h.handleJoinSession(msg.Conn, msg.Message.Payload)

	case messages.EventBan:
		h.handleAction(msg.Conn, msg.Message.Payload, game.KindBan)

	case messages.EventMove:
		h.handleAction(msg.Conn, msg.Message.Payload, game.KindMove)

	case messages.EventClaim:
		h.handleClaim(msg.Conn, msg.Message.Payload)

	case messages.EventHeartbeat:
		h.handleHeartbeat(msg.Conn, msg.Message.Payload)

	case messages.EventSync:
		h.handleSync(msg.Conn, msg.Message.Payload)

	default:
		h.sendError(msg.Conn, "", "unknown message type")
	}
}

func (h *Hub) handleSessionInit(conn *Connection, raw json.RawMessage) {
	var payload messages.SessionInitPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendError(conn, "", "invalid SESSION_INIT payload")
		return
	}

	init := store.SessionInit{
		WhitePlayerID: payload.WhitePlayerID,
		BlackPlayerID: payload.BlackPlayerID,
		InitialClock: chess.TimeControl{
			WhiteTime:      payload.InitialClock.WhiteTime,
			BlackTime:      payload.InitialClock.BlackTime,
			WhiteIncrement: payload.InitialClock.WhiteIncrement,
			BlackIncrement: payload.InitialClock.BlackIncrement,
		},
	}
	if payload.SessionID != "" {
		id, err := uuid.Parse(payload.SessionID)
		if err != nil {
			h.sendError(conn, "", "invalid session id")
			return
		}
		init.SessionID = id
	}

	session, err := h.store.CreateSession(init)
	if err != nil {
		h.sendError(conn, "", err.Error())
		return
	}

	h.ensureTracker(session.ID)

	state := session.State()
	conn.SendEvent(messages.EventSessionCreated, messages.SessionCreatedPayload{
		SessionID:   session.ID.String(),
		InitialFEN:  state.BoardFEN,
		WhiteTime:   payload.InitialClock.WhiteTime,
		BlackTime:   payload.InitialClock.BlackTime,
		CurrentTurn: state.TurnColor,
	})
}

func (h *Hub) handleJoinSession(conn *Connection, raw json.RawMessage) {
	var payload messages.JoinSessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendError(conn, "", "invalid JOIN_SESSION payload")
		return
	}

	sessionID, err := uuid.Parse(payload.SessionID)
	if err != nil {
		h.sendError(conn, "", "invalid session id")
		return
	}

	session, ok := h.store.GetSession(sessionID)
	if !ok {
		h.sendError(conn, "", fmt.Sprintf("could not find session %s", payload.SessionID))
		return
	}
	if _, participant := session.ColorOf(payload.PlayerID); !participant {
		h.sendError(conn, "", "player is not a session participant")
		return
	}

	// Forward every broadcast on the session topic to this connection:
	// snapshots, clock updates, presence, claim and game-over events alike.
	sub := h.publisher.Subscribe(store.SessionTopic(sessionID), func(msg events.Message) {
		conn.SendEvent(msg.Type, msg.Payload)
	})
	conn.bind(payload.PlayerID, sessionID, func() { h.publisher.Unsubscribe(sub) })

	tracker := h.ensureTracker(sessionID)
	tracker.HandleJoin(payload.PlayerID)

	snap, err := h.store.Snapshot(sessionID)
	if err != nil {
		h.sendError(conn, "", err.Error())
		return
	}
	conn.SendEvent(messages.EventGameState, snap)
}

func (h *Hub) handleAction(conn *Connection, raw json.RawMessage, kind game.ActionKind) {
	var payload messages.ActionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendError(conn, "", "invalid action payload")
		return
	}

	sessionID, err := uuid.Parse(payload.SessionID)
	if err != nil {
		h.sendError(conn, "", "invalid session id")
		return
	}

	mv, err := rules.ParseUCI(payload.From + payload.To + payload.Promotion)
	if err != nil {
		h.sendError(conn, "bad_encoding", err.Error())
		return
	}

	snap, err := h.store.ApplyAction(sessionID, payload.PlayerID,
		game.Action{Kind: kind, Move: mv}, payload.ExpectedPly)
	if err != nil {
		h.sendActionError(conn, sessionID, err)
		return
	}

	// The broadcast reaches every subscriber; replying directly as well
	// covers the actor even when their subscription is still settling.
	conn.SendEvent(messages.EventGameState, snap)
}

func (h *Hub) handleClaim(conn *Connection, raw json.RawMessage) {
	var payload messages.ClaimPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendError(conn, "", "invalid CLAIM payload")
		return
	}

	sessionID, err := uuid.Parse(payload.SessionID)
	if err != nil {
		h.sendError(conn, "", "invalid session id")
		return
	}

	ctype := store.ClaimType(payload.ClaimType)
	switch ctype {
	case store.ClaimVictory, store.ClaimDraw, store.ClaimWait:
	default:
		h.sendError(conn, "", fmt.Sprintf("unknown claim type %q", payload.ClaimType))
		return
	}

	snap, err := h.workflow.Claim(sessionID, payload.PlayerID, ctype)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrClaimConflict):
			h.sendError(conn, "claim_conflict", "claim already resolved")
		case errors.Is(err, store.ErrNoClaimWindow):
			h.sendError(conn, "no_claim_window", "no claim window open")
		case errors.Is(err, store.ErrNotClaimant):
			h.sendError(conn, "not_claimant", "only the connected opponent may claim")
		default:
			h.sendError(conn, "", err.Error())
		}
		return
	}

	conn.SendEvent(messages.EventGameState, snap)
}

func (h *Hub) handleHeartbeat(conn *Connection, raw json.RawMessage) {
	var payload messages.HeartbeatPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendError(conn, "", "invalid HEARTBEAT payload")
		return
	}

	// The beacon only ever refreshes the sender: the bound player identity
	// wins over whatever id the payload carries.
	playerID, sessionID, bound := conn.binding()
	if !bound {
		h.sendError(conn, "", "join a session before sending heartbeats")
		return
	}
	at := payload.LastSeen
	if at.IsZero() {
		at = time.Now()
	}

	if tracker := h.tracker(sessionID); tracker != nil {
		tracker.HandleHeartbeat(playerID, at)
	}
	if err := h.store.Heartbeat(sessionID, playerID); err != nil {
		h.logger.Debug("heartbeat rejected", zap.Error(err),
			zap.String("player_id", playerID))
	}
}

func (h *Hub) handleSync(conn *Connection, raw json.RawMessage) {
	var payload messages.SyncPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendError(conn, "", "invalid SYNC payload")
		return
	}

	sessionID, err := uuid.Parse(payload.SessionID)
	if err != nil {
		h.sendError(conn, "", "invalid session id")
		return
	}

	snap, err := h.store.Snapshot(sessionID)
	if err != nil {
		h.sendError(conn, "", err.Error())
		return
	}
	conn.SendEvent(messages.EventGameState, snap)
}

// sendActionError maps a rejected action onto the client error surface. A
// concurrency conflict additionally pushes a fresh snapshot so the client can
// resubmit against current state.
func (h *Hub) sendActionError(conn *Connection, sessionID uuid.UUID, err error) {
	var verr *game.ValidationError

	switch {
	case errors.Is(err, store.ErrConflict):
		h.sendError(conn, "conflict", "action no longer legal")
		if snap, serr := h.store.Snapshot(sessionID); serr == nil {
			conn.SendEvent(messages.EventGameState, snap)
		}

	case errors.As(err, &verr):
		h.sendError(conn, verr.Code, verr.Message)

	case errors.Is(err, store.ErrSessionArchived):
		h.sendError(conn, game.CodeGameOver, "session is archived")

	default:
		h.sendError(conn, "", err.Error())
	}
}

func (h *Hub) sendError(conn *Connection, code, msg string) {
	conn.SendEvent(messages.EventError, messages.ErrorPayload{
		Code:    code,
		Message: msg,
	})
}

// ensureTracker returns the session's presence tracker, creating it with
// callbacks that feed the store's abandonment accounting.
func (h *Hub) ensureTracker(sessionID uuid.UUID) *presence.Tracker {
	h.mu.Lock()
	defer h.mu.Unlock()

	if tracker, ok := h.trackers[sessionID]; ok {
		return tracker
	}

	tracker := presence.NewTracker(h.presenceCfg, h.classifier, presence.Callbacks{
		OnDisconnect: func(playerID string, kind presence.Kind) {
			dtype := store.TypeDisconnect
			if kind == presence.KindRageQuit {
				dtype = store.TypeRageQuit
			}
			if err := h.store.ReportDisconnect(sessionID, playerID, dtype); err != nil {
				h.logger.Debug("report disconnect", zap.Error(err),
					zap.String("player_id", playerID))
			}
		},
		OnReconnect: func(playerID string) {
			if err := h.store.ReportReconnect(sessionID, playerID); err != nil {
				h.logger.Debug("report reconnect", zap.Error(err),
					zap.String("player_id", playerID))
			}
		},
	}, h.logger)

	h.trackers[sessionID] = tracker
	return tracker
}

func (h *Hub) tracker(sessionID uuid.UUID) *presence.Tracker {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.trackers[sessionID]
}

// DropSession tears down the presence tracker and workflow stage for a
// finished session.
func (h *Hub) DropSession(sessionID uuid.UUID) {
	h.mu.Lock()
	tracker, ok := h.trackers[sessionID]
	if ok {
		delete(h.trackers, sessionID)
	}
	h.mu.Unlock()

	if ok {
		tracker.Stop()
	}
	h.workflow.Forget(sessionID)
}
