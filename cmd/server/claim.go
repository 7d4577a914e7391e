package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/ban-chess-server/pkg/messages"
	"github.com/tecu23/ban-chess-server/pkg/store"
)

// handleClaim handles POST /claim, the HTTP alternative to the websocket
// CLAIM event for clients whose socket is gone.
func (app *application) handleClaim(w http.ResponseWriter, r *http.Request) {
	var payload messages.ClaimPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid claim payload", http.StatusBadRequest)
		return
	}

	sessionID, err := uuid.Parse(payload.SessionID)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	ctype := store.ClaimType(payload.ClaimType)
	switch ctype {
	case store.ClaimVictory, store.ClaimDraw, store.ClaimWait:
	default:
		http.Error(w, "unknown claim type", http.StatusBadRequest)
		return
	}

	snap, err := app.Workflow.Claim(sessionID, payload.PlayerID, ctype)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSessionNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, store.ErrClaimConflict), errors.Is(err, store.ErrNoClaimWindow):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, store.ErrNotClaimant):
			http.Error(w, err.Error(), http.StatusForbidden)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		app.Logger.Error("encode claim response", zap.Error(err))
	}
}
