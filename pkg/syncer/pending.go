package syncer

import (
	"sync"

	"github.com/tecu23/ban-chess-server/pkg/game"
)

// PendingAction is an optimistic local action awaiting server confirmation.
// Ply is the log position the action was submitted against.
type PendingAction struct {
	Action game.Action
	Ply    int
}

// PendingQueue tracks optimistic actions. Reconciliation against an
// authoritative snapshot drops every entry the server has already decided on,
// whether it was accepted or superseded by a different action.
type PendingQueue struct {
	mu    sync.Mutex
	items []PendingAction
}

// NewPendingQueue returns an empty queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{}
}

// Push records an action submitted against the given log position.
func (q *PendingQueue) Push(action game.Action, ply int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, PendingAction{Action: action, Ply: ply})
}

// Reconcile drops entries whose log position the authoritative history has
// passed and returns them. Entries at or beyond historyLength are still in
// flight and stay queued.
func (q *PendingQueue) Reconcile(historyLength int) []PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	var dropped []PendingAction
	kept := q.items[:0]
	for _, item := range q.items {
		if item.Ply < historyLength {
			dropped = append(dropped, item)
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return dropped
}

// Items returns a copy of the queued actions.
func (q *PendingQueue) Items() []PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingAction, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of queued actions.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
