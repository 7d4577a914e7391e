package channel

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Deduplicator filters re-delivered messages by content identity. It keeps a
// bounded, time-windowed set of recently seen ids: fixed capacity with FIFO
// eviction, plus TTL expiry so an id becomes acceptable again once the window
// has passed. Reconnects re-deliver the most recent broadcast, which is
// exactly the duplicate this catches.
type Deduplicator struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	seen     map[string]time.Time
	order    []dedupEntry

	now func() time.Time
}

type dedupEntry struct {
	id string
	at time.Time
}

// NewDeduplicator creates a deduplicator with the given capacity and TTL.
func NewDeduplicator(capacity int, ttl time.Duration) *Deduplicator {
	return &Deduplicator{
		capacity: capacity,
		ttl:      ttl,
		seen:     make(map[string]time.Time, capacity),
		now:      time.Now,
	}
}

// ContentID derives a message id from its content.
func ContentID(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Seen records id and reports whether it was already present within the TTL
// window. The first call for an id returns false; an immediate repeat returns
// true; after the TTL elapses the id is accepted again.
func (d *Deduplicator) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	if at, ok := d.seen[id]; ok {
		if now.Sub(at) < d.ttl {
			return true
		}
		delete(d.seen, id)
	}

	d.seen[id] = now
	d.order = append(d.order, dedupEntry{id: id, at: now})
	d.evict(now)
	return false
}

// evict drops expired entries from the front, then enforces capacity. An
// entry only removes its id from the set if the id has not been re-recorded
// since. Caller holds the lock.
func (d *Deduplicator) evict(now time.Time) {
	drop := func() {
		head := d.order[0]
		d.order = d.order[1:]
		if at, ok := d.seen[head.id]; ok && at.Equal(head.at) {
			delete(d.seen, head.id)
		}
	}

	for len(d.order) > 0 {
		head := d.order[0]
		if at, ok := d.seen[head.id]; ok && at.Equal(head.at) && now.Sub(at) < d.ttl {
			break
		}
		drop()
	}

	for len(d.order) > d.capacity {
		drop()
	}
}

// Len reports how many ids are currently tracked.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
