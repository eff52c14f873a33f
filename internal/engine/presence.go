package engine

import (
	"sync"
	"time"

	"dna-messenger/pkg/model"
)

// presenceWindow is how long since a contact's last watermark/outbox
// listener fire they are still considered online.
const presenceWindow = 10 * time.Minute

// PresenceTracker derives is_peer_online/ContactOnline/ContactOffline from
// the freshness of each contact's last observed DHT activity: a last-seen
// timestamp with change-detection, not a push subscription to peer state.
type PresenceTracker struct {
	mu       sync.Mutex
	lastSeen map[model.Fingerprint]time.Time
	online   map[model.Fingerprint]bool
}

func newPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		lastSeen: make(map[model.Fingerprint]time.Time),
		online:   make(map[model.Fingerprint]bool),
	}
}

// Touch records fresh activity from fp at now, returning true if this
// transitions fp from offline (or unknown) to online.
func (p *PresenceTracker) Touch(fp model.Fingerprint, now time.Time) (becameOnline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen[fp] = now
	wasOnline := p.online[fp]
	p.online[fp] = true
	return !wasOnline
}

// IsOnline reports whether fp was seen within presenceWindow of now.
func (p *PresenceTracker) IsOnline(fp model.Fingerprint, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen, ok := p.lastSeen[fp]
	if !ok {
		return false
	}
	return now.Sub(seen) <= presenceWindow
}

// Sweep re-evaluates every tracked contact against now and returns the set
// that transitioned online->offline since the last sweep, for the engine
// heartbeat to turn into ContactOffline events.
func (p *PresenceTracker) Sweep(now time.Time) []model.Fingerprint {
	p.mu.Lock()
	defer p.mu.Unlock()
	var wentOffline []model.Fingerprint
	for fp, seen := range p.lastSeen {
		stillOnline := now.Sub(seen) <= presenceWindow
		if p.online[fp] && !stillOnline {
			wentOffline = append(wentOffline, fp)
		}
		p.online[fp] = stillOnline
	}
	return wentOffline
}
