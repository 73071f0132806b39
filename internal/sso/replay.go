package sso

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ReplayGuard remembers consumed assertion IDs so a captured response
// cannot be presented a second time. IDs are kept for the retention window
// and then forgotten; an assertion old enough to have aged out of the guard
// fails its own NotOnOrAfter check long before that.
type ReplayGuard struct {
	retention time.Duration
	clock     clockwork.Clock

	mu   sync.Mutex
	seen map[string]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewReplayGuard creates a guard that remembers IDs for retention and
// starts its background sweeper.
func NewReplayGuard(retention time.Duration, clock clockwork.Clock) *ReplayGuard {
	if retention <= 0 {
		retention = DefaultRelayTTL
	}
	guard := &ReplayGuard{
		retention: retention,
		clock:     clock,
		seen:      make(map[string]time.Time),
		stop:      make(chan struct{}),
	}
	go guard.sweep()
	return guard
}

// Remember records an assertion ID. It reports false when the ID was
// already recorded, which callers treat as a replay.
func (g *ReplayGuard) Remember(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[id]; ok {
		return false
	}
	g.seen[id] = g.clock.Now().Add(g.retention)
	return true
}

// Close stops the background sweeper.
func (g *ReplayGuard) Close() {
	g.stopOnce.Do(func() { close(g.stop) })
}

func (g *ReplayGuard) sweep() {
	ticker := g.clock.NewTicker(g.retention)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.Chan():
			now := g.clock.Now()
			g.mu.Lock()
			for id, expiresAt := range g.seen {
				if now.After(expiresAt) {
					delete(g.seen, id)
				}
			}
			g.mu.Unlock()
		}
	}
}
