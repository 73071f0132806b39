package sso

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// DefaultRelayTTL is how long an unconsumed relay token stays redeemable.
const DefaultRelayTTL = 10 * time.Minute

type relayEntry struct {
	target    string
	expiresAt time.Time
}

// RelayStore maps opaque single-use tokens to the URL a user was trying to
// reach before being bounced to the IdP. Keeping the target server-side
// means the RelayState parameter on the wire carries no redirect target an
// attacker could tamper into an open redirect.
type RelayStore struct {
	ttl   time.Duration
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[string]relayEntry

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRelayStore creates a store with the given TTL and starts its
// background sweeper. Close releases the sweeper.
func NewRelayStore(ttl time.Duration, clock clockwork.Clock) *RelayStore {
	if ttl <= 0 {
		ttl = DefaultRelayTTL
	}
	store := &RelayStore{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]relayEntry),
		stop:    make(chan struct{}),
	}
	go store.sweep()
	return store
}

// Encode mints a fresh random token for target and records it with the
// store's TTL.
func (s *RelayStore) Encode(target string) string {
	token := uuid.NewString()

	s.mu.Lock()
	s.entries[token] = relayEntry{
		target:    target,
		expiresAt: s.clock.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	return token
}

// Decode redeems a token. The lookup and the invalidation are one atomic
// step, so of two concurrent calls on the same token at most one succeeds.
// Unknown and expired tokens both report false.
func (s *RelayStore) Decode(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok {
		return "", false
	}
	delete(s.entries, token)

	if s.clock.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.target, true
}

// Len reports the number of live entries.
func (s *RelayStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the background sweeper.
func (s *RelayStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *RelayStore) sweep() {
	ticker := s.clock.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.Chan():
			now := s.clock.Now()
			s.mu.Lock()
			for token, entry := range s.entries {
				if now.After(entry.expiresAt) {
					delete(s.entries, token)
				}
			}
			s.mu.Unlock()
		}
	}
}
