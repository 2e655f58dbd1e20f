package auth

import (
	"sync"
	"time"
)

// Defaults for the pending login map.
const (
	DefaultPendingTTL = 10 * time.Minute
	DefaultMaxPending = 64
)

type pendingLogin struct {
	verifier string
	created  time.Time
}

// pendingStore maps state nonces to PKCE verifiers. Entries expire after
// ttl and the oldest entry is evicted once max is reached.
type pendingStore struct {
	mu      sync.Mutex
	entries map[string]pendingLogin
	ttl     time.Duration
	max     int
	now     func() time.Time
}

func newPendingStore(ttl time.Duration, maxEntries int, now func() time.Time) *pendingStore {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}

	if maxEntries <= 0 {
		maxEntries = DefaultMaxPending
	}

	return &pendingStore{
		entries: make(map[string]pendingLogin),
		ttl:     ttl,
		max:     maxEntries,
		now:     now,
	}
}

// put records verifier under state and returns the new count.
func (p *pendingStore) put(state, verifier string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.expireLocked(now)

	for len(p.entries) >= p.max {
		p.evictOldestLocked()
	}

	p.entries[state] = pendingLogin{verifier: verifier, created: now}

	return len(p.entries)
}

// take removes state and returns its verifier. ok is false if state was
// never issued, already consumed, or expired.
func (p *pendingStore) take(state string) (verifier string, remaining int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.expireLocked(p.now())

	e, found := p.entries[state]
	if !found {
		return "", len(p.entries), false
	}

	delete(p.entries, state)

	return e.verifier, len(p.entries), true
}

func (p *pendingStore) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.expireLocked(p.now())

	return len(p.entries)
}

func (p *pendingStore) expireLocked(now time.Time) {
	for k, e := range p.entries {
		if now.Sub(e.created) > p.ttl {
			delete(p.entries, k)
		}
	}
}

func (p *pendingStore) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
		first     = true
	)

	for k, e := range p.entries {
		if first || e.created.Before(oldest) {
			oldestKey, oldest, first = k, e.created, false
		}
	}

	delete(p.entries, oldestKey)
}
