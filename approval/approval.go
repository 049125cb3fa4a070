// Package approval implements ApprovalPolicy (spec §4.7): cached
// allow/deny decisions per (application, event kind), with TTL buckets
// and lazy expiry on lookup.
package approval

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nitrous-signer/core/corelog"
)

var log = corelog.For("approval")

// Decision is the cached verdict for a given (application, kind) pair.
type Decision int

const (
	Unknown Decision = iota
	Allow
	Deny
)

// TTL buckets from spec §3 Approval decision. Forever is represented as
// a zero duration sentinel checked explicitly, never as a literal huge
// duration, so "never expires" can't accidentally roll over.
const (
	TTL10Min  = 10 * time.Minute
	TTL1Hour  = time.Hour
	TTL24Hour = 24 * time.Hour
	TTL30Days = 30 * 24 * time.Hour
	Forever   = time.Duration(0)
)

type cacheKey struct {
	applicationID string
	kind          int
}

type cacheEntry struct {
	id        string
	decision  Decision
	createdAt time.Time
	ttl       time.Duration // Forever (0) means never expires
}

// Policy caches approval decisions in memory, keyed by (application_id,
// kind). It never persists across process restarts by itself — callers
// that want durability wrap Policy with their own store.
type Policy struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

// New returns an empty Policy.
func New() *Policy {
	return &Policy{entries: map[cacheKey]cacheEntry{}}
}

// Ask looks up a cached decision for (applicationID, kind), evicting it
// first if its TTL has lapsed. Returns Unknown if nothing is cached or
// the entry just expired — the caller must then surface an approval UI
// and call Remember.
func (p *Policy) Ask(applicationID string, kind int) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := cacheKey{applicationID, kind}
	entry, ok := p.entries[key]
	if !ok {
		return Unknown
	}
	if p.expired(entry) {
		delete(p.entries, key)
		return Unknown
	}
	return entry.decision
}

// Remember caches decision for (applicationID, kind) with the given
// TTL. Deny decisions are cached with the same semantics as Allow (spec
// §4.7).
func (p *Policy) Remember(applicationID string, kind int, decision Decision, ttl time.Duration) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.NewString()
	p.entries[cacheKey{applicationID, kind}] = cacheEntry{
		id:        id,
		decision:  decision,
		createdAt: time.Now(),
		ttl:       ttl,
	}
	log.Debug().Str("application_id", applicationID).Int("kind", kind).Msg("approval decision remembered")
	return id
}

func (p *Policy) expired(e cacheEntry) bool {
	if e.ttl == Forever {
		return false
	}
	return time.Since(e.createdAt) >= e.ttl
}
