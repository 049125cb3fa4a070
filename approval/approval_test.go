package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAskUnknownWithoutCachedDecision(t *testing.T) {
	p := New()
	assert.Equal(t, Unknown, p.Ask("app1", 1))
}

func TestRememberThenAsk(t *testing.T) {
	p := New()
	p.Remember("app1", 1, Allow, TTL1Hour)
	assert.Equal(t, Allow, p.Ask("app1", 1))

	p.Remember("app1", 9, Deny, TTL1Hour)
	assert.Equal(t, Deny, p.Ask("app1", 9))
}

func TestDecisionsAreScopedPerKind(t *testing.T) {
	p := New()
	p.Remember("app1", 1, Allow, Forever)
	assert.Equal(t, Unknown, p.Ask("app1", 2))
}

func TestExpiryIsLazy(t *testing.T) {
	p := New()
	id := p.Remember("app1", 1, Allow, time.Millisecond)
	assert.NotEmpty(t, id)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, Unknown, p.Ask("app1", 1))

	p.mu.Lock()
	_, stillPresent := p.entries[cacheKey{"app1", 1}]
	p.mu.Unlock()
	assert.False(t, stillPresent, "expired entry should be evicted on lookup")
}

func TestForeverNeverExpires(t *testing.T) {
	p := New()
	p.Remember("app1", 1, Allow, Forever)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, Allow, p.Ask("app1", 1))
}
