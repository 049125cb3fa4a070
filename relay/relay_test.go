package relay

import (
	"context"
	"testing"

	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
)

func TestRelayHintsFromTagsExtractsRelaysTagValues(t *testing.T) {
	tags := nostr.Tags{
		nostr.Tag{"relays", "wss://relay.one"},
		nostr.Tag{"expiration", "1700000000"},
		nostr.Tag{"relays", " wss://relay.two "},
	}
	assert.Equal(t, []string{"wss://relay.one", "wss://relay.two"}, relayHintsFromTags(tags))
}

func TestRelayHintsFromTagsEmptyWhenNoneTagged(t *testing.T) {
	tags := nostr.Tags{nostr.Tag{"expiration", "1700000000"}}
	assert.Empty(t, relayHintsFromTags(tags))
}

func TestNewReturnsUsableClient(t *testing.T) {
	c := New(context.Background(), []string{"wss://relay.example"})
	assert.NotNil(t, c)
	assert.Equal(t, []string{"wss://relay.example"}, c.relayURLs)
}

func TestKeyPackageFetcherAdapterWrapsClient(t *testing.T) {
	c := New(context.Background(), []string{"wss://relay.example"})
	a := KeyPackageFetcherAdapter{Client: c}
	assert.Same(t, c, a.Client)
}

func TestPublishRetriesThreeTimesWithDoublingBackoff(t *testing.T) {
	// Checks the retry schedule Publish follows (spec §7): the
	// publishMaxAttempts constant, and a backoff that doubles between
	// consecutive attempts. Publish itself is not called here.
	assert.Equal(t, 3, publishMaxAttempts)

	backoff := publishBaseBackoff
	delays := make([]int64, 0, publishMaxAttempts-1)
	for i := 1; i < publishMaxAttempts; i++ {
		delays = append(delays, int64(backoff))
		backoff *= 2
	}
	for i := 1; i < len(delays); i++ {
		assert.Equal(t, delays[i-1]*2, delays[i], "backoff must double each retry")
	}
}
