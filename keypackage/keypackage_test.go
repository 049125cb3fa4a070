package keypackage

import (
	"testing"
	"time"

	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitrous-signer/core/approval"
	"github.com/nitrous-signer/core/cryptutil"
	"github.com/nitrous-signer/core/event"
	"github.com/nitrous-signer/core/mlscore"
	"github.com/nitrous-signer/core/secretstore"
	"github.com/nitrous-signer/core/session"
	"github.com/nitrous-signer/core/signing"
	"github.com/nitrous-signer/core/vault"
)

type fakePublisher struct {
	published []nostr.Event
}

func (f *fakePublisher) Publish(evt nostr.Event) error {
	f.published = append(f.published, evt)
	return nil
}

type fakeDiscoverer struct {
	evt   nostr.Event
	found bool
}

func (f *fakeDiscoverer) LatestKeyPackage(pubkeyHex string) (nostr.Event, bool, error) {
	return f.evt, f.found, nil
}

type alwaysAllow struct{}

func (alwaysAllow) RequestApproval(applicationID string, kind int) (approval.Decision, time.Duration) {
	return approval.Allow, approval.Forever
}

func newTestPipeline(t *testing.T) (*signing.Pipeline, string, string) {
	t.Helper()
	v, err := vault.OpenFileVault(t.TempDir()+"/vault.json", "vault-pass", 10)
	require.NoError(t, err)
	store := secretstore.New(v)
	sk, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)
	entry, err := store.Add(sk, "test identity")
	require.NoError(t, err)

	sess := session.New(0, nil)
	require.NoError(t, sess.SetPassword("", "session-pass"))
	require.NoError(t, sess.Authenticate("session-pass"))

	pol := approval.New()
	pipeline := signing.New(pol, sess, store, event.NewCodec(), alwaysAllow{})
	return pipeline, entry.Npub, entry.PubkeyHex
}

func TestEnsureKeyPackagePublishesOnceWhenNoneExists(t *testing.T) {
	pipeline, npub, pubHex := newTestPipeline(t)
	pub := &fakePublisher{}
	keys, err := mlscore.GenerateKeys()
	require.NoError(t, err)

	m := New(npub, pubHex, pipeline, pub, &fakeDiscoverer{found: false}, []string{"wss://relay.example"}, time.Hour, keys)

	require.NoError(t, m.EnsureKeyPackage(1000))
	assert.Len(t, pub.published, 1)
	assert.Equal(t, 443, pub.published[0].Kind)

	require.NoError(t, m.EnsureKeyPackage(1500))
	assert.Len(t, pub.published, 1, "second call within rotation interval must not republish")
}

func TestEnsureKeyPackageSkipsWhenRelayCopyIsFresh(t *testing.T) {
	pipeline, npub, pubHex := newTestPipeline(t)
	pub := &fakePublisher{}
	keys, err := mlscore.GenerateKeys()
	require.NoError(t, err)

	existing := nostr.Event{Kind: 443, CreatedAt: nostr.Timestamp(900)}
	m := New(npub, pubHex, pipeline, pub, &fakeDiscoverer{evt: existing, found: true}, []string{"wss://relay.example"}, time.Hour, keys)

	require.NoError(t, m.EnsureKeyPackage(1000))
	assert.Empty(t, pub.published)
}

func TestEnsureKeyPackagePublishesExpirationTag(t *testing.T) {
	pipeline, npub, pubHex := newTestPipeline(t)
	pub := &fakePublisher{}
	keys, err := mlscore.GenerateKeys()
	require.NoError(t, err)

	m := New(npub, pubHex, pipeline, pub, &fakeDiscoverer{found: false}, []string{"wss://relay.example"}, time.Hour, keys)
	require.NoError(t, m.EnsureKeyPackage(1000))
	require.Len(t, pub.published, 1)

	var expiryValue string
	for _, tag := range pub.published[0].Tags {
		if tag[0] == "expiration" {
			expiryValue = tag[1]
		}
	}
	assert.Equal(t, "4600", expiryValue, "expiration tag must be created_at plus the rotation interval")
}

func TestEnsureKeyPackageTreatsExpiredRelayCopyAsStaleEvenWithinRotationWindow(t *testing.T) {
	pipeline, npub, pubHex := newTestPipeline(t)
	pub := &fakePublisher{}
	keys, err := mlscore.GenerateKeys()
	require.NoError(t, err)

	// Published at 900 with a 1-hour rotation interval, so pure
	// rotation-interval math (now-created_at >= interval) would call
	// this fresh at now=1000. A consumed key package's expiration tag
	// must override that and force republication regardless.
	existing := nostr.Event{
		Kind:      443,
		CreatedAt: nostr.Timestamp(900),
		Tags:      nostr.Tags{{"expiration", "950"}},
	}
	m := New(npub, pubHex, pipeline, pub, &fakeDiscoverer{evt: existing, found: true}, []string{"wss://relay.example"}, time.Hour, keys)

	require.NoError(t, m.EnsureKeyPackage(1000))
	assert.Len(t, pub.published, 1, "expired expiration tag must trigger republication even inside the rotation window")
}

func TestRotateRepublishesAfterInterval(t *testing.T) {
	pipeline, npub, pubHex := newTestPipeline(t)
	pub := &fakePublisher{}
	keys, err := mlscore.GenerateKeys()
	require.NoError(t, err)

	m := New(npub, pubHex, pipeline, pub, &fakeDiscoverer{found: false}, []string{"wss://relay.example"}, time.Hour, keys)
	require.NoError(t, m.EnsureKeyPackage(1000))
	require.NoError(t, m.Rotate(1000+3600))
	assert.Len(t, pub.published, 2)
}

func TestPublishRelayListBuildsRepeatedRelayTags(t *testing.T) {
	pipeline, npub, pubHex := newTestPipeline(t)
	pub := &fakePublisher{}
	keys, err := mlscore.GenerateKeys()
	require.NoError(t, err)

	m := New(npub, pubHex, pipeline, pub, nil, nil, time.Hour, keys)
	require.NoError(t, m.PublishRelayList([]string{"wss://a.example", "wss://b.example"}, 1000))

	require.Len(t, pub.published, 1)
	evt := pub.published[0]
	assert.Equal(t, 10051, evt.Kind)
	var relayTags int
	for _, tag := range evt.Tags {
		if tag[0] == "relay" {
			relayTags++
		}
	}
	assert.Equal(t, 2, relayTags)
}

func TestPublishRelayListRejectsEmptyList(t *testing.T) {
	pipeline, npub, pubHex := newTestPipeline(t)
	keys, err := mlscore.GenerateKeys()
	require.NoError(t, err)
	m := New(npub, pubHex, pipeline, nil, nil, nil, time.Hour, keys)
	assert.Error(t, m.PublishRelayList(nil, 1000))
}
