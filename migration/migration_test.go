package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/nitrous-signer/core/cryptutil"
	"github.com/nitrous-signer/core/event"
)

type eventSigner struct {
	secretHex string
	codec     *event.Codec
}

func (s eventSigner) SignEvent(evt *nostr.Event) error {
	return s.codec.BuildAndSign(evt, s.secretHex)
}

type digestSigner struct {
	secretHex string
}

func (s digestSigner) SignDigest(digest []byte) (string, error) {
	return cryptutil.Sign(s.secretHex, digest)
}

func TestBuildAndVerifyRoundTrip(t *testing.T) {
	oldSecret, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)
	newSecret, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)
	newPubHex, err := cryptutil.PublicKeyHex(newSecret)
	require.NoError(t, err)

	evt, err := Build(newPubHex, 1700000000, eventSigner{secretHex: oldSecret, codec: event.NewCodec()}, digestSigner{secretHex: newSecret})
	require.NoError(t, err)

	assert.Equal(t, Kind, evt.Kind)
	assert.Equal(t, "Migrating to new key: "+newPubHex, evt.Content)
	require.NoError(t, Verify(evt))
}

func TestVerifyRejectsWrongKind(t *testing.T) {
	evt := nostr.Event{Kind: 1}
	err := Verify(evt)
	require.Error(t, err)
}

func TestVerifyRejectsTamperedNewSig(t *testing.T) {
	oldSecret, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)
	newSecret, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)
	newPubHex, err := cryptutil.PublicKeyHex(newSecret)
	require.NoError(t, err)

	evt, err := Build(newPubHex, 1700000000, eventSigner{secretHex: oldSecret, codec: event.NewCodec()}, digestSigner{secretHex: newSecret})
	require.NoError(t, err)

	for i, tag := range evt.Tags {
		if tag[0] == "new_sig" {
			evt.Tags[i][1] = "00" + tag[1][2:]
		}
	}
	require.Error(t, Verify(evt))
}

func TestVerifyRejectsMissingPTag(t *testing.T) {
	oldSecret, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)
	evt := nostr.Event{
		CreatedAt: nostr.Timestamp(1700000000),
		Kind:      Kind,
		Tags:      nostr.Tags{nostr.Tag{"alt", altTagValue}},
		Content:   "Migrating to new key: deadbeef",
	}
	require.NoError(t, eventSigner{secretHex: oldSecret, codec: event.NewCodec()}.SignEvent(&evt))
	require.Error(t, Verify(evt))
}
