package event

import (
	"testing"

	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitrous-signer/core/cryptutil"
)

func TestBuildAndSignVerify(t *testing.T) {
	sk, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)

	codec := NewCodec()
	evt := &nostr.Event{
		CreatedAt: 1700000000,
		Kind:      1,
		Tags:      nostr.Tags{{"t", "test"}},
		Content:   "hello world",
	}
	require.NoError(t, codec.BuildAndSign(evt, sk))

	assert.NotEmpty(t, evt.ID)
	assert.NotEmpty(t, evt.Sig)
	assert.NotEmpty(t, evt.PubKey)
	assert.NoError(t, codec.VerifyEvent(*evt))
}

func TestVerifyEventDetectsTampering(t *testing.T) {
	sk, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)

	codec := NewCodec()
	evt := &nostr.Event{CreatedAt: 1700000000, Kind: 1, Content: "original"}
	require.NoError(t, codec.BuildAndSign(evt, sk))

	evt.Content = "tampered"
	assert.Error(t, codec.VerifyEvent(*evt))
}

func TestSerializeForIDIsCanonical(t *testing.T) {
	tags := nostr.Tags{{"e", "abc"}, {"p", "def"}}
	ser := SerializeForID("pub1", 42, 1, tags, "hi")
	want := `[0,"pub1",42,1,[["e","abc"],["p","def"]],"hi"]`
	assert.Equal(t, want, string(ser))
}

func TestSerializeForIDEmptyTags(t *testing.T) {
	ser := SerializeForID("pub1", 1, 0, nil, "")
	want := `[0,"pub1",1,0,[],""]`
	assert.Equal(t, want, string(ser))
}
