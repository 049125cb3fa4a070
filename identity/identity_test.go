package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitrous-signer/core/cryptutil"
)

func TestFromSecretAndDecodeRoundTrip(t *testing.T) {
	sk, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)

	id, err := FromSecret(sk, "work key")
	require.NoError(t, err)
	assert.True(t, len(id.Npub) > 4 && id.Npub[:4] == "npub")
	assert.Len(t, id.Fingerprint, 8)
	assert.Equal(t, "work key", id.Label)

	pub, err := DecodeNpub(id.Npub)
	require.NoError(t, err)
	assert.Equal(t, id.PubkeyHex, pub)
}

func TestNsecRoundTrip(t *testing.T) {
	sk, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)

	nsec, err := EncodeNsec(sk)
	require.NoError(t, err)
	assert.Equal(t, "nsec", nsec[:4])

	got, err := DecodeNsec(nsec)
	require.NoError(t, err)
	assert.Equal(t, sk, got)
}

func TestDecodeNpubRejectsWrongPrefix(t *testing.T) {
	sk, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)
	nsec, err := EncodeNsec(sk)
	require.NoError(t, err)

	_, err = DecodeNpub(nsec)
	assert.Error(t, err)
}

func TestResolvePubkeyHex(t *testing.T) {
	sk, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)
	id, err := FromSecret(sk, "")
	require.NoError(t, err)

	resolved, err := ResolvePubkeyHex(id.Npub)
	require.NoError(t, err)
	assert.Equal(t, id.PubkeyHex, resolved)

	resolved, err = ResolvePubkeyHex(id.PubkeyHex)
	require.NoError(t, err)
	assert.Equal(t, id.PubkeyHex, resolved)
}
