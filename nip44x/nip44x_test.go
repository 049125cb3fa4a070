package nip44x

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitrous-signer/core/cryptutil"
)

func mustKeypair(t *testing.T) (secretHex, pubkeyHex string) {
	t.Helper()
	sk, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)
	pk, err := cryptutil.PublicKeyHex(sk)
	require.NoError(t, err)
	return sk, pk
}

func TestConversationKeySymmetric(t *testing.T) {
	aSk, aPk := mustKeypair(t)
	bSk, bPk := mustKeypair(t)

	kAB, err := ConversationKey(aSk, bPk)
	require.NoError(t, err)
	kBA, err := ConversationKey(bSk, aPk)
	require.NoError(t, err)

	assert.Equal(t, kAB, kBA)
	assert.Len(t, kAB, 32)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	aSk, _ := mustKeypair(t)
	_, bPk := mustKeypair(t)
	convKey, err := ConversationKey(aSk, bPk)
	require.NoError(t, err)

	plaintexts := []string{
		"hello",
		strings.Repeat("x", 33),
		strings.Repeat("y", 1000),
		"éè unicode content \U0001F600",
	}
	for _, pt := range plaintexts {
		ct, err := Encrypt(convKey, pt)
		require.NoError(t, err)

		got, err := Decrypt(convKey, ct)
		require.NoError(t, err)
		assert.Equal(t, pt, got)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	aSk, _ := mustKeypair(t)
	_, bPk := mustKeypair(t)
	convKey, err := ConversationKey(aSk, bPk)
	require.NoError(t, err)

	ct, err := Encrypt(convKey, "secret message")
	require.NoError(t, err)

	wrongKey := make([]byte, 32)
	_, err = Decrypt(wrongKey, ct)
	assert.Error(t, err)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	aSk, _ := mustKeypair(t)
	_, bPk := mustKeypair(t)
	convKey, err := ConversationKey(aSk, bPk)
	require.NoError(t, err)

	ct, err := Encrypt(convKey, "secret message")
	require.NoError(t, err)

	tampered := []byte(ct)
	tampered[len(tampered)-1] ^= 0x01
	_, err = Decrypt(convKey, string(tampered))
	assert.Error(t, err)
}

func TestPaddedLengthBuckets(t *testing.T) {
	assert.Equal(t, 32, calcPaddedLen(1))
	assert.Equal(t, 32, calcPaddedLen(32))
	assert.Equal(t, 64, calcPaddedLen(33))
	assert.True(t, calcPaddedLen(300) >= 300)
}
