package nip49x

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = strings.Repeat("01", 32)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := EncryptSecret(testSecret, "correct horse battery staple", 4)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(enc, "ncryptsec1"))

	got, err := DecryptSecret(enc, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, testSecret, got)
}

func TestDecryptWrongPassphraseFails(t *testing.T) {
	enc, err := EncryptSecret(testSecret, "right passphrase", 4)
	require.NoError(t, err)

	_, err = DecryptSecret(enc, "wrong passphrase")
	require.Error(t, err)
}

func TestEmptyPassphraseRejected(t *testing.T) {
	_, err := EncryptSecret(testSecret, "", 4)
	assert.Error(t, err)

	enc, err := EncryptSecret(testSecret, "x", 4)
	require.NoError(t, err)
	_, err = DecryptSecret(enc, "")
	assert.Error(t, err)
}

func TestMnemonicValidate(t *testing.T) {
	valid := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	assert.True(t, MnemonicValidate(valid))
	assert.False(t, MnemonicValidate("not a valid mnemonic phrase at all nope"))
	assert.False(t, MnemonicValidate("abandon abandon"))
}

func TestMnemonicToSecretDeterministic(t *testing.T) {
	phrase := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

	s1, err := MnemonicToSecret(phrase, 0)
	require.NoError(t, err)
	s2, err := MnemonicToSecret(phrase, 0)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.Len(t, s1, 64)

	s3, err := MnemonicToSecret(phrase, 1)
	require.NoError(t, err)
	assert.NotEqual(t, s1, s3)
}

func TestMnemonicToSecretRejectsInvalidPhrase(t *testing.T) {
	_, err := MnemonicToSecret("totally bogus phrase", 0)
	assert.Error(t, err)
}
