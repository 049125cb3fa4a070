package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZeroOverwritesAllBytes(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5}
	Zero(b)
	assert.Equal(t, []byte{0, 0, 0, 0, 0}, b)
}

func TestZeroEmptySliceNoop(t *testing.T) {
	var b []byte
	assert.NotPanics(t, func() { Zero(b) })
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual([]byte("secret"), []byte("secret")))
	assert.False(t, ConstantTimeEqual([]byte("secret"), []byte("wrong!")))
	assert.False(t, ConstantTimeEqual([]byte("short"), []byte("longer string")))
}

func TestFingerprintTruncatesToEightChars(t *testing.T) {
	assert.Equal(t, "deadbeef", Fingerprint("deadbeefcafe0123"))
}

func TestFingerprintShortInputReturnedUnchanged(t *testing.T) {
	assert.Equal(t, "abcd", Fingerprint("abcd"))
}

func TestEncodeDecodeHexRoundTrip(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef}
	encoded := EncodeHex(data)
	assert.Equal(t, "deadbeef", encoded)

	decoded, err := DecodeHex(encoded)
	assert.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestDecodeHexRejectsOddLength(t *testing.T) {
	_, err := DecodeHex("abc")
	assert.Error(t, err)
}
