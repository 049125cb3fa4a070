// Package nip44x implements Nip44Codec (spec §4.4): conversation-key
// derivation and authenticated symmetric encryption per NIP-44 v2. It
// builds directly on cryptutil's secp256k1 ECDH and golang.org/x/crypto's
// hkdf/chacha20 primitives — the same crypto stack
// github.com/nbd-wtf/go-nostr's own nip44 package is built from — rather
// than depending on that package's exact (and, for this module's purposes,
// less precisely pinned) wire helpers, since spec §8 property 2 requires
// byte-exact round-trip behavior this module controls end to end.
package nip44x

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/bits"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"

	"github.com/nitrous-signer/core/cryptutil"
	"github.com/nitrous-signer/core/errs"
)

const (
	version     = byte(0x02)
	minPlain    = 1
	maxPlain    = 0xffff
	nonceLen    = 32
	macLen      = 32
	chachaNonce = 12
)

// ConversationKey derives the 32-byte NIP-44 conversation key shared
// between mySecretHex and theirPubkeyHex: HKDF-extract over the ECDH
// shared x-coordinate, salt "nip44-v2".
func ConversationKey(mySecretHex, theirPubkeyHex string) ([]byte, error) {
	sharedX, err := cryptutil.SharedX(mySecretHex, theirPubkeyHex)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "derive conversation key", err)
	}
	return hkdf.Extract(sha256.New, sharedX, []byte("nip44-v2")), nil
}

// Encrypt authenticates and encrypts plaintext under convKey, returning the
// base64-encoded NIP-44 v2 payload (version || nonce || ciphertext || mac).
func Encrypt(convKey []byte, plaintext string) (string, error) {
	if len(convKey) != 32 {
		return "", errs.New(errs.InvalidInput, "conversation key must be 32 bytes")
	}
	if len(plaintext) < minPlain || len(plaintext) > maxPlain {
		return "", errs.New(errs.InvalidInput, "plaintext length out of NIP-44 bounds")
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", errs.Wrap(errs.InvalidInput, "generate nonce", err)
	}

	chachaKey, chachaIV, hmacKey, err := deriveKeys(convKey, nonce)
	if err != nil {
		return "", err
	}

	padded := pad(plaintext)
	ciphertext := make([]byte, len(padded))
	cipher, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaIV)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "init chacha20", err)
	}
	cipher.XORKeyStream(ciphertext, padded)

	mac := computeMAC(hmacKey, nonce, ciphertext)

	payload := make([]byte, 0, 1+nonceLen+len(ciphertext)+macLen)
	payload = append(payload, version)
	payload = append(payload, nonce...)
	payload = append(payload, ciphertext...)
	payload = append(payload, mac...)

	return base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt verifies and decrypts a base64 NIP-44 v2 payload under convKey.
// Returns errs.AuthFail on any MAC, version, or padding mismatch, never a
// partial plaintext.
func Decrypt(convKey []byte, ciphertextB64 string) (string, error) {
	if len(convKey) != 32 {
		return "", errs.New(errs.InvalidInput, "conversation key must be 32 bytes")
	}
	payload, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", errs.Wrap(errs.AuthFail, "decode payload", err)
	}
	if len(payload) < 1+nonceLen+macLen+2 {
		return "", errs.New(errs.AuthFail, "payload too short")
	}
	if payload[0] != version {
		return "", errs.New(errs.AuthFail, "unsupported NIP-44 version")
	}

	nonce := payload[1 : 1+nonceLen]
	body := payload[1+nonceLen : len(payload)-macLen]
	gotMAC := payload[len(payload)-macLen:]

	chachaKey, chachaIV, hmacKey, err := deriveKeys(convKey, nonce)
	if err != nil {
		return "", err
	}

	wantMAC := computeMAC(hmacKey, nonce, body)
	if !hmac.Equal(wantMAC, gotMAC) {
		return "", errs.New(errs.AuthFail, "MAC verification failed")
	}

	padded := make([]byte, len(body))
	cipher, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaIV)
	if err != nil {
		return "", errs.Wrap(errs.AuthFail, "init chacha20", err)
	}
	cipher.XORKeyStream(padded, body)

	plaintext, err := unpad(padded)
	if err != nil {
		return "", errs.Wrap(errs.AuthFail, "unpad plaintext", err)
	}
	return string(plaintext), nil
}

// deriveKeys expands the conversation key + per-message nonce into the
// chacha20 key/nonce and the hmac key, via HKDF-expand as NIP-44 v2 defines.
func deriveKeys(convKey, nonce []byte) (chachaKey, chachaIV, hmacKey []byte, err error) {
	r := hkdf.Expand(sha256.New, convKey, nonce)
	out := make([]byte, 32+chachaNonce+32)
	if _, err := r.Read(out); err != nil {
		return nil, nil, nil, errs.Wrap(errs.InvalidInput, "hkdf expand", err)
	}
	return out[0:32], out[32 : 32+chachaNonce], out[32+chachaNonce:], nil
}

func computeMAC(hmacKey, aad, ciphertext []byte) []byte {
	h := hmac.New(sha256.New, hmacKey)
	h.Write(aad)
	h.Write(ciphertext)
	return h.Sum(nil)
}

// pad implements the NIP-44 v2 length-hiding padding scheme: a 2-byte
// big-endian length prefix followed by the plaintext, zero-padded out to
// calcPaddedLen(len(plaintext)).
func pad(plaintext string) []byte {
	raw := []byte(plaintext)
	padded := calcPaddedLen(len(raw))
	out := make([]byte, 2+padded)
	binary.BigEndian.PutUint16(out[:2], uint16(len(raw)))
	copy(out[2:], raw)
	return out
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, fmt.Errorf("padded body too short")
	}
	unpaddedLen := int(binary.BigEndian.Uint16(padded[:2]))
	rest := padded[2:]
	if unpaddedLen == 0 || unpaddedLen > len(rest) {
		return nil, fmt.Errorf("invalid declared plaintext length")
	}
	if calcPaddedLen(unpaddedLen) != len(rest) {
		return nil, fmt.Errorf("padding length mismatch")
	}
	plaintext := rest[:unpaddedLen]
	padding := rest[unpaddedLen:]
	if !bytes.Equal(padding, make([]byte, len(padding))) {
		return nil, fmt.Errorf("non-zero padding bytes")
	}
	return plaintext, nil
}

// calcPaddedLen follows the NIP-44 v2 reference algorithm: round up to the
// next power-of-two "chunk" so ciphertext length only reveals a coarse
// size bucket.
func calcPaddedLen(unpaddedLen int) int {
	if unpaddedLen <= 32 {
		return 32
	}
	nextPower := 1 << (bits.Len(uint(unpaddedLen-1)))
	var chunk int
	if nextPower <= 256 {
		chunk = 32
	} else {
		chunk = nextPower / 8
	}
	return chunk * ((unpaddedLen-1)/chunk + 1)
}
