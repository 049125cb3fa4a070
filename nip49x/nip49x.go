// Package nip49x implements Nip49Codec (spec §4.5): scrypt-hardened,
// passphrase-encrypted secret-key backups in the NIP-49 "ncryptsec" bech32
// wire format. It reuses github.com/btcsuite/btcd/btcutil/bech32 for the
// bech32 envelope (the same 5-bit-group codec github.com/nbd-wtf/go-nostr's
// own nip19 package is built on) and golang.org/x/crypto's scrypt/
// chacha20poly1305 for the KDF and AEAD, per the NIP-49 v2 wire spec.
package nip49x

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/nitrous-signer/core/errs"
)

const (
	hrp           = "ncryptsec"
	versionByte   = 0x02
	saltLen       = 16
	xchachaNonce  = 24
	scryptR       = 8
	scryptP       = 1
	defaultKSByte = 0x02 // "unknown" key security, matches a plain software-vault backup
)

// EncryptSecret wraps secretHex under passphrase using scrypt(logN) for key
// stretching and XChaCha20-Poly1305 for authenticated encryption, and
// bech32-encodes the result with the "ncryptsec" HRP. Empty passphrases are
// rejected per spec §4.5.
func EncryptSecret(secretHex, passphrase string, logN uint8) (string, error) {
	if passphrase == "" {
		return "", errs.New(errs.InvalidInput, "passphrase must not be empty")
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil || len(secret) != 32 {
		return "", errs.New(errs.InvalidInput, "secret key must be 32 bytes hex")
	}

	salt := make([]byte, saltLen)
	if err := randRead(salt); err != nil {
		return "", errs.Wrap(errs.InvalidInput, "generate salt", err)
	}
	nonce := make([]byte, xchachaNonce)
	if err := randRead(nonce); err != nil {
		return "", errs.Wrap(errs.InvalidInput, "generate nonce", err)
	}

	key, err := deriveKey(passphrase, salt, logN)
	if err != nil {
		return "", err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "init aead", err)
	}
	aad := []byte{logN, defaultKSByte}
	ciphertext := aead.Seal(nil, nonce, secret, aad)

	payload := make([]byte, 0, 1+1+saltLen+xchachaNonce+1+len(ciphertext))
	payload = append(payload, versionByte, logN)
	payload = append(payload, salt...)
	payload = append(payload, nonce...)
	payload = append(payload, defaultKSByte)
	payload = append(payload, ciphertext...)

	converted, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "convert bits", err)
	}
	encoded, err := bech32.Encode(hrp, converted)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "bech32 encode", err)
	}
	return encoded, nil
}

// DecryptSecret recovers the hex secret key from an ncryptsec string given
// the passphrase. Returns errs.AuthFail on a wrong passphrase (the AEAD tag
// will not verify) rather than a generic decode error.
func DecryptSecret(ncryptsec, passphrase string) (string, error) {
	if passphrase == "" {
		return "", errs.New(errs.InvalidInput, "passphrase must not be empty")
	}
	decodedHRP, data, err := bech32.Decode(ncryptsec)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "bech32 decode", err)
	}
	if decodedHRP != hrp {
		return "", errs.New(errs.InvalidInput, fmt.Sprintf("unexpected bech32 prefix %q", decodedHRP))
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "convert bits", err)
	}
	if len(payload) < 1+1+saltLen+xchachaNonce+1+16 {
		return "", errs.New(errs.InvalidInput, "ncryptsec payload too short")
	}
	if payload[0] != versionByte {
		return "", errs.New(errs.InvalidInput, "unsupported ncryptsec version")
	}
	logN := payload[1]
	salt := payload[2 : 2+saltLen]
	nonce := payload[2+saltLen : 2+saltLen+xchachaNonce]
	ksb := payload[2+saltLen+xchachaNonce]
	ciphertext := payload[2+saltLen+xchachaNonce+1:]

	key, err := deriveKey(passphrase, salt, logN)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "init aead", err)
	}
	aad := []byte{logN, ksb}
	secret, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return "", errs.New(errs.AuthFail, "wrong passphrase")
	}
	return hex.EncodeToString(secret), nil
}

func deriveKey(passphrase string, salt []byte, logN uint8) ([]byte, error) {
	n := 1 << logN
	key, err := scrypt.Key([]byte(passphrase), salt, n, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "scrypt", err)
	}
	return key, nil
}
