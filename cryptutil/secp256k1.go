// Package cryptutil wraps the secp256k1/BIP-340 primitives this module
// needs directly: key generation, Schnorr sign/verify, and the raw ECDH
// shared-x used to derive NIP-44 conversation keys. It is the one place
// that imports github.com/decred/dcrd/dcrec/secp256k1/v4 — the same curve
// library github.com/nbd-wtf/go-nostr itself is built on — so EventCodec,
// DelegationEngine, and Nip44Codec all sign/verify/derive the same way.
package cryptutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// GenerateSecretKey returns a fresh 32-byte secp256k1 scalar, hex-encoded,
// the same representation EventCodec, SecretStore, and GiftWrapEngine's
// ephemeral keys all use.
func GenerateSecretKey() (string, error) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return "", fmt.Errorf("generate secret key: %w", err)
	}
	defer k.Zero()
	return hex.EncodeToString(k.Serialize()), nil
}

// PublicKeyHex derives the 32-byte x-only BIP-340 public key (hex) for a
// hex-encoded secret key.
func PublicKeyHex(secretHex string) (string, error) {
	priv, err := parsePrivate(secretHex)
	if err != nil {
		return "", err
	}
	defer priv.Zero()
	pub := priv.PubKey()
	return hex.EncodeToString(schnorrPubKeyBytes(pub)), nil
}

// Sign produces a BIP-340 Schnorr signature over an arbitrary 32-byte
// digest using the given hex secret key. EventCodec uses this over the
// event id; DelegationEngine uses it over the NIP-26 double-sha256 digest.
func Sign(secretHex string, digest []byte) (string, error) {
	if len(digest) != 32 {
		return "", fmt.Errorf("sign: digest must be 32 bytes, got %d", len(digest))
	}
	priv, err := parsePrivate(secretHex)
	if err != nil {
		return "", err
	}
	defer priv.Zero()

	sig, err := schnorr.Sign(priv, digest, schnorr.Fastest(rand.Reader))
	if err != nil {
		return "", fmt.Errorf("schnorr sign: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// Verify checks a BIP-340 Schnorr signature over digest against an x-only
// hex public key.
func Verify(pubkeyHex string, digest []byte, sigHex string) bool {
	if len(digest) != 32 {
		return false
	}
	pubBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pubBytes) != 32 {
		return false
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	return sig.Verify(digest, pub)
}

// SharedX returns the raw 32-byte x-coordinate of (secretHex * pubkeyHex),
// the ECDH primitive NIP-44 conversation keys are derived from (spec
// §4.4). This is deliberately not hashed here — HKDF-extract happens one
// layer up in nip44x, matching the NIP-44 v2 construction.
func SharedX(secretHex, pubkeyHex string) ([]byte, error) {
	priv, err := parsePrivate(secretHex)
	if err != nil {
		return nil, err
	}
	defer priv.Zero()

	pubBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pubBytes) != 32 {
		return nil, fmt.Errorf("shared x: invalid x-only pubkey")
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("shared x: parse pubkey: %w", err)
	}

	var jacPub, result secp256k1.JacobianPoint
	pub.AsJacobian(&jacPub)
	secp256k1.ScalarMultNonConst(&priv.Key, &jacPub, &result)
	result.ToAffine()

	x := result.X.Bytes()
	return x[:], nil
}

func parsePrivate(secretHex string) (*secp256k1.PrivateKey, error) {
	b, err := hex.DecodeString(secretHex)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("parse secret key: invalid hex")
	}
	return secp256k1.PrivKeyFromBytes(b), nil
}

// schnorrPubKeyBytes serializes a public key to its 32-byte x-only form.
func schnorrPubKeyBytes(pub *secp256k1.PublicKey) []byte {
	ser := pub.SerializeCompressed()
	return ser[1:] // drop the 0x02/0x03 parity prefix
}
