// Package identity implements the bech32 npub/nsec encoding half of the
// Identity data model (spec §3): deriving and formatting the public
// identifiers SecretStore and the rest of the module key entries by.
package identity

import (
	nip19 "github.com/nbd-wtf/go-nostr/nip19"

	"github.com/nitrous-signer/core/cryptutil"
	"github.com/nitrous-signer/core/errs"
	"github.com/nitrous-signer/core/util"
)

// Identity is the public-facing half of a SecretStore entry: everything
// that's safe to log, display, or hand to an approval UI.
type Identity struct {
	Npub        string
	PubkeyHex   string
	Fingerprint string
	Label       string
}

// FromSecret derives the npub, hex pubkey, and fingerprint for secretHex,
// attaching label as-is.
func FromSecret(secretHex, label string) (Identity, error) {
	pub, err := cryptutil.PublicKeyHex(secretHex)
	if err != nil {
		return Identity{}, errs.Wrap(errs.InvalidInput, "derive public key", err)
	}
	npub, err := nip19.EncodePublicKey(pub)
	if err != nil {
		return Identity{}, errs.Wrap(errs.InvalidInput, "encode npub", err)
	}
	return Identity{
		Npub:        npub,
		PubkeyHex:   pub,
		Fingerprint: util.Fingerprint(pub),
		Label:       label,
	}, nil
}

// NpubFromPubkeyHex bech32-encodes an already-known hex pubkey as an
// npub, without requiring the corresponding secret key.
func NpubFromPubkeyHex(pubkeyHex string) (string, error) {
	npub, err := nip19.EncodePublicKey(pubkeyHex)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "encode npub", err)
	}
	return npub, nil
}

// EncodeNsec bech32-encodes a hex secret key as an nsec string. Callers
// must treat the result as sensitive as the secret itself.
func EncodeNsec(secretHex string) (string, error) {
	nsec, err := nip19.EncodePrivateKey(secretHex)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "encode nsec", err)
	}
	return nsec, nil
}

// DecodeNsec recovers the hex secret key from an nsec string.
func DecodeNsec(nsec string) (string, error) {
	prefix, val, err := nip19.Decode(nsec)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "decode nsec", err)
	}
	if prefix != "nsec" {
		return "", errs.New(errs.InvalidInput, "not an nsec value")
	}
	sk, ok := val.(string)
	if !ok {
		return "", errs.New(errs.InvalidInput, "malformed nsec payload")
	}
	return sk, nil
}

// DecodeNpub recovers the hex public key from an npub string.
func DecodeNpub(npub string) (string, error) {
	prefix, val, err := nip19.Decode(npub)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "decode npub", err)
	}
	if prefix != "npub" {
		return "", errs.New(errs.InvalidInput, "not an npub value")
	}
	pub, ok := val.(string)
	if !ok {
		return "", errs.New(errs.InvalidInput, "malformed npub payload")
	}
	return pub, nil
}

// Selector identifies a SecretStore entry by either its npub or its hex
// pubkey; ResolvePubkeyHex normalizes either form to hex.
func ResolvePubkeyHex(selector string) (string, error) {
	if len(selector) >= 4 && selector[:4] == "npub" {
		return DecodeNpub(selector)
	}
	return selector, nil
}
