// Package event implements EventCodec (spec §4.3): canonical Nostr event
// serialization, id computation, and BIP-340 Schnorr sign/verify. It is the
// leaf dependency of every other engine in this module — DelegationEngine,
// GiftWrapEngine, and KeyPackageManager all sign through it.
//
// Events are represented with github.com/nbd-wtf/go-nostr's Event/Tags
// types, the same envelope the teacher's nostr.go builds with `nostr.Event{
// Kind: ..., Tags: nostr.Tags{...}}.Sign(sk)`; this package reimplements
// the sign/verify step on top of cryptutil so the exact byte-for-byte
// canonical form required by spec §8 property 1 is under our control.
package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/nitrous-signer/core/cryptutil"
	"github.com/nitrous-signer/core/errs"
)

// Codec computes canonical ids and Schnorr signatures for Nostr events.
// It holds no state; every method is a pure function of its arguments.
type Codec struct{}

// NewCodec returns a stateless EventCodec.
func NewCodec() *Codec { return &Codec{} }

// SerializeForID returns the exact six-element JSON array
// [0, pubkey, created_at, kind, tags, content] with no inserted whitespace,
// per spec §4.3 and NIP-01.
func SerializeForID(pubkeyHex string, createdAt nostr.Timestamp, kind int, tags nostr.Tags, content string) []byte {
	if tags == nil {
		tags = nostr.Tags{}
	}
	arr := []any{0, pubkeyHex, int64(createdAt), kind, tags, content}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoder.Encode appends a trailing newline; trim it so the
	// serialization has no whitespace at all, as spec §4.3 requires.
	if err := enc.Encode(arr); err != nil {
		// arr is built from primitives and strings; this cannot fail.
		panic(fmt.Sprintf("event: serialize: %v", err))
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// ID returns sha256(serialized), hex-encoded.
func ID(serialized []byte) string {
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:])
}

// Sign returns a BIP-340 Schnorr signature (hex) over idHex by secretHex.
func Sign(idHex string, secretHex string) (string, error) {
	digest, err := hex.DecodeString(idHex)
	if err != nil || len(digest) != 32 {
		return "", errs.New(errs.InvalidInput, "event id must be 32 bytes hex")
	}
	sig, err := cryptutil.Sign(secretHex, digest)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "sign event", err)
	}
	return sig, nil
}

// Verify checks a Schnorr signature over idHex against an author pubkey.
func Verify(idHex, sigHex, authorPubkeyHex string) bool {
	digest, err := hex.DecodeString(idHex)
	if err != nil || len(digest) != 32 {
		return false
	}
	return cryptutil.Verify(authorPubkeyHex, digest, sigHex)
}

// BuildAndSign computes evt.ID and evt.Sig from its other fields and the
// author's secret key, mutating evt in place. PubKey is derived from
// secretHex and overwritten so callers can't accidentally sign under a
// mismatched author field.
func (c *Codec) BuildAndSign(evt *nostr.Event, secretHex string) error {
	pub, err := cryptutil.PublicKeyHex(secretHex)
	if err != nil {
		return errs.Wrap(errs.InvalidInput, "derive public key", err)
	}
	evt.PubKey = pub

	ser := SerializeForID(evt.PubKey, evt.CreatedAt, evt.Kind, evt.Tags, evt.Content)
	evt.ID = ID(ser)

	sig, err := Sign(evt.ID, secretHex)
	if err != nil {
		return err
	}
	evt.Sig = sig
	return nil
}

// VerifyEvent recomputes evt's canonical id and checks both the id and the
// signature, returning a *errs.Error of kind SigFail on any mismatch.
func (c *Codec) VerifyEvent(evt nostr.Event) error {
	ser := SerializeForID(evt.PubKey, evt.CreatedAt, evt.Kind, evt.Tags, evt.Content)
	wantID := ID(ser)
	if wantID != evt.ID {
		return errs.New(errs.SigFail, "event id does not match canonical serialization")
	}
	if !Verify(evt.ID, evt.Sig, evt.PubKey) {
		return errs.New(errs.SigFail, "signature verification failed")
	}
	return nil
}
