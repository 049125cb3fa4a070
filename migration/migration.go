// Package migration implements the kind-1776 key-migration event (NIP-41
// draft, spec §6): an old key announcing a new key, with both keys
// signing the same event id so a verifier can check both signatures
// without needing two different canonical forms.
package migration

import (
	"encoding/hex"

	"github.com/nitrous-signer/core/cryptutil"
	"github.com/nitrous-signer/core/errs"
	"github.com/nitrous-signer/core/event"

	nostr "github.com/nbd-wtf/go-nostr"
)

const Kind = 1776

const altTagValue = "Key migration announcement"

// Signer builds and signs evt in place (EventCodec.BuildAndSign), used
// here for the old key, which authors the event.
type Signer interface {
	SignEvent(evt *nostr.Event) error
}

// DigestSigner signs a raw 32-byte digest, used here for the new key's
// corroborating signature over the already-computed event id.
type DigestSigner interface {
	SignDigest(digest []byte) (sigHex string, err error)
}

// Build constructs the kind-1776 announcement, authored and signed by
// oldSigner, content "Migrating to new key: <new>", tags `["p", <new>]`
// and `["alt", "Key migration announcement"]`. newSigner then signs
// the resulting event id with the new key, attached as a `new_sig` tag
// per spec §6's field list.
func Build(newPubHex string, createdAt int64, oldSigner Signer, newSigner DigestSigner) (nostr.Event, error) {
	evt := nostr.Event{
		CreatedAt: nostr.Timestamp(createdAt),
		Kind:      Kind,
		Tags: nostr.Tags{
			nostr.Tag{"p", newPubHex},
			nostr.Tag{"alt", altTagValue},
		},
		Content: "Migrating to new key: " + newPubHex,
	}
	if err := oldSigner.SignEvent(&evt); err != nil {
		return nostr.Event{}, errs.Wrap(errs.SigFail, "sign migration event with old key", err)
	}

	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil || len(idBytes) != 32 {
		return nostr.Event{}, errs.New(errs.SigFail, "migration event id malformed after signing")
	}
	newSig, err := newSigner.SignDigest(idBytes)
	if err != nil {
		return nostr.Event{}, errs.Wrap(errs.SigFail, "sign migration event id with new key", err)
	}
	evt.Tags = append(evt.Tags, nostr.Tag{"new_sig", newSig})
	return evt, nil
}

// Verify checks that evt is a well-formed, correctly signed kind-1776
// migration event: old-key signature over the event as published, a
// `p` tag naming the new key, an `alt` tag with the expected text, and
// a `new_sig` tag verifying as the new key's Schnorr signature over
// the same event id.
func Verify(evt nostr.Event) error {
	if evt.Kind != Kind {
		return errs.New(errs.ProtocolViolation, "not a key migration event")
	}
	codec := event.NewCodec()
	if err := codec.VerifyEvent(evt); err != nil {
		return errs.Wrap(errs.SigFail, "verify migration event signature", err)
	}

	newPubHex := firstTagValue(evt.Tags, "p")
	if newPubHex == "" {
		return errs.New(errs.ProtocolViolation, "migration event missing p tag")
	}
	if firstTagValue(evt.Tags, "alt") != altTagValue {
		return errs.New(errs.ProtocolViolation, "migration event missing expected alt tag")
	}
	newSig := firstTagValue(evt.Tags, "new_sig")
	if newSig == "" {
		return errs.New(errs.ProtocolViolation, "migration event missing new_sig tag")
	}

	if !cryptutil.Verify(newPubHex, mustDecodeHex(evt.ID), newSig) {
		return errs.New(errs.SigFail, "new_sig does not verify under the new key")
	}
	return nil
}

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func firstTagValue(tags nostr.Tags, name string) string {
	for _, t := range tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}
