// Package giftwrap implements GiftWrapEngine (spec §4.8, NIP-59):
// double-sealed, ephemeral-key gift wraps for private message delivery.
// It is grounded directly on the teacher's nostr.go DM subscription,
// which decrypts inbound gift wraps via
// nip59.GiftUnwrap(*ie.Event, func(otherpubkey, ciphertext string)
// (string, error) { return kr.Decrypt(ctx, ciphertext, otherpubkey) }) —
// the same two-layer unwrap shape reimplemented here on nip44x/event so
// Wrap and Unwrap share one dependency stack end to end.
package giftwrap

import (
	"encoding/json"
	"math/rand"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/nitrous-signer/core/cryptutil"
	"github.com/nitrous-signer/core/errs"
	"github.com/nitrous-signer/core/event"
	"github.com/nitrous-signer/core/nip44x"
)

const (
	KindSeal = 13
	KindWrap = 1059

	wrapJitterSecs = 86400
)

var codec = event.NewCodec()

// Wrap builds a kind-13 seal authored by sender, then a kind-1059 wrap
// authored by a freshly generated, single-use ephemeral key, per spec
// §4.8. The ephemeral key is used nowhere else and discarded once the
// wrap is signed.
func Wrap(rumor nostr.Event, recipientPubkeyHex, senderSecretHex string) (*nostr.Event, error) {
	senderPub, err := cryptutil.PublicKeyHex(senderSecretHex)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "derive sender public key", err)
	}
	rumor.PubKey = senderPub
	rumor.ID = ""
	rumor.Sig = ""

	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "serialize rumor", err)
	}

	sealConvKey, err := nip44x.ConversationKey(senderSecretHex, recipientPubkeyHex)
	if err != nil {
		return nil, err
	}
	sealContent, err := nip44x.Encrypt(sealConvKey, string(rumorJSON))
	if err != nil {
		return nil, err
	}

	seal := &nostr.Event{
		Kind:      KindSeal,
		CreatedAt: nostr.Now(),
		Content:   sealContent,
	}
	if err := codec.BuildAndSign(seal, senderSecretHex); err != nil {
		return nil, err
	}

	ephemeralSecret, err := cryptutil.GenerateSecretKey()
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "generate ephemeral key", err)
	}

	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "serialize seal", err)
	}

	wrapConvKey, err := nip44x.ConversationKey(ephemeralSecret, recipientPubkeyHex)
	if err != nil {
		return nil, err
	}
	wrapContent, err := nip44x.Encrypt(wrapConvKey, string(sealJSON))
	if err != nil {
		return nil, err
	}

	wrap := &nostr.Event{
		Kind:      KindWrap,
		CreatedAt: nostr.Timestamp(randomizedNow()),
		Tags:      nostr.Tags{{"p", recipientPubkeyHex}},
		Content:   wrapContent,
	}
	if err := codec.BuildAndSign(wrap, ephemeralSecret); err != nil {
		return nil, err
	}
	return wrap, nil
}

// Unwrap verifies and peels a kind-1059 wrap under the recipient's
// secret key, returning the inner rumor and the seal author's pubkey
// (the rumor's attested author, per spec §4.8). Failures are returned
// as distinct *errs.Error kinds so the router can tell "not for me"
// from "tampered".
func Unwrap(wrap nostr.Event, recipientSecretHex string) (*nostr.Event, string, error) {
	if err := codec.VerifyEvent(wrap); err != nil {
		return nil, "", errs.Wrap(errs.SigFail, "wrap signature invalid", err)
	}

	wrapConvKey, err := nip44x.ConversationKey(recipientSecretHex, wrap.PubKey)
	if err != nil {
		return nil, "", err
	}
	sealJSON, err := nip44x.Decrypt(wrapConvKey, wrap.Content)
	if err != nil {
		return nil, "", errs.Wrap(errs.AuthFail, "decrypt wrap content", err)
	}

	var seal nostr.Event
	if err := json.Unmarshal([]byte(sealJSON), &seal); err != nil {
		return nil, "", errs.Wrap(errs.ProtocolViolation, "parse seal", err)
	}
	if seal.Kind != KindSeal {
		return nil, "", errs.New(errs.ProtocolViolation, "inner event is not a seal")
	}
	if err := codec.VerifyEvent(seal); err != nil {
		return nil, "", errs.Wrap(errs.SigFail, "seal signature invalid", err)
	}

	sealConvKey, err := nip44x.ConversationKey(recipientSecretHex, seal.PubKey)
	if err != nil {
		return nil, "", err
	}
	rumorJSON, err := nip44x.Decrypt(sealConvKey, seal.Content)
	if err != nil {
		return nil, "", errs.Wrap(errs.AuthFail, "decrypt seal content", err)
	}

	var rumor nostr.Event
	if err := json.Unmarshal([]byte(rumorJSON), &rumor); err != nil {
		return nil, "", errs.Wrap(errs.ProtocolViolation, "parse rumor", err)
	}
	if rumor.PubKey != seal.PubKey {
		return nil, "", errs.New(errs.ProtocolViolation, "rumor author does not match sealing author")
	}

	return &rumor, seal.PubKey, nil
}

// randomizedNow returns now jittered by up to +/- wrapJitterSecs, per
// design note §9 ("randomized timestamps on gift wraps... to frustrate
// traffic analysis").
func randomizedNow() int64 {
	jitter := rand.Int63n(2*wrapJitterSecs+1) - wrapJitterSecs
	return int64(nostr.Now()) + jitter
}
