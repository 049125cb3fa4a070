package groupengine

import (
	"strings"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/nitrous-signer/core/errs"
)

// ValidateKeyPackageEvent checks the structural shape of a kind-443
// KeyPackage event: non-empty content, mls_protocol_version and
// mls_ciphersuite tags with values, a relays tag, and a 64-character
// pubkey (only its length is checked, not that it is hex). Adapted from the relay pack's NIP-EE validator, which checks
// the same shape before accepting a KeyPackage event for storage.
func ValidateKeyPackageEvent(evt nostr.Event) error {
	if evt.Kind != KindKeyPackage {
		return errs.New(errs.ProtocolViolation, "not a key package event")
	}
	if evt.Content == "" {
		return errs.New(errs.ProtocolViolation, "key package event must have non-empty content")
	}
	if v := firstTagValue(evt.Tags, "mls_protocol_version"); v == "" {
		return errs.New(errs.ProtocolViolation, "key package event must have a non-empty mls_protocol_version tag")
	}
	if v := firstTagValue(evt.Tags, "mls_ciphersuite"); v == "" {
		return errs.New(errs.ProtocolViolation, "key package event must have a non-empty mls_ciphersuite tag")
	}
	if !hasTag(evt.Tags, "relays") {
		return errs.New(errs.ProtocolViolation, "key package event must have a relays tag")
	}
	if len(evt.PubKey) != 64 {
		return errs.New(errs.ProtocolViolation, "key package event pubkey must be 64 hex characters")
	}
	return nil
}

// ValidateWelcomeEvent checks the structural shape of a kind-444
// Welcome event (always delivered gift-wrapped, per spec §4.8): an
// e tag with a 64-char event id pointing at the key package it
// answers, a relays tag, and non-empty content.
func ValidateWelcomeEvent(evt nostr.Event) error {
	if evt.Kind != KindWelcome {
		return errs.New(errs.ProtocolViolation, "not a welcome event")
	}
	if evt.Content == "" {
		return errs.New(errs.ProtocolViolation, "welcome event must have non-empty content")
	}
	eTag := firstTagValue(evt.Tags, "e")
	if eTag == "" {
		return errs.New(errs.ProtocolViolation, "welcome event must have an e tag referencing the key package event")
	}
	if len(eTag) != 64 {
		return errs.New(errs.ProtocolViolation, "welcome event e tag must be a 64-char event id")
	}
	if !hasTag(evt.Tags, "relays") {
		return errs.New(errs.ProtocolViolation, "welcome event must have a relays tag")
	}
	return nil
}

// ValidateGroupEvent checks the structural shape of a kind-445 Group
// event: non-empty content and an h tag carrying the group id.
func ValidateGroupEvent(evt nostr.Event) error {
	if evt.Kind != KindGroupMessage {
		return errs.New(errs.ProtocolViolation, "not a group event")
	}
	if evt.Content == "" {
		return errs.New(errs.ProtocolViolation, "group event must have non-empty content")
	}
	if firstTagValue(evt.Tags, "h") == "" {
		return errs.New(errs.ProtocolViolation, "group event must have a non-empty h tag")
	}
	return nil
}

// ValidateKeyPackageRelaysList checks the structural shape of a
// kind-10051 replaceable event: at least one relay tag, every one
// prefixed wss:// or ws://.
func ValidateKeyPackageRelaysList(evt nostr.Event) error {
	if evt.Kind != KindKeyPackageRelay {
		return errs.New(errs.ProtocolViolation, "not a key package relay list event")
	}
	count := 0
	for _, tag := range evt.Tags {
		if len(tag) < 2 || tag[0] != "relay" {
			continue
		}
		count++
		if !strings.HasPrefix(tag[1], "wss://") && !strings.HasPrefix(tag[1], "ws://") {
			return errs.New(errs.ProtocolViolation, "relay tag url must start with wss:// or ws://")
		}
	}
	if count == 0 {
		return errs.New(errs.ProtocolViolation, "key package relay list must have at least one relay tag")
	}
	return nil
}

// IsMLSEvent reports whether evt's kind belongs to the NIP-EE family.
func IsMLSEvent(evt nostr.Event) bool {
	switch evt.Kind {
	case KindKeyPackage, KindWelcome, KindGroupMessage, KindKeyPackageRelay:
		return true
	default:
		return false
	}
}

func hasTag(tags nostr.Tags, name string) bool {
	for _, t := range tags {
		if len(t) >= 1 && t[0] == name {
			return true
		}
	}
	return false
}
