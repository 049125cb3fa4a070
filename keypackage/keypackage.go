// Package keypackage implements KeyPackageManager (spec §4.9):
// kind-443 key package creation, publication, 24-hour auto-rotation,
// and kind-10051 relay-list discovery. It signs through the same
// SigningPipeline every other signer in this module uses and publishes
// through a minimal Publisher collaborator — the relay wire codec is
// out of this module's scope (spec §1), so only the interface lives
// here.
package keypackage

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/nitrous-signer/core/corelog"
	"github.com/nitrous-signer/core/errs"
	"github.com/nitrous-signer/core/groupengine"
	"github.com/nitrous-signer/core/mlscore"
	"github.com/nitrous-signer/core/signing"
)

var log = corelog.For("keypackage")

// DefaultRotationInterval is the 24-hour default spec §4.9 names,
// overridable by callers that construct a Manager directly.
const DefaultRotationInterval = 24 * time.Hour

const mlsProtocolVersion = "1.0"
const mlsCiphersuite = "MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519"

// expirationTag names the ["expiration", unix_ts] tag written on every
// kind-443 event this Manager publishes: a key package can be consumed
// once and must be treated as gone even inside the rotation window, so
// staleness is decided from this tag when present rather than purely
// from rotation-interval bookkeeping.
const expirationTag = "expiration"

// Publisher sends a built, signed event to the author's relays. The
// relay wire codec itself is out of scope for this module; callers
// supply an adapter over it.
type Publisher interface {
	Publish(evt nostr.Event) error
}

// Discoverer looks up the most recent kind-443 key package a pubkey has
// published, used by EnsureKeyPackage to decide staleness.
type Discoverer interface {
	LatestKeyPackage(pubkeyHex string) (evt nostr.Event, found bool, err error)
}

// Manager is the KeyPackageManager collaborator.
type Manager struct {
	mu               sync.Mutex
	npubSelector     string
	pubkeyHex        string
	pipeline         *signing.Pipeline
	publisher        Publisher
	discoverer       Discoverer
	relayURLs        []string
	rotationInterval time.Duration
	keys             mlscore.Keys
	lastPublishedAt  int64
}

// New assembles a Manager. keys are the local MLS membership keys
// (spec §3 "Key package (kind 443)") this identity advertises; rotation
// defaults to DefaultRotationInterval when rotationInterval is zero.
func New(npubSelector, pubkeyHex string, pipeline *signing.Pipeline, publisher Publisher, discoverer Discoverer, relayURLs []string, rotationInterval time.Duration, keys mlscore.Keys) *Manager {
	if rotationInterval == 0 {
		rotationInterval = DefaultRotationInterval
	}
	return &Manager{
		npubSelector:     npubSelector,
		pubkeyHex:        pubkeyHex,
		pipeline:         pipeline,
		publisher:        publisher,
		discoverer:       discoverer,
		relayURLs:        relayURLs,
		rotationInterval: rotationInterval,
		keys:             keys,
	}
}

// EnsureKeyPackage publishes exactly one kind-443 event if no
// unexpired key package is already on the author's relays (spec §4.9,
// scenario S7): on startup with nothing published, this publishes
// once; a second call within the rotation interval publishes nothing.
func (m *Manager) EnsureKeyPackage(now int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.discoverer != nil {
		existing, found, err := m.discoverer.LatestKeyPackage(m.pubkeyHex)
		if err == nil && found && !m.isStale(existing, now) {
			m.lastPublishedAt = int64(existing.CreatedAt)
			return nil
		}
	}
	if m.lastPublishedAt != 0 && now-m.lastPublishedAt < int64(m.rotationInterval.Seconds()) {
		return nil
	}
	return m.publish(now)
}

// Rotate force-checks rotation: a no-op if the last publish is still
// within the rotation interval, otherwise publishes a fresh kind-443.
func (m *Manager) Rotate(now int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastPublishedAt != 0 && now-m.lastPublishedAt < int64(m.rotationInterval.Seconds()) {
		return nil
	}
	return m.publish(now)
}

// isStale prefers the event's own expiration tag, matching the real
// NIP-EE key-package lifecycle where a package can be consumed once
// and must be treated as gone even inside the rotation window. Events
// with no parseable expiration tag (published by another client, or
// predating this field) fall back to rotation-interval bookkeeping.
func (m *Manager) isStale(evt nostr.Event, now int64) bool {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == expirationTag {
			if expiry, err := strconv.ParseInt(tag[1], 10, 64); err == nil {
				return now >= expiry
			}
			break
		}
	}
	return now-int64(evt.CreatedAt) >= int64(m.rotationInterval.Seconds())
}

func (m *Manager) publish(now int64) error {
	kp := mlscore.BuildKeyPackage([]byte(m.pubkeyHex), m.keys)
	content, err := json.Marshal(kp)
	if err != nil {
		return errs.Wrap(errs.InvalidInput, "marshal key package", err)
	}

	evt := &nostr.Event{
		Kind:      groupengine.KindKeyPackage,
		CreatedAt: nostr.Timestamp(now),
		Tags: nostr.Tags{
			{"mls_protocol_version", mlsProtocolVersion},
			{"mls_ciphersuite", mlsCiphersuite},
			{expirationTag, strconv.FormatInt(now+int64(m.rotationInterval.Seconds()), 10)},
			append(nostr.Tag{"relays"}, m.relayURLs...),
		},
		Content: string(content),
	}
	if err := m.pipeline.SignEvent("keypackage-manager", m.npubSelector, evt, nil); err != nil {
		return err
	}
	if err := groupengine.ValidateKeyPackageEvent(*evt); err != nil {
		return err
	}
	if m.publisher != nil {
		if err := m.publisher.Publish(*evt); err != nil {
			return errs.Wrap(errs.Network, "publish key package", err)
		}
	}
	m.lastPublishedAt = now
	log.Info().Str("pubkey", m.pubkeyHex).Int64("created_at", now).Msg("key package published")
	return nil
}

// PublishRelayList publishes a kind-10051 replaceable event listing the
// relays this identity's key packages are discoverable on (spec §4.9:
// "tags are [\"relay\", url] repeated").
func (m *Manager) PublishRelayList(urls []string, now int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(urls) == 0 {
		return errs.New(errs.InvalidInput, "relay list must have at least one url")
	}
	tags := make(nostr.Tags, 0, len(urls))
	for _, u := range urls {
		tags = append(tags, nostr.Tag{"relay", u})
	}
	evt := &nostr.Event{
		Kind:      groupengine.KindKeyPackageRelay,
		CreatedAt: nostr.Timestamp(now),
		Tags:      tags,
	}
	if err := m.pipeline.SignEvent("keypackage-manager", m.npubSelector, evt, nil); err != nil {
		return err
	}
	if err := groupengine.ValidateKeyPackageRelaysList(*evt); err != nil {
		return err
	}
	if m.publisher != nil {
		if err := m.publisher.Publish(*evt); err != nil {
			return errs.Wrap(errs.Network, "publish key package relay list", err)
		}
	}
	m.relayURLs = urls
	return nil
}
