// Package dm implements DmManager (spec §4.12): two-person MLS groups
// named deterministically from the pair's pubkeys, with idempotent
// open_dm (scenario S6: reopening an existing DM never creates a
// second group).
package dm

import (
	"encoding/hex"
	"strings"
	"sync"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/nitrous-signer/core/corelog"
	"github.com/nitrous-signer/core/errs"
	"github.com/nitrous-signer/core/giftwrap"
	"github.com/nitrous-signer/core/groupengine"
	"github.com/nitrous-signer/core/mlscore"
)

var log = corelog.For("dm")

const namePrefix = "dm:"

// KeyPackageFetcher resolves a peer's most recent kind-443 key package,
// the relay-discovery step DmManager needs before it can create a new
// DM group. The relay wire codec is out of scope for this module (spec
// §1); callers supply an adapter over it.
type KeyPackageFetcher interface {
	LatestKeyPackage(peerPubkeyHex string) (keyPackageJSON string, relayURLs []string, err error)
}

// WelcomeSender delivers a gift-wrapped kind-444 welcome to peerPubkeyHex.
type WelcomeSender interface {
	SendWelcome(wrap nostr.Event) error
}

// CanonicalName returns "dm:" + min(myHex,peerHex) + "+" + max(myHex,peerHex)
// (spec §4.12), so both participants derive the same group name
// independently.
func CanonicalName(myHex, peerHex string) string {
	lo, hi := myHex, peerHex
	if strings.Compare(myHex, peerHex) > 0 {
		lo, hi = peerHex, myHex
	}
	return namePrefix + lo + "+" + hi
}

// Manager is the DmManager collaborator.
type Manager struct {
	mu            sync.Mutex
	myPubHex      string
	mySecretHex   string
	myKeys        mlscore.Keys
	engine        *groupengine.Adapter
	fetcher       KeyPackageFetcher
	welcomeSender WelcomeSender
}

// New assembles a Manager for the local identity myPubHex/mySecretHex
// (mySecretHex is the local identity's secret; it authors and signs the
// kind-13 seal when a welcome is gift-wrapped, and is never persisted by
// this package).
func New(myPubHex, mySecretHex string, myKeys mlscore.Keys, engine *groupengine.Adapter, fetcher KeyPackageFetcher, welcomeSender WelcomeSender) *Manager {
	return &Manager{
		myPubHex:      myPubHex,
		mySecretHex:   mySecretHex,
		myKeys:        myKeys,
		engine:        engine,
		fetcher:       fetcher,
		welcomeSender: welcomeSender,
	}
}

// OpenDm returns the existing active DM group with peerPubHex if one
// exists, otherwise fetches the peer's key package, creates a new
// group, and gift-wraps+sends the resulting welcome (spec §4.12).
// Calling this twice for the same peer returns the same group handle
// both times (scenario S6).
func (m *Manager) OpenDm(peerPubHex string) (groupIDHex string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := CanonicalName(m.myPubHex, peerPubHex)
	if existing, ok := m.findActiveByName(name); ok {
		return existing, nil
	}

	if m.fetcher == nil {
		return "", errs.New(errs.BackendUnavailable, "no key package fetcher configured")
	}
	kpJSON, relayURLs, err := m.fetcher.LatestKeyPackage(peerPubHex)
	if err != nil {
		return "", err
	}
	if kpJSON == "" {
		return "", errs.New(errs.NotFound, "peer has no discoverable key package")
	}

	groupIDHex, welcomesJSON, _, err := m.engine.CreateGroup(
		m.myPubHex, []string{kpJSON}, name, "", []string{m.myPubHex}, relayURLs, m.myKeys)
	if err != nil {
		return "", err
	}
	if len(welcomesJSON) != 1 {
		return "", errs.New(errs.ProtocolViolation, "expected exactly one welcome for a two-person dm")
	}

	if m.welcomeSender != nil {
		rumor := nostr.Event{Kind: groupengine.KindWelcome, Content: welcomesJSON[0]}
		wrap, err := giftwrap.Wrap(rumor, peerPubHex, m.mySecretHex)
		if err != nil {
			return "", err
		}
		if err := m.welcomeSender.SendWelcome(*wrap); err != nil {
			return "", err
		}
	}

	log.Info().Str("peer", peerPubHex).Str("group_id", groupIDHex).Msg("dm opened")
	return groupIDHex, nil
}

// ListDms returns every locally known active group whose name carries
// the "dm:" prefix.
func (m *Manager) ListDms() []mlscore.GroupState {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []mlscore.GroupState
	for _, state := range m.engine.ListGroups() {
		if state.State == mlscore.StateActive && strings.HasPrefix(state.Name, namePrefix) {
			out = append(out, state)
		}
	}
	return out
}

func (m *Manager) findActiveByName(name string) (string, bool) {
	for _, state := range m.engine.ListGroups() {
		if state.Name == name && state.State == mlscore.StateActive {
			return hex.EncodeToString(state.GroupID), true
		}
	}
	return "", false
}
