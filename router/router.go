// Package router implements EventRouter (spec §4.11): kind-dispatch for
// inbound Nostr events, gift-wrap unwrapping, and per-group FIFO
// serialization of MLS message processing so epoch ordering is
// preserved even when events for several groups arrive interleaved.
package router

import (
	"encoding/json"
	"sync"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/nitrous-signer/core/corelog"
	"github.com/nitrous-signer/core/errs"
	"github.com/nitrous-signer/core/giftwrap"
	"github.com/nitrous-signer/core/groupengine"
	"github.com/nitrous-signer/core/mlscore"
	"github.com/nitrous-signer/core/secretstore"
)

var log = corelog.For("router")

// Router is the EventRouter collaborator.
type Router struct {
	identityPubHex string
	npubSelector   string
	store          *secretstore.Store
	keys           mlscore.Keys
	engine         *groupengine.Adapter

	groupLocksMu sync.Mutex
	groupLocks   map[string]*sync.Mutex

	relayListMu sync.Mutex
	relayLists  map[string][]string // author pubkey hex -> key-package relay urls
}

// New assembles a Router bound to one local identity.
func New(identityPubHex, npubSelector string, store *secretstore.Store, keys mlscore.Keys, engine *groupengine.Adapter) *Router {
	return &Router{
		identityPubHex: identityPubHex,
		npubSelector:   npubSelector,
		store:          store,
		keys:           keys,
		engine:         engine,
		groupLocks:     map[string]*sync.Mutex{},
		relayLists:     map[string][]string{},
	}
}

// Route dispatches a single inbound event by kind (spec §4.11). It is
// safe to call concurrently from multiple goroutines: per-group
// processing serializes internally, and independent groups proceed in
// parallel.
func (r *Router) Route(eventJSON string) error {
	var evt nostr.Event
	if err := json.Unmarshal([]byte(eventJSON), &evt); err != nil {
		return errs.Wrap(errs.ProtocolViolation, "parse inbound event", err)
	}

	switch evt.Kind {
	case groupengine.KindKeyPackage:
		return nil
	case 1059:
		return r.routeGiftWrap(evt)
	case groupengine.KindWelcome:
		return r.routeWelcome(evt.ID, eventJSON)
	case groupengine.KindGroupMessage:
		return r.routeMessage(eventJSON)
	case groupengine.KindKeyPackageRelay:
		return r.cacheRelayList(evt)
	default:
		return nil
	}
}

func (r *Router) routeGiftWrap(wrap nostr.Event) error {
	if !hasPTagValue(wrap.Tags, r.identityPubHex) {
		return nil
	}
	secret, _, _, err := r.store.Lookup(r.npubSelector)
	if err != nil {
		return err
	}
	rumor, _, err := giftwrap.Unwrap(wrap, secret)
	if err != nil {
		return err
	}

	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return errs.Wrap(errs.InvalidInput, "marshal unwrapped rumor", err)
	}

	switch rumor.Kind {
	case groupengine.KindWelcome:
		return r.routeWelcome(wrap.ID, string(rumorJSON))
	case groupengine.KindGroupMessage:
		return r.routeMessage(string(rumorJSON))
	default:
		log.Warn().Str("wrap_id", wrap.ID).Int("inner_kind", rumor.Kind).Msg("dropping gift-wrapped event of unexpected kind")
		return nil
	}
}

// routeWelcome accepts the serialized kind-444 event itself (whether it
// arrived gift-wrapped or, rarely, bare) and passes its content — the
// raw MLS welcome payload — to the GroupEngine adapter.
func (r *Router) routeWelcome(wrapperID, welcomeEventJSON string) error {
	var evt nostr.Event
	if err := json.Unmarshal([]byte(welcomeEventJSON), &evt); err != nil {
		return errs.Wrap(errs.ProtocolViolation, "parse welcome event", err)
	}
	if err := groupengine.ValidateWelcomeEvent(evt); err != nil {
		return err
	}
	_, err := r.engine.ProcessWelcome(wrapperID, evt.Content, r.keys)
	return err
}

func (r *Router) routeMessage(eventJSON string) error {
	var evt nostr.Event
	if err := json.Unmarshal([]byte(eventJSON), &evt); err != nil {
		return errs.Wrap(errs.ProtocolViolation, "parse group message", err)
	}
	if err := groupengine.ValidateGroupEvent(evt); err != nil {
		return err
	}
	groupIDHex := firstTagValue(evt.Tags, "h")
	if groupIDHex == "" {
		return errs.New(errs.ProtocolViolation, "group message missing h tag")
	}

	lock := r.groupLock(groupIDHex)
	lock.Lock()
	defer lock.Unlock()

	_, err := r.engine.ProcessMessage(eventJSON)
	return err
}

func (r *Router) cacheRelayList(evt nostr.Event) error {
	var urls []string
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "relay" {
			urls = append(urls, tag[1])
		}
	}
	r.relayListMu.Lock()
	defer r.relayListMu.Unlock()
	r.relayLists[evt.PubKey] = urls
	return nil
}

// CachedRelayList returns the most recently cached kind-10051 relay
// list for pubkeyHex, if any has been seen.
func (r *Router) CachedRelayList(pubkeyHex string) ([]string, bool) {
	r.relayListMu.Lock()
	defer r.relayListMu.Unlock()
	urls, ok := r.relayLists[pubkeyHex]
	return urls, ok
}

func (r *Router) groupLock(groupIDHex string) *sync.Mutex {
	r.groupLocksMu.Lock()
	defer r.groupLocksMu.Unlock()
	lock, ok := r.groupLocks[groupIDHex]
	if !ok {
		lock = &sync.Mutex{}
		r.groupLocks[groupIDHex] = lock
	}
	return lock
}

func hasPTagValue(tags nostr.Tags, pubkeyHex string) bool {
	for _, t := range tags {
		if len(t) >= 2 && t[0] == "p" && t[1] == pubkeyHex {
			return true
		}
	}
	return false
}

func firstTagValue(tags nostr.Tags, name string) string {
	for _, t := range tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}
