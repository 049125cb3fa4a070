package dm

import (
	"encoding/json"
	"sync"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/nitrous-signer/core/errs"
	"github.com/nitrous-signer/core/event"
	"github.com/nitrous-signer/core/nip44x"
)

// KindMuteList is NIP-51's standard "Mute list" kind, reused here for
// per-DM muting instead of per-pubkey muting.
const KindMuteList = 10000

// KindDmArchiveList is a NIP-51 "generic list" (kind 30001) carrying
// the one category this module needs: archived DM groups. There is no
// standardized kind for this, so it follows the teacher's own
// kind-30000 contacts list (a parameterized replaceable list
// distinguished by its "d" tag) rather than inventing a new top-level
// kind.
const KindDmArchiveList = 30001

const archiveDTag = "dm-archived"

// Lists tracks per-DM mute and archive flags (generalized from the
// teacher's nip51.go, which manages kind-30000/10005/10009 people,
// channel, and group lists the same way: an in-memory set rebuilt from
// a self-encrypted list event, republished in full on every change).
// Entries are keyed by groupIDHex rather than peer pubkey, since a DM
// group id is this module's stable handle (see CanonicalName).
type Lists struct {
	mu          sync.Mutex
	myPubHex    string
	mySecretHex string
	codec       *event.Codec
	muted       map[string]bool
	archived    map[string]bool
}

// NewLists returns an empty Lists for the local identity. Call
// ApplyMuteListEvent/ApplyArchiveListEvent with whatever the relay
// last returned to restore prior state.
func NewLists(myPubHex, mySecretHex string) *Lists {
	return &Lists{
		myPubHex:    myPubHex,
		mySecretHex: mySecretHex,
		codec:       event.NewCodec(),
		muted:       make(map[string]bool),
		archived:    make(map[string]bool),
	}
}

// Mute flags groupIDHex as muted.
func (l *Lists) Mute(groupIDHex string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.muted[groupIDHex] = true
}

// Unmute clears the mute flag on groupIDHex.
func (l *Lists) Unmute(groupIDHex string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.muted, groupIDHex)
}

// IsMuted reports whether groupIDHex is currently muted.
func (l *Lists) IsMuted(groupIDHex string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.muted[groupIDHex]
}

// Archive flags groupIDHex as archived.
func (l *Lists) Archive(groupIDHex string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.archived[groupIDHex] = true
}

// Unarchive clears the archive flag on groupIDHex.
func (l *Lists) Unarchive(groupIDHex string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.archived, groupIDHex)
}

// IsArchived reports whether groupIDHex is currently archived.
func (l *Lists) IsArchived(groupIDHex string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.archived[groupIDHex]
}

// selfEncrypt encrypts plaintext to this identity's own pubkey, the
// same self-conversation-key trick as the teacher's selfEncrypt.
func (l *Lists) selfEncrypt(plaintext string) (string, error) {
	convKey, err := nip44x.ConversationKey(l.mySecretHex, l.myPubHex)
	if err != nil {
		return "", err
	}
	return nip44x.Encrypt(convKey, plaintext)
}

func (l *Lists) selfDecrypt(ciphertext string) (string, error) {
	convKey, err := nip44x.ConversationKey(l.mySecretHex, l.myPubHex)
	if err != nil {
		return "", err
	}
	return nip44x.Decrypt(convKey, ciphertext)
}

// BuildMuteListEvent signs a kind-10000 event whose self-encrypted
// content holds every currently muted group id as a ["group", id] tag,
// mirroring buildContactsListEvent's inner-tags-then-encrypt shape.
func (l *Lists) BuildMuteListEvent(createdAt int64) (nostr.Event, error) {
	l.mu.Lock()
	inner := groupTags(l.muted)
	l.mu.Unlock()

	ciphertext, err := l.selfEncrypt(marshalTags(inner))
	if err != nil {
		return nostr.Event{}, errs.Wrap(errs.InvalidInput, "encrypt mute list", err)
	}

	evt := nostr.Event{
		CreatedAt: nostr.Timestamp(createdAt),
		Kind:      KindMuteList,
		Content:   ciphertext,
	}
	if err := l.codec.BuildAndSign(&evt, l.mySecretHex); err != nil {
		return nostr.Event{}, err
	}
	return evt, nil
}

// BuildArchiveListEvent signs a kind-30001 event ("d" tag archiveDTag)
// the same way, for archived groups.
func (l *Lists) BuildArchiveListEvent(createdAt int64) (nostr.Event, error) {
	l.mu.Lock()
	inner := groupTags(l.archived)
	l.mu.Unlock()

	ciphertext, err := l.selfEncrypt(marshalTags(inner))
	if err != nil {
		return nostr.Event{}, errs.Wrap(errs.InvalidInput, "encrypt archive list", err)
	}

	evt := nostr.Event{
		CreatedAt: nostr.Timestamp(createdAt),
		Kind:      KindDmArchiveList,
		Tags:      nostr.Tags{nostr.Tag{"d", archiveDTag}},
		Content:   ciphertext,
	}
	if err := l.codec.BuildAndSign(&evt, l.mySecretHex); err != nil {
		return nostr.Event{}, err
	}
	return evt, nil
}

// ApplyMuteListEvent decrypts evt.Content and replaces the in-memory
// muted set with whatever group ids it names. Used to restore state
// from the last published list event on startup.
func (l *Lists) ApplyMuteListEvent(evt nostr.Event) error {
	if evt.Kind != KindMuteList {
		return errs.New(errs.InvalidInput, "not a mute list event")
	}
	groups, err := l.decryptGroupTags(evt.Content)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.muted = groups
	return nil
}

// ApplyArchiveListEvent is ApplyMuteListEvent's counterpart for the
// archive list.
func (l *Lists) ApplyArchiveListEvent(evt nostr.Event) error {
	if evt.Kind != KindDmArchiveList {
		return errs.New(errs.InvalidInput, "not an archive list event")
	}
	groups, err := l.decryptGroupTags(evt.Content)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.archived = groups
	return nil
}

func (l *Lists) decryptGroupTags(ciphertext string) (map[string]bool, error) {
	if ciphertext == "" {
		return make(map[string]bool), nil
	}
	plaintext, err := l.selfDecrypt(ciphertext)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "decrypt list", err)
	}
	var tags nostr.Tags
	if err := json.Unmarshal([]byte(plaintext), &tags); err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "unmarshal list", err)
	}
	groups := make(map[string]bool)
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == "group" {
			groups[tag[1]] = true
		}
	}
	return groups, nil
}

func groupTags(groups map[string]bool) nostr.Tags {
	var tags nostr.Tags
	for id := range groups {
		tags = append(tags, nostr.Tag{"group", id})
	}
	return tags
}

func marshalTags(tags nostr.Tags) string {
	data, err := json.Marshal(tags)
	if err != nil {
		// tags is always []nostr.Tag of plain strings; only fails on
		// programmer error (e.g. a NaN slipped into a tag, which
		// never happens here).
		return "[]"
	}
	return string(data)
}
