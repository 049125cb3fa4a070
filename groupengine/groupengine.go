// Package groupengine implements the GroupEngine adapter (spec §4.10): a
// pure mapping onto mlscore (the external MLS library stand-in) that
// holds no state beyond the library handle, the on-disk group database,
// and an in-memory set of the event ids it has sent. It is the sole writer to that database, opened under an
// exclusive advisory lock per spec §5's shared-resource policy.
package groupengine

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/nitrous-signer/core/bus"
	"github.com/nitrous-signer/core/corelog"
	"github.com/nitrous-signer/core/errs"
	"github.com/nitrous-signer/core/event"
	"github.com/nitrous-signer/core/mlscore"
)

var log = corelog.For("groupengine")

const (
	KindKeyPackage      = 443
	KindWelcome         = 444
	KindGroupMessage    = 445
	KindKeyPackageRelay = 10051
)

// ProcessResult discriminates what process_message found, per spec
// §4.10: Application(inner_event_json) | Commit | OwnMessage | Other.
type ProcessResult struct {
	Kind           string // "application" | "commit" | "own_message" | "other"
	InnerEventJSON string
	GroupIDHex     string
	Epoch          uint64
}

const (
	ResultApplication = "application"
	ResultCommit      = "commit"
	ResultOwnMessage  = "own_message"
	ResultOther       = "other"
)

// messageEnvelope is the kind-445 content wire format this adapter
// produces and consumes: a discriminated union of a commit (plain MLS
// commit bytes, needed by every member to advance state) or an
// application message (opaque ciphertext sealed under the epoch key).
type messageEnvelope struct {
	Type       string `json:"type"` // "commit" | "application"
	CommitJSON []byte `json:"commit_json,omitempty"`
	Ciphertext []byte `json:"ciphertext,omitempty"`
	Nonce      []byte `json:"nonce,omitempty"`
	SenderSig  []byte `json:"sender_sig_pub,omitempty"`
}

// Adapter is the GroupEngine: create_group/process_welcome/send_message/
// process_message/add_member/encrypt_media/decrypt_media, backed by an
// exclusively-locked on-disk group database.
type Adapter struct {
	mu      sync.Mutex
	dbPath  string
	lock    *flock.Flock
	groups  map[string]*mlscore.Group // keyed by hex(group_id)
	sentIDs map[string]bool           // event ids this adapter authored, for OwnMessage detection
	codec   *event.Codec
	b       *bus.Bus
}

// Open opens (creating if absent) the group database at dbPath under an
// exclusive advisory lock. A second Open on the same path while the
// first is still open returns errs.Duplicate ("AlreadyInitialized" per
// spec §5).
func Open(dbPath string, b *bus.Bus) (*Adapter, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, errs.Wrap(errs.BackendUnavailable, "create group db directory", err)
	}
	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errs.Wrap(errs.BackendUnavailable, "lock group database", err)
	}
	if !locked {
		return nil, errs.New(errs.Duplicate, "AlreadyInitialized: group database is already open")
	}

	a := &Adapter{
		dbPath:  dbPath,
		lock:    lock,
		groups:  map[string]*mlscore.Group{},
		sentIDs: map[string]bool{},
		codec:   event.NewCodec(),
		b:       b,
	}
	if err := a.load(); err != nil {
		lock.Unlock()
		return nil, err
	}
	return a, nil
}

// Close releases the exclusive advisory lock.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lock.Unlock()
}

type persistedRecord struct {
	GroupIDHex string `json:"group_id_hex"`
	StateJSON  []byte `json:"state_json"`
}

func (a *Adapter) load() error {
	data, err := os.ReadFile(a.dbPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.BackendUnavailable, "read group database", err)
	}
	if len(data) == 0 {
		return nil
	}
	var records []persistedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return errs.Wrap(errs.BackendUnavailable, "parse group database", err)
	}
	for _, r := range records {
		g, err := mlscore.FromBytes(r.StateJSON, nil)
		if err != nil {
			continue
		}
		a.groups[r.GroupIDHex] = g
	}
	return nil
}

func (a *Adapter) persist() error {
	records := make([]persistedRecord, 0, len(a.groups))
	for idHex, g := range a.groups {
		stateJSON, err := g.ToBytes()
		if err != nil {
			return err
		}
		records = append(records, persistedRecord{GroupIDHex: idHex, StateJSON: stateJSON})
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errs.Wrap(errs.BackendUnavailable, "marshal group database", err)
	}
	return os.WriteFile(a.dbPath, data, 0o600)
}

// CreateGroup builds a new group with creatorKeys as its sole member,
// then adds every key package in keyPackagesJSON (spec §4.10
// create_group), producing one welcome per added member plus the
// resulting commit ("evolution_json").
func (a *Adapter) CreateGroup(creatorPubHex string, keyPackagesJSON []string, name, description string, adminHexes, relayURLs []string, creatorKeys mlscore.Keys) (groupIDHex string, welcomesJSON []string, evolutionJSON string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	groupID := make([]byte, 16)
	if _, err := rand.Read(groupID); err != nil {
		return "", nil, "", errs.Wrap(errs.InvalidInput, "generate group id", err)
	}
	g, err := mlscore.Create(groupID, name, description, adminHexes, relayURLs, creatorKeys)
	if err != nil {
		return "", nil, "", err
	}
	idHex := hex.EncodeToString(groupID)

	var commitJSON []byte
	for _, kpJSON := range keyPackagesJSON {
		var kp mlscore.KeyPackage
		if err := json.Unmarshal([]byte(kpJSON), &kp); err != nil {
			return "", nil, "", errs.Wrap(errs.ProtocolViolation, "parse key package", err)
		}
		var welcomeJSON []byte
		commitJSON, welcomeJSON, err = g.AddMember(kp)
		if err != nil {
			return "", nil, "", err
		}
		welcomesJSON = append(welcomesJSON, string(welcomeJSON))
	}

	a.groups[idHex] = g
	if err := a.persist(); err != nil {
		return "", nil, "", err
	}
	if a.b != nil {
		a.b.Publish(bus.Event{Kind: bus.GroupCreated, Payload: idHex})
	}
	log.Info().Str("group_id", idHex).Int("members", len(keyPackagesJSON)+1).Msg("group created")
	return idHex, welcomesJSON, string(commitJSON), nil
}

// ProcessWelcome joins a group from a processed welcome rumor (spec
// §4.10 process_welcome).
func (a *Adapter) ProcessWelcome(wrapperID, welcomeRumorJSON string, keys mlscore.Keys) (groupIDHex string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	g, err := mlscore.JoinFromWelcome([]byte(welcomeRumorJSON), keys)
	if err != nil {
		return "", err
	}
	idHex := hex.EncodeToString(g.State.GroupID)
	a.groups[idHex] = g
	if err := a.persist(); err != nil {
		return "", err
	}
	if a.b != nil {
		a.b.Publish(bus.Event{Kind: bus.WelcomeReceived, Payload: idHex})
	}
	log.Info().Str("group_id", idHex).Str("wrapper_id", wrapperID).Msg("welcome processed")
	return idHex, nil
}

// SendMessage seals innerEventJSON as an application message under
// groupIDHex's current epoch and returns the kind-445 event JSON,
// signed with a fresh ephemeral key per MIP-03 (spec §4.10
// send_message).
func (a *Adapter) SendMessage(groupIDHex, innerEventJSON string, ephemeralSecretHex string) (kind445EventJSON string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	g, ok := a.groups[groupIDHex]
	if !ok {
		return "", errs.New(errs.NotFound, "unknown group")
	}
	ciphertext, nonce, err := g.SealApplication([]byte(innerEventJSON))
	if err != nil {
		return "", err
	}
	envelope := messageEnvelope{Type: "application", Ciphertext: ciphertext, Nonce: nonce}
	content, err := json.Marshal(envelope)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "marshal message envelope", err)
	}

	evt := &nostr.Event{
		Kind:      KindGroupMessage,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"h", groupIDHex}},
		Content:   string(content),
	}
	if err := a.codec.BuildAndSign(evt, ephemeralSecretHex); err != nil {
		return "", err
	}
	a.sentIDs[evt.ID] = true

	out, err := json.Marshal(evt)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "marshal event", err)
	}
	return string(out), nil
}

// ProcessMessage classifies and applies an inbound kind-445 event (spec
// §4.10 process_message).
func (a *Adapter) ProcessMessage(eventJSON string) (ProcessResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var evt nostr.Event
	if err := json.Unmarshal([]byte(eventJSON), &evt); err != nil {
		return ProcessResult{}, errs.Wrap(errs.ProtocolViolation, "parse group message event", err)
	}
	if a.sentIDs[evt.ID] {
		return ProcessResult{Kind: ResultOwnMessage}, nil
	}
	if err := a.codec.VerifyEvent(evt); err != nil {
		return ProcessResult{}, errs.Wrap(errs.SigFail, "group message signature invalid", err)
	}

	groupIDHex := firstTagValue(evt.Tags, "h")
	if groupIDHex == "" {
		return ProcessResult{Kind: ResultOther}, nil
	}
	g, ok := a.groups[groupIDHex]
	if !ok {
		return ProcessResult{Kind: ResultOther}, errs.New(errs.NotFound, "unknown group")
	}

	var envelope messageEnvelope
	if err := json.Unmarshal([]byte(evt.Content), &envelope); err != nil {
		return ProcessResult{}, errs.Wrap(errs.ProtocolViolation, "parse message envelope", err)
	}

	switch envelope.Type {
	case "commit":
		if err := g.ApplyCommit(envelope.CommitJSON); err != nil {
			return ProcessResult{}, err
		}
		if err := a.persist(); err != nil {
			return ProcessResult{}, err
		}
		if a.b != nil {
			a.b.Publish(bus.Event{Kind: bus.GroupUpdated, Payload: bus.GroupUpdatedPayload{GroupIDHex: groupIDHex, Epoch: g.State.Epoch}})
		}
		return ProcessResult{Kind: ResultCommit, GroupIDHex: groupIDHex, Epoch: g.State.Epoch}, nil
	case "application":
		plaintext, err := g.OpenApplication(envelope.Ciphertext, envelope.Nonce)
		if err != nil {
			return ProcessResult{}, err
		}
		if a.b != nil {
			a.b.Publish(bus.Event{Kind: bus.MessageReceived, Payload: bus.MessageReceivedPayload{GroupIDHex: groupIDHex, InnerEventJSON: string(plaintext)}})
		}
		return ProcessResult{Kind: ResultApplication, InnerEventJSON: string(plaintext), GroupIDHex: groupIDHex, Epoch: g.State.Epoch}, nil
	default:
		return ProcessResult{Kind: ResultOther, GroupIDHex: groupIDHex}, nil
	}
}

// AddMember adds a new member's key package to an existing group,
// producing an Add+Commit the caller publishes as kind 445 and a
// welcome the caller gift-wraps as kind 444 (spec §4.10 add_member).
func (a *Adapter) AddMember(groupIDHex, keyPackageJSON string) (welcomeJSON, commitJSON string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	g, ok := a.groups[groupIDHex]
	if !ok {
		return "", "", errs.New(errs.NotFound, "unknown group")
	}
	var kp mlscore.KeyPackage
	if err := json.Unmarshal([]byte(keyPackageJSON), &kp); err != nil {
		return "", "", errs.Wrap(errs.ProtocolViolation, "parse key package", err)
	}
	commitRaw, welcomeRaw, err := g.AddMember(kp)
	if err != nil {
		return "", "", err
	}
	if err := a.persist(); err != nil {
		return "", "", err
	}
	if a.b != nil {
		a.b.Publish(bus.Event{Kind: bus.GroupUpdated, Payload: bus.GroupUpdatedPayload{GroupIDHex: groupIDHex, Epoch: g.State.Epoch}})
	}
	return string(welcomeRaw), string(commitRaw), nil
}

// EncryptMedia seals plaintext under groupIDHex's current epoch (spec
// §4.10 encrypt_media).
func (a *Adapter) EncryptMedia(groupIDHex string, plaintext []byte) (ciphertext, nonce, fileHash []byte, epoch uint64, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.groups[groupIDHex]
	if !ok {
		return nil, nil, nil, 0, errs.New(errs.NotFound, "unknown group")
	}
	return g.EncryptMedia(plaintext)
}

// DecryptMedia recovers plaintext sealed under groupIDHex's epoch epoch
// (spec §4.10 decrypt_media).
func (a *Adapter) DecryptMedia(groupIDHex string, ciphertext, nonce []byte, epoch uint64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.groups[groupIDHex]
	if !ok {
		return nil, errs.New(errs.NotFound, "unknown group")
	}
	return g.DecryptMedia(ciphertext, nonce, epoch)
}

// Group returns the current local view of groupIDHex, or errs.NotFound.
func (a *Adapter) Group(groupIDHex string) (mlscore.GroupState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.groups[groupIDHex]
	if !ok {
		return mlscore.GroupState{}, errs.New(errs.NotFound, "unknown group")
	}
	return g.State, nil
}

// ListGroups returns every locally known group's state.
func (a *Adapter) ListGroups() []mlscore.GroupState {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]mlscore.GroupState, 0, len(a.groups))
	for _, g := range a.groups {
		out = append(out, g.State)
	}
	return out
}

func firstTagValue(tags nostr.Tags, name string) string {
	for _, t := range tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}


