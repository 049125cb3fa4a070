// Package mlscore is a deliberately simplified stand-in for a real MLS
// (RFC 9420) implementation, the "external MLS library" GroupEngine
// delegates to per spec §4.10. It is adapted directly from
// other_examples/f3aea00d_germtb-mlsgit's own MLS-like engine (which
// documents itself as "a self-contained implementation providing
// MLS-like semantics ... using Ed25519 + HKDF ... until a forked
// emersion/go-mls exposes the required methods"): epoch-keyed group
// state, HKDF-derived epoch secrets, and Ed25519 membership keys carried
// in the roster (commits and messages are not signed with them),
// generalized from mlsgit's single-repo-file domain to Nostr groups,
// key packages, and application-message encryption.
package mlscore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/nitrous-signer/core/errs"
)

// Keys bundles the membership keys a participant needs: an Ed25519
// keypair (its public half goes into key packages and the roster; this
// package signs nothing with it) and an "init" keypair
// used as the key-package's public contribution.
type Keys struct {
	SigPriv  ed25519.PrivateKey
	SigPub   ed25519.PublicKey
	InitPriv []byte
	InitPub  []byte
}

// GenerateKeys produces a fresh membership keypair.
func GenerateKeys() (Keys, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keys{}, errs.Wrap(errs.InvalidInput, "generate ed25519 keypair", err)
	}
	initPriv := make([]byte, 32)
	if _, err := rand.Read(initPriv); err != nil {
		return Keys{}, errs.Wrap(errs.InvalidInput, "generate init key", err)
	}
	h := sha256.Sum256(initPriv)
	return Keys{SigPriv: priv, SigPub: pub, InitPriv: initPriv, InitPub: h[:]}, nil
}

// KeyPackage is the serializable content of a kind-443 event (spec §3
// "Key package (kind 443)... content carries an MLS key package").
type KeyPackage struct {
	Identity []byte `json:"identity"`
	SigPub   []byte `json:"sig_pub"`
	InitPub  []byte `json:"init_pub"`
}

// BuildKeyPackage constructs the public key-package payload for keys,
// labeled with the owning identity (the owner's hex pubkey bytes).
func BuildKeyPackage(identity []byte, keys Keys) KeyPackage {
	return KeyPackage{Identity: identity, SigPub: keys.SigPub, InitPub: keys.InitPub}
}

// member is one entry in a group's membership roster.
type member struct {
	Identity []byte `json:"identity"`
	SigPub   []byte `json:"sig_pub"`
	InitPub  []byte `json:"init_pub"`
	Active   bool   `json:"active"`
}

// GroupState is the MLS group local view (spec §3 "MLS group (local
// view)"), serialized as the GroupEngine adapter's persisted record.
type GroupState struct {
	GroupID      []byte   `json:"group_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Epoch        uint64   `json:"epoch"`
	EpochSecret  []byte   `json:"epoch_secret"`
	State        string   `json:"state"` // Active | Inactive | Pending
	AdminHexes   []string `json:"admin_hexes"`
	RelayURLs    []string `json:"relay_urls"`
	Members      []member `json:"members"`
	OwnLeafIndex int      `json:"own_leaf_index"`
}

const (
	StateActive   = "Active"
	StateInactive = "Inactive"
	StatePending  = "Pending"
)

// Group wraps a GroupState with the local signing key needed to author
// commits and application messages.
type Group struct {
	State  GroupState
	SigKey ed25519.PrivateKey
}

// Create starts a new group with creator as its sole member.
func Create(groupID []byte, name, description string, adminHexes, relayURLs []string, keys Keys) (*Group, error) {
	epochSecret := make([]byte, 32)
	if _, err := rand.Read(epochSecret); err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "generate epoch secret", err)
	}
	return &Group{
		State: GroupState{
			GroupID:     groupID,
			Name:        name,
			Description: description,
			Epoch:       0,
			EpochSecret: epochSecret,
			State:       StateActive,
			AdminHexes:  adminHexes,
			RelayURLs:   relayURLs,
			Members: []member{{
				Identity: keys.SigPub, // creator's identity stands in for its hex pubkey bytes
				SigPub:   keys.SigPub,
				InitPub:  keys.InitPub,
				Active:   true,
			}},
			OwnLeafIndex: 0,
		},
		SigKey: keys.SigPriv,
	}, nil
}

// WelcomeData is the payload delivered (gift-wrapped, kind 444) to a
// newly added member.
type WelcomeData struct {
	GroupID      []byte   `json:"group_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Epoch        uint64   `json:"epoch"`
	EpochSecret  []byte   `json:"epoch_secret"`
	State        string   `json:"state"`
	AdminHexes   []string `json:"admin_hexes"`
	RelayURLs    []string `json:"relay_urls"`
	Members      []member `json:"members"`
	LeafIndex    int      `json:"leaf_index"`
}

// JoinFromWelcome builds a Group from a processed welcome (spec §4.10
// process_welcome).
func JoinFromWelcome(welcomeJSON []byte, keys Keys) (*Group, error) {
	var w WelcomeData
	if err := json.Unmarshal(welcomeJSON, &w); err != nil {
		return nil, errs.Wrap(errs.ProtocolViolation, "parse welcome", err)
	}
	return &Group{
		State: GroupState{
			GroupID:      w.GroupID,
			Name:         w.Name,
			Description:  w.Description,
			Epoch:        w.Epoch,
			EpochSecret:  w.EpochSecret,
			State:        StateActive,
			AdminHexes:   w.AdminHexes,
			RelayURLs:    w.RelayURLs,
			Members:      w.Members,
			OwnLeafIndex: w.LeafIndex,
		},
		SigKey: keys.SigPriv,
	}, nil
}

func (g *Group) advanceEpoch() {
	epochBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(epochBytes, g.State.Epoch)
	r := hkdf.New(sha256.New, g.State.EpochSecret, epochBytes, []byte("nitrous-epoch-advance"))
	newSecret := make([]byte, 32)
	if _, err := io.ReadFull(r, newSecret); err != nil {
		panic(fmt.Sprintf("mlscore: hkdf advance: %v", err))
	}
	g.State.EpochSecret = newSecret
	g.State.Epoch++
}

// AddMember adds kp to the group (spec §4.10 add_member), returning
// the commit bytes (the new serialized state, for existing members)
// and the welcome bytes (for the new member). The epoch advances.
func (g *Group) AddMember(kp KeyPackage) (commitJSON, welcomeJSON []byte, err error) {
	newLeafIndex := len(g.State.Members)
	g.State.Members = append(g.State.Members, member{
		Identity: kp.Identity,
		SigPub:   kp.SigPub,
		InitPub:  kp.InitPub,
		Active:   true,
	})
	g.advanceEpoch()

	welcome := WelcomeData{
		GroupID:     g.State.GroupID,
		Name:        g.State.Name,
		Description: g.State.Description,
		Epoch:       g.State.Epoch,
		EpochSecret: g.State.EpochSecret,
		State:       g.State.State,
		AdminHexes:  g.State.AdminHexes,
		RelayURLs:   g.State.RelayURLs,
		Members:     g.State.Members,
		LeafIndex:   newLeafIndex,
	}
	welcomeJSON, err = json.Marshal(welcome)
	if err != nil {
		return nil, nil, errs.Wrap(errs.InvalidInput, "marshal welcome", err)
	}
	commitJSON, err = json.Marshal(g.State)
	if err != nil {
		return nil, nil, errs.Wrap(errs.InvalidInput, "marshal commit", err)
	}
	return commitJSON, welcomeJSON, nil
}

// ApplyCommit replaces local state with an incoming commit, advancing
// the local epoch (spec §4.10 process_message Commit branch).
func (g *Group) ApplyCommit(commitJSON []byte) error {
	var newState GroupState
	if err := json.Unmarshal(commitJSON, &newState); err != nil {
		return errs.Wrap(errs.ProtocolViolation, "parse commit", err)
	}
	g.State = newState
	return nil
}

// epochKey derives the symmetric key used to seal application messages
// and media under the current epoch, label-separated from the media
// key by a distinct HKDF info string.
func (g *Group) epochKey(label string) []byte {
	r := hkdf.New(sha256.New, g.State.EpochSecret, nil, []byte(label))
	out := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(fmt.Sprintf("mlscore: hkdf export %q: %v", label, err))
	}
	return out
}

// SealApplication encrypts an application payload under the current
// epoch's application key.
func (g *Group) SealApplication(plaintext []byte) (ciphertext, nonce []byte, err error) {
	key := g.epochKey("nitrous-application-message")
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, errs.Wrap(errs.InvalidInput, "init application aead", err)
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, errs.Wrap(errs.InvalidInput, "generate nonce", err)
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// OpenApplication decrypts an application payload sealed under this
// group's current epoch key.
func (g *Group) OpenApplication(ciphertext, nonce []byte) ([]byte, error) {
	key := g.epochKey("nitrous-application-message")
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "init application aead", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.New(errs.AuthFail, "application message did not verify under current epoch")
	}
	return plaintext, nil
}

// EncryptMedia seals plaintext under the current epoch's media key
// (spec §4.10 encrypt_media), returning ciphertext, nonce, and the
// sha256 of the plaintext (the "file_hash" spec's MediaEngine uploads
// under an X-SHA-256 header).
func (g *Group) EncryptMedia(plaintext []byte) (ciphertext, nonce, fileHash []byte, epoch uint64, err error) {
	key := g.epochKey("nitrous-media")
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, nil, 0, errs.Wrap(errs.InvalidInput, "init media aead", err)
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, nil, 0, errs.Wrap(errs.InvalidInput, "generate media nonce", err)
	}
	hash := sha256.Sum256(plaintext)
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, hash[:], g.State.Epoch, nil
}

// DecryptMedia recovers plaintext sealed by EncryptMedia at the given
// epoch (spec §4.10 decrypt_media). It fails closed if the group's
// epoch secret history no longer covers epoch (this simplified engine
// keeps only the current epoch's secret, matching mlsgit's own
// single-secret-per-epoch model).
func (g *Group) DecryptMedia(ciphertext, nonce []byte, epoch uint64) ([]byte, error) {
	if epoch != g.State.Epoch {
		return nil, errs.New(errs.ProtocolViolation, "media was sealed under a different epoch than the current one")
	}
	key := g.epochKey("nitrous-media")
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "init media aead", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.New(errs.AuthFail, "media did not verify under current epoch")
	}
	return plaintext, nil
}

// ToBytes serializes the group's state for persistence.
func (g *Group) ToBytes() ([]byte, error) {
	data, err := json.Marshal(g.State)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "marshal group state", err)
	}
	return data, nil
}

// FromBytes restores a group from persisted state plus its local
// signing key (the signing key itself is never serialized into group
// state; it is the caller's SecretStore-managed identity).
func FromBytes(data []byte, sigKey ed25519.PrivateKey) (*Group, error) {
	var s GroupState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errs.Wrap(errs.ProtocolViolation, "parse group state", err)
	}
	return &Group{State: s, SigKey: sigKey}, nil
}
