// Package delegation implements DelegationEngine (spec §4.6): NIP-26
// delegation token creation, revocation, and validation, persisted as
// JSON per delegator npub, the same per-identity JSON persistence shape
// the teacher's nip51.go uses for self-encrypted list storage.
package delegation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nitrous-signer/core/bus"
	"github.com/nitrous-signer/core/cryptutil"
	"github.com/nitrous-signer/core/errs"
)

// Delegation is the spec §3 Delegation data model.
type Delegation struct {
	ID               string   `json:"id"`
	DelegatorNpub    string   `json:"delegator_npub"`
	DelegateePubkey  string   `json:"delegatee_pubkey_hex"`
	AllowedKinds     []int    `json:"allowed_kinds,omitempty"`
	HasAllowedKinds  bool     `json:"has_allowed_kinds"`
	ValidFrom        int64    `json:"valid_from"`
	ValidUntil       int64    `json:"valid_until"`
	Conditions       string   `json:"conditions"`
	Signature        string   `json:"signature"`
	CreatedAt        int64    `json:"created_at"`
	Revoked          bool     `json:"revoked"`
	RevokedAt        int64    `json:"revoked_at"`
	Label            string   `json:"label,omitempty"`
}

// Signer signs an arbitrary 32-byte digest on behalf of a delegator
// npub, the seam DelegationEngine calls through SigningPipeline (spec
// §4.6: "request signature by delegator through SigningPipeline")
// rather than touching SecretStore directly.
type Signer interface {
	SignDigest(delegatorNpub string, digest []byte) (sigHex string, err error)
}

// Engine is the DelegationEngine: create/revoke/is_valid/build_tag over
// a JSON file per delegator, persisted under storeDir.
type Engine struct {
	mu      sync.Mutex
	storeDir string
	signer  Signer
	b       *bus.Bus
	nextID  int
}

// New returns an Engine persisting to storeDir/<delegator>.json.
func New(storeDir string, signer Signer, b *bus.Bus) *Engine {
	return &Engine{storeDir: storeDir, signer: signer, b: b}
}

// Create builds a Delegation's conditions string, signs it on behalf of
// delegatorNpub, and persists it. allowedKinds == nil means "all kinds".
// from/until == 0 means "no bound".
func (e *Engine) Create(delegatorNpub, delegateeHex string, allowedKinds []int, from, until int64, label string) (Delegation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	conditions := buildConditions(allowedKinds, from, until)
	digest := delegationDigest(delegateeHex, conditions)

	sig, err := e.signer.SignDigest(delegatorNpub, digest)
	if err != nil {
		return Delegation{}, errs.Wrap(errs.AuthFail, "sign delegation conditions", err)
	}

	d := Delegation{
		ID:              fmt.Sprintf("%s-%d", delegatorNpub, time.Now().UnixNano()),
		DelegatorNpub:   delegatorNpub,
		DelegateePubkey: delegateeHex,
		AllowedKinds:    allowedKinds,
		HasAllowedKinds: allowedKinds != nil,
		ValidFrom:       from,
		ValidUntil:      until,
		Conditions:      conditions,
		Signature:       sig,
		CreatedAt:       time.Now().Unix(),
		Label:           label,
	}

	delegations, err := e.load(delegatorNpub)
	if err != nil {
		return Delegation{}, err
	}
	delegations = append(delegations, d)
	if err := e.save(delegatorNpub, delegations); err != nil {
		return Delegation{}, err
	}
	return d, nil
}

// Revoke marks id revoked for delegator; revocation is local-only (spec
// §3: it does not invalidate anything on relays that already hold the
// tag).
func (e *Engine) Revoke(delegatorNpub, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delegations, err := e.load(delegatorNpub)
	if err != nil {
		return err
	}
	found := false
	for i := range delegations {
		if delegations[i].ID == id {
			delegations[i].Revoked = true
			delegations[i].RevokedAt = time.Now().Unix()
			found = true
			break
		}
	}
	if !found {
		return errs.New(errs.NotFound, "delegation not found")
	}
	if err := e.save(delegatorNpub, delegations); err != nil {
		return err
	}
	if e.b != nil {
		e.b.Publish(bus.Event{Kind: bus.DelegationRevoked, Payload: id})
	}
	return nil
}

// List returns every delegation recorded for delegatorNpub.
func (e *Engine) List(delegatorNpub string) ([]Delegation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.load(delegatorNpub)
}

// IsValid checks d against now for eventKind, per spec §4.6: not
// revoked, within [valid_from, valid_until], and eventKind permitted by
// allowed_kinds (eventKind == 0 skips the kind check entirely, matching
// the spec's preserved "kind=0 means skip" convention, per design note
// §9(b)).
func IsValid(d Delegation, eventKind int, now int64) bool {
	if d.Revoked {
		return false
	}
	if d.ValidFrom != 0 && now < d.ValidFrom {
		return false
	}
	if d.ValidUntil != 0 && now > d.ValidUntil {
		return false
	}
	if d.HasAllowedKinds && eventKind != 0 {
		for _, k := range d.AllowedKinds {
			if k == eventKind {
				return true
			}
		}
		return false
	}
	return true
}

// Verify checks d.Signature against d.Conditions under the delegator's
// pubkey (hex), confirming the invariant every DelegationEngine caller
// relies on (spec §3: "every issued Delegation's signature verifies
// under its delegator_npub").
func Verify(d Delegation, delegatorPubkeyHex string) bool {
	digest := delegationDigest(d.DelegateePubkey, d.Conditions)
	return cryptutil.Verify(delegatorPubkeyHex, digest, d.Signature)
}

// BuildTag returns the ["delegation", delegator_hex, conditions, sig]
// tag spec §4.6 defines, for embedding in a delegatee-authored event.
func BuildTag(d Delegation, delegatorPubkeyHex string) []string {
	return []string{"delegation", delegatorPubkeyHex, d.Conditions, d.Signature}
}

// buildConditions produces the canonical NIP-26 conditions string: kind
// clauses in insertion order, then created_at>, then created_at<, with
// absent fields omitted entirely (spec §4.6 edge case).
func buildConditions(allowedKinds []int, from, until int64) string {
	var parts []string
	for _, k := range allowedKinds {
		parts = append(parts, "kind="+strconv.Itoa(k))
	}
	if from != 0 {
		parts = append(parts, "created_at>"+strconv.FormatInt(from, 10))
	}
	if until != 0 {
		parts = append(parts, "created_at<"+strconv.FormatInt(until, 10))
	}
	return strings.Join(parts, "&")
}

// delegationDigest is sha256(sha256(delegatee_hex_bytes || conditions_utf8)),
// the double-hash NIP-26 signs over (spec §3).
func delegationDigest(delegateeHex, conditions string) []byte {
	delegateeBytes, _ := hex.DecodeString(delegateeHex)
	inner := sha256.New()
	inner.Write(delegateeBytes)
	inner.Write([]byte(conditions))
	innerSum := inner.Sum(nil)
	outer := sha256.Sum256(innerSum)
	return outer[:]
}

func (e *Engine) storePath(delegatorNpub string) string {
	return filepath.Join(e.storeDir, delegatorNpub+".json")
}

func (e *Engine) load(delegatorNpub string) ([]Delegation, error) {
	data, err := os.ReadFile(e.storePath(delegatorNpub))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.BackendUnavailable, "read delegation store", err)
	}
	var delegations []Delegation
	if err := json.Unmarshal(data, &delegations); err != nil {
		return nil, errs.Wrap(errs.BackendUnavailable, "parse delegation store", err)
	}
	sort.SliceStable(delegations, func(i, j int) bool {
		return delegations[i].CreatedAt < delegations[j].CreatedAt
	})
	return delegations, nil
}

func (e *Engine) save(delegatorNpub string, delegations []Delegation) error {
	if err := os.MkdirAll(e.storeDir, 0o700); err != nil {
		return errs.Wrap(errs.BackendUnavailable, "create delegation store dir", err)
	}
	data, err := json.MarshalIndent(delegations, "", "  ")
	if err != nil {
		return errs.Wrap(errs.BackendUnavailable, "marshal delegation store", err)
	}
	return os.WriteFile(e.storePath(delegatorNpub), data, 0o600)
}
