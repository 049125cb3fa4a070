// Package secretstore implements SecretStore (spec §4.1): the durable,
// encrypted-at-rest mapping from identity to secret key. It is the sole
// writer to a vault.Vault; every other engine that needs a secret goes
// through this package.
package secretstore

import (
	"sync"

	"github.com/nitrous-signer/core/corelog"
	"github.com/nitrous-signer/core/errs"
	"github.com/nitrous-signer/core/identity"
	"github.com/nitrous-signer/core/util"
	"github.com/nitrous-signer/core/vault"
)

var log = corelog.For("secretstore")

// Entry is the non-secret view of a stored identity, safe to log or hand
// to an approval UI (spec §3 Identity: "never copied into logs").
type Entry struct {
	Npub        string
	PubkeyHex   string
	Fingerprint string
	Label       string
}

// Store is the SecretStore contract: add/remove/lookup/list/set_label
// over a backing vault.Vault, keyed by npub.
type Store struct {
	mu sync.RWMutex
	v  vault.Vault
}

// New wraps an already-open vault.Vault. The store never owns the
// vault's lifecycle — callers close it explicitly.
func New(v vault.Vault) *Store {
	return &Store{v: v}
}

// Add stores secretHex under the identity it derives to, returning
// errs.Duplicate if that npub is already present and errs.BackendUnavailable
// if the vault backend can't be reached.
func (s *Store) Add(secretHex, label string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := identity.FromSecret(secretHex, label)
	if err != nil {
		return Entry{}, err
	}

	if _, _, err := s.v.Get(id.Npub); err == nil {
		return Entry{}, errs.New(errs.Duplicate, "identity already present")
	} else if errs.KindOf(err) != errs.NotFound {
		return Entry{}, errs.Wrap(errs.BackendUnavailable, "check existing entry", err)
	}

	if err := s.v.Put(id.Npub, secretHex, label); err != nil {
		return Entry{}, err
	}
	log.Info().Str("fingerprint", id.Fingerprint).Msg("identity added")
	return toEntry(id), nil
}

// Remove deletes the identity named by selector (an npub or hex pubkey).
func (s *Store) Remove(selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	npub, err := s.resolveNpub(selector)
	if err != nil {
		return err
	}
	if err := s.v.Delete(npub); err != nil {
		return err
	}
	log.Info().Str("npub", util.Fingerprint(npub)).Msg("identity removed")
	return nil
}

// Lookup returns the secret, label, and fingerprint for selector, or
// errs.NotFound. The returned secret is the caller's responsibility to
// zeroize with util.Zero once no longer needed.
func (s *Store) Lookup(selector string) (secretHex string, label string, fingerprint string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	npub, err := s.resolveNpub(selector)
	if err != nil {
		return "", "", "", err
	}
	secret, lbl, err := s.v.Get(npub)
	if err != nil {
		return "", "", "", err
	}
	pub, perr := identity.DecodeNpub(npub)
	if perr != nil {
		return "", "", "", errs.Wrap(errs.InvalidInput, "decode stored npub", perr)
	}
	return secret, lbl, util.Fingerprint(pub), nil
}

// List returns every stored identity's public half, never the secret.
func (s *Store) List() ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.v.List()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		pub, err := identity.DecodeNpub(r.Npub)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Npub:        r.Npub,
			PubkeyHex:   pub,
			Fingerprint: util.Fingerprint(pub),
			Label:       r.Label,
		})
	}
	return entries, nil
}

// SetLabel renames the label attached to selector's identity.
func (s *Store) SetLabel(selector, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	npub, err := s.resolveNpub(selector)
	if err != nil {
		return err
	}
	return s.v.SetLabel(npub, label)
}

// resolveNpub normalizes a selector (an npub or a 64-char hex pubkey) to
// its npub bech32 form, the key the vault is keyed by.
func (s *Store) resolveNpub(selector string) (string, error) {
	if len(selector) >= 4 && selector[:4] == "npub" {
		return selector, nil
	}
	return identity.NpubFromPubkeyHex(selector)
}

func toEntry(id identity.Identity) Entry {
	return Entry{
		Npub:        id.Npub,
		PubkeyHex:   id.PubkeyHex,
		Fingerprint: id.Fingerprint,
		Label:       id.Label,
	}
}
