// Package vault is the external "OS secret vault" collaborator SecretStore
// writes through (spec §4.1). Vault is an interface so a platform keychain
// binding can replace the default implementation without touching
// secretstore; FileVault is the default, grounded in the teacher's
// config-directory layout (root config.go's DataDir) and encrypted at rest
// with nip49x's NIP-49 envelope.
package vault

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/nitrous-signer/core/errs"
	"github.com/nitrous-signer/core/nip49x"
)

// Vault is the durable, encrypted-at-rest key/value surface SecretStore is
// the sole writer to. Keys are npub strings; values are opaque secret
// bytes (hex-encoded secp256k1 scalars in this module).
type Vault interface {
	Put(npub string, secretHex string, label string) error
	Get(npub string) (secretHex string, label string, err error)
	Delete(npub string) error
	List() ([]Record, error)
	SetLabel(npub string, label string) error
	Close() error
}

// Record is one vault entry as returned by List, never including the raw
// secret — callers that need the secret call Get explicitly.
type Record struct {
	Npub  string
	Label string
}

type fileRecord struct {
	Npub      string `json:"npub"`
	Label     string `json:"label"`
	Ncryptsec string `json:"ncryptsec"`
}

// FileVault is a single encrypted JSON file guarded by an exclusive
// advisory lock, the software-vault stand-in for a real OS keychain. Every
// secret is stored NIP-49-encrypted under passphrase, never in the clear.
type FileVault struct {
	mu         sync.Mutex
	path       string
	passphrase string
	logN       uint8
	lock       *flock.Flock
	records    map[string]fileRecord
}

// OpenFileVault opens (creating if absent) the vault file at path, taking
// an exclusive advisory lock so only one process writes it at a time.
// Returns errs.BackendUnavailable if the lock cannot be acquired.
func OpenFileVault(path, passphrase string, logN uint8) (*FileVault, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errs.Wrap(errs.BackendUnavailable, "create vault directory", err)
	}
	lockPath := path + ".lock"
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errs.Wrap(errs.BackendUnavailable, "lock vault", err)
	}
	if !locked {
		return nil, errs.New(errs.BackendUnavailable, "vault is locked by another process")
	}

	fv := &FileVault{
		path:       path,
		passphrase: passphrase,
		logN:       logN,
		lock:       lock,
		records:    map[string]fileRecord{},
	}
	if err := fv.load(); err != nil {
		lock.Unlock()
		return nil, err
	}
	return fv, nil
}

func (v *FileVault) load() error {
	data, err := os.ReadFile(v.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.BackendUnavailable, "read vault file", err)
	}
	if len(data) == 0 {
		return nil
	}
	var records []fileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return errs.Wrap(errs.BackendUnavailable, "parse vault file", err)
	}
	for _, r := range records {
		v.records[r.Npub] = r
	}
	return nil
}

func (v *FileVault) persist() error {
	records := make([]fileRecord, 0, len(v.records))
	for _, r := range v.records {
		records = append(records, r)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errs.Wrap(errs.BackendUnavailable, "marshal vault file", err)
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errs.Wrap(errs.BackendUnavailable, "write vault file", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		return errs.Wrap(errs.BackendUnavailable, "rename vault file", err)
	}
	return nil
}

// Put stores secretHex for npub, overwriting any existing entry. Callers
// enforce duplicate-detection (Ok vs Duplicate) at the secretstore layer.
func (v *FileVault) Put(npub, secretHex, label string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	enc, err := nip49x.EncryptSecret(secretHex, v.passphrase, v.logN)
	if err != nil {
		return errs.Wrap(errs.BackendUnavailable, "encrypt secret for storage", err)
	}
	v.records[npub] = fileRecord{Npub: npub, Label: label, Ncryptsec: enc}
	return v.persist()
}

// Get decrypts and returns the secret and label stored for npub.
func (v *FileVault) Get(npub string) (string, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, ok := v.records[npub]
	if !ok {
		return "", "", errs.New(errs.NotFound, "no vault entry for npub")
	}
	secret, err := nip49x.DecryptSecret(rec.Ncryptsec, v.passphrase)
	if err != nil {
		return "", "", errs.Wrap(errs.BackendUnavailable, "decrypt stored secret", err)
	}
	return secret, rec.Label, nil
}

// Delete removes the entry for npub.
func (v *FileVault) Delete(npub string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.records[npub]; !ok {
		return errs.New(errs.NotFound, "no vault entry for npub")
	}
	delete(v.records, npub)
	return v.persist()
}

// List returns every stored npub and label, without decrypting secrets.
func (v *FileVault) List() ([]Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Record, 0, len(v.records))
	for _, r := range v.records {
		out = append(out, Record{Npub: r.Npub, Label: r.Label})
	}
	return out, nil
}

// SetLabel renames the label of an existing entry without touching the
// encrypted secret.
func (v *FileVault) SetLabel(npub, label string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, ok := v.records[npub]
	if !ok {
		return errs.New(errs.NotFound, "no vault entry for npub")
	}
	rec.Label = label
	v.records[npub] = rec
	return v.persist()
}

// Close releases the exclusive advisory lock.
func (v *FileVault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lock.Unlock()
}
