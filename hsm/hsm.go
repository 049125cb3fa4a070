// Package hsm implements the HsmProvider interface and registry (spec
// §4.14): a uniform signing-backend abstraction so a local software
// vault, a test mock, and a future PKCS#11 device can all be reached
// through the same calls. Only the local-software and mock variants
// are implemented here; PKCS#11 is named "future" by the spec itself.
package hsm

import (
	"encoding/hex"
	"sync"

	"github.com/google/uuid"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/nitrous-signer/core/cryptutil"
	"github.com/nitrous-signer/core/errs"
	"github.com/nitrous-signer/core/event"
)

// DeviceInfo describes one detected signing backend instance.
type DeviceInfo struct {
	ID    string
	Label string
}

// KeyInfo describes one key a provider holds.
type KeyInfo struct {
	KeyID     string
	Label     string
	PubkeyHex string
}

// Provider is the HsmProvider interface (spec §4.14).
type Provider interface {
	DetectDevices() ([]DeviceInfo, error)
	ListKeys() ([]KeyInfo, error)
	GetPublicKey(keyID string) (string, error)
	SignHash(keyID string, digest []byte) (string, error)
	SignEvent(keyID string, evt *nostr.Event) error
	GenerateKey(label string) (keyID string, err error)
	ImportKey(secretHex, label string) (keyID string, err error)
	DeleteKey(keyID string) error
	Login(pin string) error
	Logout() error
}

// softwareKey is one key held by a SoftwareProvider.
type softwareKey struct {
	secretHex string
	label     string
	pubkeyHex string
}

// SoftwareProvider is the "local software" variant: keys live in
// process memory, gated by an optional PIN, signing done through
// cryptutil/event exactly as SecretStore-backed signing does.
type SoftwareProvider struct {
	mu       sync.Mutex
	label    string
	pin      string // empty means no PIN required
	loggedIn bool
	keys     map[string]softwareKey
	codec    *event.Codec
}

// NewSoftwareProvider returns a local-software Provider. An empty pin
// means Login is not required before signing.
func NewSoftwareProvider(label, pin string) *SoftwareProvider {
	return &SoftwareProvider{
		label: label,
		pin:   pin,
		keys:  map[string]softwareKey{},
		codec: event.NewCodec(),
	}
}

func (p *SoftwareProvider) DetectDevices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "software", Label: p.label}}, nil
}

func (p *SoftwareProvider) requireLoggedIn() error {
	if p.pin != "" && !p.loggedIn {
		return errs.New(errs.PinRequired, "provider requires login before use")
	}
	return nil
}

func (p *SoftwareProvider) ListKeys() ([]KeyInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLoggedIn(); err != nil {
		return nil, err
	}
	out := make([]KeyInfo, 0, len(p.keys))
	for id, k := range p.keys {
		out = append(out, KeyInfo{KeyID: id, Label: k.label, PubkeyHex: k.pubkeyHex})
	}
	return out, nil
}

func (p *SoftwareProvider) GetPublicKey(keyID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLoggedIn(); err != nil {
		return "", err
	}
	k, ok := p.keys[keyID]
	if !ok {
		return "", errs.New(errs.NotFound, "unknown key id")
	}
	return k.pubkeyHex, nil
}

func (p *SoftwareProvider) SignHash(keyID string, digest []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLoggedIn(); err != nil {
		return "", err
	}
	k, ok := p.keys[keyID]
	if !ok {
		return "", errs.New(errs.NotFound, "unknown key id")
	}
	if len(digest) != 32 {
		return "", errs.New(errs.InvalidInput, "digest must be 32 bytes")
	}
	sig, err := cryptutil.Sign(k.secretHex, digest)
	if err != nil {
		return "", errs.Wrap(errs.DeviceError, "sign digest", err)
	}
	return sig, nil
}

func (p *SoftwareProvider) SignEvent(keyID string, evt *nostr.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLoggedIn(); err != nil {
		return err
	}
	k, ok := p.keys[keyID]
	if !ok {
		return errs.New(errs.NotFound, "unknown key id")
	}
	if err := p.codec.BuildAndSign(evt, k.secretHex); err != nil {
		return errs.Wrap(errs.DeviceError, "sign event", err)
	}
	return nil
}

func (p *SoftwareProvider) GenerateKey(label string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLoggedIn(); err != nil {
		return "", err
	}
	secretHex, err := cryptutil.GenerateSecretKey()
	if err != nil {
		return "", errs.Wrap(errs.DeviceError, "generate key", err)
	}
	return p.storeKey(secretHex, label)
}

func (p *SoftwareProvider) ImportKey(secretHex, label string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLoggedIn(); err != nil {
		return "", err
	}
	if _, err := hex.DecodeString(secretHex); err != nil || len(secretHex) != 64 {
		return "", errs.New(errs.InvalidInput, "secret key must be 32 bytes hex")
	}
	return p.storeKey(secretHex, label)
}

func (p *SoftwareProvider) storeKey(secretHex, label string) (string, error) {
	pubkeyHex, err := cryptutil.PublicKeyHex(secretHex)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "derive public key", err)
	}
	keyID := uuid.NewString()
	p.keys[keyID] = softwareKey{secretHex: secretHex, label: label, pubkeyHex: pubkeyHex}
	return keyID, nil
}

func (p *SoftwareProvider) DeleteKey(keyID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLoggedIn(); err != nil {
		return err
	}
	if _, ok := p.keys[keyID]; !ok {
		return errs.New(errs.NotFound, "unknown key id")
	}
	delete(p.keys, keyID)
	return nil
}

func (p *SoftwareProvider) Login(pin string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pin == "" {
		p.loggedIn = true
		return nil
	}
	if pin != p.pin {
		return errs.New(errs.PinIncorrect, "wrong pin")
	}
	p.loggedIn = true
	return nil
}

func (p *SoftwareProvider) Logout() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loggedIn = false
	return nil
}

// MockProvider simulates an absent or malfunctioning device, for
// exercising a caller's NotAvailable/DeviceError handling paths in
// tests without a real hardware dependency.
type MockProvider struct {
	Available bool
	FailNext  bool
}

func (m *MockProvider) unavailable() error {
	if !m.Available {
		return errs.New(errs.NotAvailable, "mock device not available")
	}
	if m.FailNext {
		m.FailNext = false
		return errs.New(errs.DeviceError, "mock device failure")
	}
	return nil
}

func (m *MockProvider) DetectDevices() ([]DeviceInfo, error) {
	if !m.Available {
		return nil, errs.New(errs.NotAvailable, "mock device not available")
	}
	return []DeviceInfo{{ID: "mock", Label: "mock device"}}, nil
}

func (m *MockProvider) ListKeys() ([]KeyInfo, error)             { return nil, m.unavailable() }
func (m *MockProvider) GetPublicKey(string) (string, error)      { return "", m.unavailable() }
func (m *MockProvider) SignHash(string, []byte) (string, error)  { return "", m.unavailable() }
func (m *MockProvider) SignEvent(string, *nostr.Event) error     { return m.unavailable() }
func (m *MockProvider) GenerateKey(string) (string, error)       { return "", m.unavailable() }
func (m *MockProvider) ImportKey(string, string) (string, error) { return "", m.unavailable() }
func (m *MockProvider) DeleteKey(string) error                   { return m.unavailable() }
func (m *MockProvider) Login(string) error                       { return m.unavailable() }
func (m *MockProvider) Logout() error                            { return nil }

// Registry maps a provider name to an instance (spec §4.14:
// "Registration is concurrency-safe").
type Registry struct {
	mu        sync.Mutex
	providers map[string]Provider
	order     []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

// Register adds p under name, or returns errs.Duplicate if name is
// already registered.
func (r *Registry) Register(name string, p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; ok {
		return errs.New(errs.Duplicate, "provider name already registered")
	}
	r.providers[name] = p
	r.order = append(r.order, name)
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, errs.New(errs.NotFound, "no provider registered under that name")
	}
	return p, nil
}

// Names returns every registered provider name in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

var _ Provider = (*SoftwareProvider)(nil)
var _ Provider = (*MockProvider)(nil)
