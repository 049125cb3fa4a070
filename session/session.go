// Package session implements SessionManager (spec §4.2): lock/unlock
// state, passphrase verification via a salted KDF, and idle-timeout
// enforcement. It is the sole owner of the authenticated flag (spec §9
// shared-resource policy).
package session

import (
	"crypto/rand"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/nitrous-signer/core/bus"
	"github.com/nitrous-signer/core/corelog"
	"github.com/nitrous-signer/core/errs"
	"github.com/nitrous-signer/core/util"
)

var log = corelog.For("session")

// State is the Session's lock state (spec §3 Session).
type State int

const (
	Locked State = iota
	Authenticated
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// passwordHash is a salted argon2id hash, never the raw passphrase.
type passwordHash struct {
	salt []byte
	hash []byte
}

// Manager is the single process-wide SessionManager instance. A Session
// is never Authenticated across a process restart: Manager always
// starts Locked regardless of what a caller might try to restore.
type Manager struct {
	mu sync.Mutex

	state        State
	lastActivity time.Time
	started      time.Time
	timeoutSecs  uint32
	timedOut     bool
	hash         *passwordHash

	b *bus.Bus
}

// New returns a Manager starting Locked, with no passphrase configured
// (first-run state) and the given idle timeout. timeoutSecs == 0
// disables auto-lock.
func New(timeoutSecs uint32, b *bus.Bus) *Manager {
	now := time.Now()
	return &Manager{
		state:        Locked,
		lastActivity: now,
		started:      now,
		timeoutSecs:  timeoutSecs,
		b:            b,
	}
}

// SetPassword changes the passphrase. If a passphrase is already
// configured, current must match it or errs.AuthFail is returned. An
// empty new passphrase is rejected with errs.InvalidInput.
func (m *Manager) SetPassword(current, newPass string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if newPass == "" {
		return errs.New(errs.InvalidInput, "new passphrase must not be empty")
	}
	if m.hash != nil {
		if !m.verifyLocked(current) {
			return errs.New(errs.AuthFail, "current passphrase does not match")
		}
		util.Zero(m.hash.hash)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return errs.Wrap(errs.InvalidInput, "generate salt", err)
	}
	m.hash = &passwordHash{salt: salt, hash: deriveHash(newPass, salt)}
	return nil
}

// Authenticate transitions Locked → Authenticated on a correct
// passphrase. If no passphrase is configured yet (first-run), any
// passphrase (including empty) succeeds unconditionally.
func (m *Manager) Authenticate(passphrase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hash != nil && !m.verifyLocked(passphrase) {
		return errs.New(errs.AuthFail, "wrong passphrase")
	}
	m.state = Authenticated
	m.lastActivity = time.Now()
	m.timedOut = false
	m.publish(bus.SessionAuthenticated, nil)
	log.Info().Msg("session authenticated")
	return nil
}

// Lock transitions to Locked unconditionally.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Locked
	m.publish(bus.SessionLocked, nil)
	log.Info().Msg("session locked")
}

// Extend refreshes last_activity, keeping the session from idle-timing
// out. Callers invoke this on every authenticated operation.
func (m *Manager) Extend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = time.Now()
	m.timedOut = false
}

// CheckTimeout reports whether the session has been idle long enough
// to auto-lock, locking it as a side effect if so. Once a call returns
// true, every subsequent call keeps returning true until Authenticate
// or Extend clears timedOut — it does not flip back to false merely
// because the session is already Locked. timeout_secs == 0 disables
// this check.
func (m *Manager) CheckTimeout() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timedOut {
		return true
	}
	if m.timeoutSecs == 0 || m.state == Locked {
		return false
	}
	if time.Since(m.lastActivity) >= time.Duration(m.timeoutSecs)*time.Second {
		m.state = Locked
		m.timedOut = true
		m.publish(bus.SessionLocked, nil)
		log.Info().Msg("session auto-locked on timeout")
		return true
	}
	return false
}

// RequireUnlocked returns errs.Locked if the session is not currently
// Authenticated, the gate every signing operation passes through
// (spec §3 invariant: "a signing operation is never attempted while
// Session is Locked").
func (m *Manager) RequireUnlocked() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Authenticated {
		return errs.New(errs.Locked, "session is locked")
	}
	return nil
}

// State returns the current lock state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) verifyLocked(passphrase string) bool {
	candidate := deriveHash(passphrase, m.hash.salt)
	return util.ConstantTimeEqual(candidate, m.hash.hash)
}

func (m *Manager) publish(kind bus.Kind, payload any) {
	if m.b == nil {
		return
	}
	m.b.Publish(bus.Event{Kind: kind, Payload: payload})
}

func deriveHash(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}
