package signing

import (
	"path/filepath"
	"testing"
	"time"

	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitrous-signer/core/approval"
	"github.com/nitrous-signer/core/cryptutil"
	"github.com/nitrous-signer/core/event"
	"github.com/nitrous-signer/core/secretstore"
	"github.com/nitrous-signer/core/session"
	"github.com/nitrous-signer/core/vault"
)

type fixedApprover struct {
	decision approval.Decision
}

func (f fixedApprover) RequestApproval(applicationID string, kind int) (approval.Decision, time.Duration) {
	return f.decision, approval.Forever
}

func newFixture(t *testing.T, approver Approver) (*Pipeline, *secretstore.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault.json")
	v, err := vault.OpenFileVault(path, "pw", 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	store := secretstore.New(v)
	sk, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)
	entry, err := store.Add(sk, "main")
	require.NoError(t, err)

	sess := session.New(0, nil)
	require.NoError(t, sess.Authenticate("anything"))

	pipeline := New(approval.New(), sess, store, event.NewCodec(), approver)
	return pipeline, store, entry.Npub
}

func TestSignEventSucceedsWithApproval(t *testing.T) {
	pipeline, _, npub := newFixture(t, fixedApprover{decision: approval.Allow})

	evt := &nostr.Event{Kind: 1, Content: "hi"}
	err := pipeline.SignEvent("app1", npub, evt, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, evt.Sig)
	assert.NotEmpty(t, evt.ID)
}

func TestSignEventDeniedByApprover(t *testing.T) {
	pipeline, _, npub := newFixture(t, fixedApprover{decision: approval.Deny})

	evt := &nostr.Event{Kind: 1, Content: "hi"}
	err := pipeline.SignEvent("app1", npub, evt, nil)
	assert.Error(t, err)
	assert.Empty(t, evt.Sig)
}

func TestSignEventFailsWhenLocked(t *testing.T) {
	pipeline, _, npub := newFixture(t, fixedApprover{decision: approval.Allow})
	pipeline.session.Lock()

	evt := &nostr.Event{Kind: 1, Content: "hi"}
	err := pipeline.SignEvent("app1", npub, evt, nil)
	assert.Error(t, err)
}

func TestApprovalCachedAcrossCalls(t *testing.T) {
	calls := 0
	approver := approverFunc(func(applicationID string, kind int) (approval.Decision, time.Duration) {
		calls++
		return approval.Allow, approval.Forever
	})
	pipeline, _, npub := newFixture(t, approver)

	for i := 0; i < 3; i++ {
		evt := &nostr.Event{Kind: 1, Content: "hi"}
		require.NoError(t, pipeline.SignEvent("app1", npub, evt, nil))
	}
	assert.Equal(t, 1, calls, "approval should only be asked once per (app, kind)")
}

type approverFunc func(applicationID string, kind int) (approval.Decision, time.Duration)

func (f approverFunc) RequestApproval(applicationID string, kind int) (approval.Decision, time.Duration) {
	return f(applicationID, kind)
}

func TestSignDigestForDelegation(t *testing.T) {
	pipeline, _, npub := newFixture(t, fixedApprover{decision: approval.Allow})

	digest := make([]byte, 32)
	sig, err := pipeline.SignDigest(npub, digest)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
}
