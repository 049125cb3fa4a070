package hsm

import (
	"testing"

	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitrous-signer/core/cryptutil"
	"github.com/nitrous-signer/core/errs"
)

func TestSoftwareProviderGenerateSignVerify(t *testing.T) {
	p := NewSoftwareProvider("test-vault", "")
	keyID, err := p.GenerateKey("primary")
	require.NoError(t, err)

	pubkeyHex, err := p.GetPublicKey(keyID)
	require.NoError(t, err)
	assert.Len(t, pubkeyHex, 64)

	evt := &nostr.Event{PubKey: pubkeyHex, CreatedAt: nostr.Timestamp(1), Kind: 1, Tags: nostr.Tags{}, Content: "hi"}
	require.NoError(t, p.SignEvent(keyID, evt))
	assert.NotEmpty(t, evt.Sig)
	assert.NotEmpty(t, evt.ID)
}

func TestSoftwareProviderImportKey(t *testing.T) {
	p := NewSoftwareProvider("test-vault", "")
	secretHex, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)

	keyID, err := p.ImportKey(secretHex, "imported")
	require.NoError(t, err)

	keys, err := p.ListKeys()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, keyID, keys[0].KeyID)
	assert.Equal(t, "imported", keys[0].Label)
}

func TestSoftwareProviderImportKeyRejectsBadHex(t *testing.T) {
	p := NewSoftwareProvider("test-vault", "")
	_, err := p.ImportKey("not-hex", "bad")
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
}

func TestSoftwareProviderRequiresLoginWhenPinSet(t *testing.T) {
	p := NewSoftwareProvider("test-vault", "1234")
	_, err := p.GenerateKey("primary")
	require.Error(t, err)
	assert.Equal(t, errs.PinRequired, errs.KindOf(err))

	require.Error(t, p.Login("0000"))
	require.NoError(t, p.Login("1234"))

	keyID, err := p.GenerateKey("primary")
	require.NoError(t, err)
	assert.NotEmpty(t, keyID)

	require.NoError(t, p.Logout())
	_, err = p.GetPublicKey(keyID)
	assert.Equal(t, errs.PinRequired, errs.KindOf(err))
}

func TestSoftwareProviderLoginRejectsWrongPin(t *testing.T) {
	p := NewSoftwareProvider("test-vault", "1234")
	err := p.Login("wrong")
	require.Error(t, err)
	assert.Equal(t, errs.PinIncorrect, errs.KindOf(err))
}

func TestSoftwareProviderDeleteKey(t *testing.T) {
	p := NewSoftwareProvider("test-vault", "")
	keyID, err := p.GenerateKey("primary")
	require.NoError(t, err)

	require.NoError(t, p.DeleteKey(keyID))
	_, err = p.GetPublicKey(keyID)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestMockProviderReportsNotAvailable(t *testing.T) {
	m := &MockProvider{Available: false}
	_, err := m.DetectDevices()
	require.Error(t, err)
	assert.Equal(t, errs.NotAvailable, errs.KindOf(err))

	_, err = m.ListKeys()
	assert.Equal(t, errs.NotAvailable, errs.KindOf(err))
}

func TestMockProviderFailNextOnlyFiresOnce(t *testing.T) {
	m := &MockProvider{Available: true, FailNext: true}
	_, err := m.ListKeys()
	require.Error(t, err)
	assert.Equal(t, errs.DeviceError, errs.KindOf(err))

	_, err = m.ListKeys()
	require.NoError(t, err)
}

func TestRegistryRegisterGetAndDuplicate(t *testing.T) {
	r := NewRegistry()
	sw := NewSoftwareProvider("v1", "")
	require.NoError(t, r.Register("software", sw))

	err := r.Register("software", sw)
	require.Error(t, err)
	assert.Equal(t, errs.Duplicate, errs.KindOf(err))

	got, err := r.Get("software")
	require.NoError(t, err)
	assert.Same(t, sw, got.(*SoftwareProvider))

	_, err = r.Get("missing")
	assert.Equal(t, errs.NotFound, errs.KindOf(err))

	assert.Equal(t, []string{"software"}, r.Names())
}
