package vault

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitrous-signer/core/cryptutil"
)

func openTestVault(t *testing.T) *FileVault {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault.json")
	v, err := OpenFileVault(path, "test passphrase", 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	v := openTestVault(t)
	sk, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)

	require.NoError(t, v.Put("npub1abc", sk, "main"))

	got, label, err := v.Get("npub1abc")
	require.NoError(t, err)
	assert.Equal(t, sk, got)
	assert.Equal(t, "main", label)

	records, err := v.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "npub1abc", records[0].Npub)

	require.NoError(t, v.Delete("npub1abc"))
	_, _, err = v.Get("npub1abc")
	assert.Error(t, err)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	v := openTestVault(t)
	_, _, err := v.Get("npub1missing")
	assert.Error(t, err)
}

func TestSetLabel(t *testing.T) {
	v := openTestVault(t)
	sk, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)
	require.NoError(t, v.Put("npub1abc", sk, "old"))

	require.NoError(t, v.SetLabel("npub1abc", "new"))
	_, label, err := v.Get("npub1abc")
	require.NoError(t, err)
	assert.Equal(t, "new", label)
}

func TestSecondOpenFailsWhileLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	v1, err := OpenFileVault(path, "pw", 4)
	require.NoError(t, err)
	defer v1.Close()

	_, err = OpenFileVault(path, "pw", 4)
	assert.Error(t, err)
}

func TestReopenAfterCloseSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	sk, err := cryptutil.GenerateSecretKey()
	require.NoError(t, err)

	v1, err := OpenFileVault(path, "pw", 4)
	require.NoError(t, err)
	require.NoError(t, v1.Put("npub1abc", sk, "main"))
	require.NoError(t, v1.Close())

	v2, err := OpenFileVault(path, "pw", 4)
	require.NoError(t, err)
	defer v2.Close()

	got, _, err := v2.Get("npub1abc")
	require.NoError(t, err)
	assert.Equal(t, sk, got)
}
