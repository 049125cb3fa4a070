package corelog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledByDefaultProducesNoOutput(t *testing.T) {
	Configure(nil, zerolog.InfoLevel)
	assert.False(t, Enabled())

	var buf bytes.Buffer
	For("test").Info().Msg("should not appear anywhere")
	assert.Empty(t, buf.String())
}

func TestConfigureWritesToProvidedWriter(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, zerolog.InfoLevel)
	t.Cleanup(func() { Configure(nil, zerolog.InfoLevel) })

	assert.True(t, Enabled())
	For("session").Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), `"component":"session"`)
}

func TestConfigureRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, zerolog.WarnLevel)
	t.Cleanup(func() { Configure(nil, zerolog.InfoLevel) })

	For("session").Info().Msg("filtered out")
	assert.Empty(t, buf.String())

	For("session").Warn().Msg("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestConfigureFileOpensAndWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	f, err := ConfigureFile(path, zerolog.InfoLevel)
	require.NoError(t, err)
	t.Cleanup(func() {
		f.Close()
		Configure(nil, zerolog.InfoLevel)
	})

	For("test").Info().Msg("to file")
	f.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "to file"))
}
