package decode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const palletYAML = `
pallets:
  0:
    name: system
    calls: {0: remark}
  3:
    name: timestamp
    calls:
      0: set
`

func TestLoadPallets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pallets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(palletYAML), 0o600))

	pallets, err := LoadPallets(path)
	require.NoError(t, err)
	require.Len(t, pallets, 2)
	assert.Equal(t, "timestamp", pallets[3].Name)
	assert.Equal(t, "set", pallets[3].Calls[0])

	module, call := New(pallets).names(3, 0)
	assert.Equal(t, "timestamp", module)
	assert.Equal(t, "set", call)

	module, call = New(pallets).names(3, 9)
	assert.Equal(t, "timestamp", module)
	assert.Equal(t, "call_9", call)
}

func TestLoadPallets_EmptyPath(t *testing.T) {
	pallets, err := LoadPallets("")
	require.NoError(t, err)
	assert.Empty(t, pallets)
}

func TestLoadPallets_MissingFile(t *testing.T) {
	_, err := LoadPallets(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParsePallets_Invalid(t *testing.T) {
	_, err := ParsePallets([]byte("pallets: [1, 2"))
	assert.Error(t, err)

	_, err = ParsePallets([]byte("pallets:\n  4:\n    calls: {0: transfer}\n"))
	assert.ErrorContains(t, err, "pallet 4 has no name")
}
