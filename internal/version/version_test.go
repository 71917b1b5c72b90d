package version

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReadsFromGivenDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "version.json"),
		[]byte(`{"version":"2.3.4"}`), 0o644))

	assert.Equal(t, "2.3.4", Load(dir).Version)
}

func TestLoadMissingFile(t *testing.T) {
	assert.Equal(t, "0.0.0", Load(t.TempDir()).Version)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "version.json"),
		[]byte(`{not json`), 0o644))

	assert.Equal(t, "0.0.0", Load(dir).Version)
}
