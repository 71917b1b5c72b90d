package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileCreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(filepath.Join(dir, SettingsFile))

	s := st.Load()

	assert.Equal(t, "GoldMedia Server", s.ServerName)
	assert.Equal(t, 9005, s.ServerPort)
	assert.True(t, s.GenerateThumbnails)
	assert.Equal(t, CacheGlobal, s.CacheMode)

	_, err := os.Stat(filepath.Join(dir, SettingsFile))
	assert.NoError(t, err, "missing settings file should be created")
}

func TestLoadMalformedFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SettingsFile)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := NewStore(path).Load()

	assert.Equal(t, Defaults().ServerPort, s.ServerPort)
}

func TestLoadCoercesLooseTypes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SettingsFile)
	doc := `{
		"server_name": "Living Room",
		"server_port": "8200",
		"thumbnail_timestamp": "10",
		"generate_thumbnails": "false",
		"media_folders": ["/media/tv"],
		"cache_mode": "Per IP"
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s := NewStore(path).Load()

	assert.Equal(t, "Living Room", s.ServerName)
	assert.Equal(t, 8200, s.ServerPort)
	assert.Equal(t, 10.0, s.ThumbnailTimestamp)
	assert.False(t, s.GenerateThumbnails)
	assert.Equal(t, []string{"/media/tv"}, s.MediaFolders)
	assert.Equal(t, CachePerClient, s.CacheMode)
}

func TestLoadPartialDocumentFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SettingsFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"server_name":"X"}`), 0o644))

	s := NewStore(path).Load()

	assert.Equal(t, "X", s.ServerName)
	assert.Equal(t, 9005, s.ServerPort)
	assert.Equal(t, ".mkv,.avi,.webm,.mov", s.TranscodeFormats)
}

func TestSaveRoundTripAndCallbacks(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(filepath.Join(dir, SettingsFile))
	st.Load()

	var seen *Settings
	st.OnChange(func(s *Settings) { seen = s })

	s := Defaults()
	s.ServerName = "Bedroom"
	s.MediaFolders = []string{dir}
	require.NoError(t, st.Save(s))

	require.NotNil(t, seen)
	assert.Equal(t, "Bedroom", seen.ServerName)

	reloaded := NewStore(filepath.Join(dir, SettingsFile)).Load()
	assert.Equal(t, "Bedroom", reloaded.ServerName)
	assert.Equal(t, []string{dir}, reloaded.MediaFolders)
}

func TestParseCacheMode(t *testing.T) {
	assert.Equal(t, CacheOff, parseCacheMode("Off"))
	assert.Equal(t, CachePerClient, parseCacheMode("Per IP"))
	assert.Equal(t, CachePerClient, parseCacheMode("PerClient"))
	assert.Equal(t, CacheGlobal, parseCacheMode("Global"))
	assert.Equal(t, CacheGlobal, parseCacheMode("anything else"))
}

func TestNeedsTranscode(t *testing.T) {
	s := Defaults()
	s.EnableTranscoding = true

	assert.True(t, s.NeedsTranscode("/media/movie.mkv"))
	assert.True(t, s.NeedsTranscode("/media/MOVIE.AVI"))
	assert.False(t, s.NeedsTranscode("/media/movie.mp4"))

	s.EnableTranscoding = false
	assert.False(t, s.NeedsTranscode("/media/movie.mkv"))
}

func TestTranscodeExtensionsNormalized(t *testing.T) {
	s := Defaults()
	s.TranscodeFormats = "mkv, .AVI , ,webm"
	assert.Equal(t, []string{".mkv", ".avi", ".webm"}, s.TranscodeExtensions())
}

func TestServerUUIDStable(t *testing.T) {
	a := ServerUUID()
	b := ServerUUID()
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}
