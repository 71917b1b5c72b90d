package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldmedia/goldmedia/internal/config"
	"github.com/goldmedia/goldmedia/internal/logging"
)

func TestDurationCachePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.MediaInfoCacheFile)
	log := logging.WithComponent("test")

	dc := newDurationCache(path)
	dc.put("abc", 321.5, log)
	dc.put("def", 0, log)

	reloaded := newDurationCache(path)
	reloaded.load(log)

	d, ok := reloaded.get("abc")
	require.True(t, ok)
	assert.Equal(t, 321.5, d)

	d, ok = reloaded.get("def")
	require.True(t, ok, "failed probes persist a zero entry")
	assert.Zero(t, d)
}

func TestDurationCacheRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.MediaInfoCacheFile)
	log := logging.WithComponent("test")

	dc := newDurationCache(path)
	dc.put("abc", 10, log)
	dc.remove("abc", log)

	_, ok := dc.get("abc")
	assert.False(t, ok)

	reloaded := newDurationCache(path)
	reloaded.load(log)
	_, ok = reloaded.get("abc")
	assert.False(t, ok)
}

func TestPlaybackCacheGlobalMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.PlaybackCacheFile)
	log := logging.WithComponent("test")

	pc := newPlaybackCache(path)
	pc.set(config.CacheGlobal, "10.0.0.5", "fp1", 93.5, log)

	// Global entries ignore the client address.
	assert.Equal(t, 93.5, pc.get(config.CacheGlobal, "10.0.0.9", "fp1"))

	reloaded := newPlaybackCache(path)
	reloaded.load(log)
	assert.Equal(t, 93.5, reloaded.get(config.CacheGlobal, "", "fp1"))
}

func TestPlaybackCachePerClientMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.PlaybackCacheFile)
	log := logging.WithComponent("test")

	pc := newPlaybackCache(path)
	pc.set(config.CachePerClient, "10.0.0.5", "fp1", 10, log)
	pc.set(config.CachePerClient, "10.0.0.9", "fp1", 20, log)

	assert.Equal(t, 10.0, pc.get(config.CachePerClient, "10.0.0.5", "fp1"))
	assert.Equal(t, 20.0, pc.get(config.CachePerClient, "10.0.0.9", "fp1"))
	assert.Zero(t, pc.get(config.CachePerClient, "10.0.0.7", "fp1"))

	reloaded := newPlaybackCache(path)
	reloaded.load(log)
	assert.Equal(t, 20.0, reloaded.get(config.CachePerClient, "10.0.0.9", "fp1"))
}

func TestPlaybackCacheLoadMixedShapes(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.PlaybackCacheFile)
	doc := map[string]interface{}{
		"fpGlobal": map[string]float64{"last_position": 30, "timestamp": 1700000000},
		"10.0.0.5": map[string]interface{}{
			"fpClient": map[string]float64{"last_position": 60, "timestamp": 1700000000},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	pc := newPlaybackCache(path)
	pc.load(logging.WithComponent("test"))

	assert.Equal(t, 30.0, pc.get(config.CacheGlobal, "", "fpGlobal"))
	assert.Equal(t, 60.0, pc.get(config.CachePerClient, "10.0.0.5", "fpClient"))
}

func TestPlaybackCacheRemoveFingerprintPurgesBothShapes(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.PlaybackCacheFile)
	log := logging.WithComponent("test")

	pc := newPlaybackCache(path)
	pc.set(config.CacheGlobal, "", "fp1", 10, log)
	pc.set(config.CachePerClient, "10.0.0.5", "fp1", 20, log)
	pc.removeFingerprint("fp1", log)

	assert.Zero(t, pc.get(config.CacheGlobal, "", "fp1"))
	assert.Zero(t, pc.get(config.CachePerClient, "10.0.0.5", "fp1"))
}

func TestSetPositionHonorsMode(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "movie.mp4")
	touch(t, file)

	c, st := newTestCatalog(t, root)

	c.SetPosition("10.0.0.5", file, 42)
	assert.Equal(t, 42.0, c.GetPosition("10.0.0.9", file), "global mode ignores the client")

	s := st.Current()
	s.CacheMode = config.CacheOff
	require.NoError(t, st.Save(s))

	c.SetPosition("10.0.0.5", file, 50)
	assert.Zero(t, c.GetPosition("10.0.0.5", file), "off mode stores and returns nothing")
}

func TestSetPositionClampsNegative(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "movie.mp4")
	touch(t, file)

	c, _ := newTestCatalog(t, root)
	c.SetPosition("", file, -5)
	assert.Zero(t, c.GetPosition("", file))
}
