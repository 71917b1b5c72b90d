package catalog

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/goldmedia/goldmedia/internal/config"
)

// mediaInfo is the persisted per-file metadata. Duration is 0 until a
// probe succeeds.
type mediaInfo struct {
	Duration float64 `json:"duration"`
}

// durationCache maps fingerprint to probed metadata, persisted as JSON.
// The lock is held across flushes so readers never observe a torn file.
type durationCache struct {
	path string

	mu      sync.Mutex
	entries map[string]mediaInfo
}

func newDurationCache(path string) *durationCache {
	return &durationCache{path: path, entries: map[string]mediaInfo{}}
}

func (dc *durationCache) load(log zerolog.Logger) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	data, err := os.ReadFile(dc.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("could not read media info cache")
		}
		return
	}
	entries := map[string]mediaInfo{}
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warn().Err(err).Msg("could not decode media info cache, starting fresh")
		return
	}
	dc.entries = entries
	log.Info().Int("entries", len(entries)).Msg("media info cache loaded")
}

func (dc *durationCache) get(fp string) (float64, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	info, ok := dc.entries[fp]
	return info.Duration, ok
}

func (dc *durationCache) put(fp string, duration float64, log zerolog.Logger) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.entries[fp] = mediaInfo{Duration: duration}
	dc.flushLocked(log)
}

func (dc *durationCache) remove(fp string, log zerolog.Logger) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if _, ok := dc.entries[fp]; !ok {
		return
	}
	delete(dc.entries, fp)
	dc.flushLocked(log)
}

func (dc *durationCache) flushLocked(log zerolog.Logger) {
	data, err := json.MarshalIndent(dc.entries, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("could not marshal media info cache")
		return
	}
	if err := renameio.WriteFile(dc.path, data, 0o644); err != nil {
		log.Error().Err(err).Msg("could not save media info cache")
	}
}

// Position is one playback bookmark.
type Position struct {
	LastPosition float64 `json:"last_position"`
	Timestamp    float64 `json:"timestamp"`
}

// playbackCache holds bookmarks in both shapes: a flat fingerprint map
// (Global mode) and a per-client nested map (PerClient mode). The file
// on disk carries the active mode's shape.
type playbackCache struct {
	path string

	mu        sync.Mutex
	global    map[string]Position
	perClient map[string]map[string]Position
}

func newPlaybackCache(path string) *playbackCache {
	return &playbackCache{
		path:      path,
		global:    map[string]Position{},
		perClient: map[string]map[string]Position{},
	}
}

// load sorts file entries into the two shapes entry by entry: a value
// that decodes as a Position belongs to the flat map, anything else is
// treated as a per-client submap. Mode switches leave mixed files
// behind, so both are accepted.
func (pc *playbackCache) load(log zerolog.Logger) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	data, err := os.ReadFile(pc.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("could not read playback cache")
		}
		return
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warn().Err(err).Msg("could not decode playback cache, starting fresh")
		return
	}

	for key, val := range raw {
		if posHasFields(val) {
			var pos Position
			if err := json.Unmarshal(val, &pos); err == nil {
				pc.global[key] = pos
			}
			continue
		}
		var nested map[string]Position
		if err := json.Unmarshal(val, &nested); err == nil {
			pc.perClient[key] = nested
		}
	}
	log.Info().Msg("playback cache loaded")
}

// posHasFields distinguishes a Position object from a nested client map
// when last_position is 0.
func posHasFields(raw json.RawMessage) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	_, ok := m["last_position"]
	return ok
}

func (pc *playbackCache) set(mode config.CacheMode, clientIP, fp string, posSec float64, log zerolog.Logger) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pos := Position{LastPosition: posSec, Timestamp: float64(time.Now().Unix())}
	switch mode {
	case config.CacheGlobal:
		pc.global[fp] = pos
	case config.CachePerClient:
		if pc.perClient[clientIP] == nil {
			pc.perClient[clientIP] = map[string]Position{}
		}
		pc.perClient[clientIP][fp] = pos
	default:
		return
	}
	pc.flushLocked(mode, log)
}

func (pc *playbackCache) get(mode config.CacheMode, clientIP, fp string) float64 {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	switch mode {
	case config.CacheGlobal:
		return pc.global[fp].LastPosition
	case config.CachePerClient:
		return pc.perClient[clientIP][fp].LastPosition
	default:
		return 0
	}
}

// removeFingerprint drops fp from both shapes.
func (pc *playbackCache) removeFingerprint(fp string, log zerolog.Logger) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	changed := false
	if _, ok := pc.global[fp]; ok {
		delete(pc.global, fp)
		changed = true
	}
	for ip, entries := range pc.perClient {
		if _, ok := entries[fp]; ok {
			delete(entries, fp)
			changed = true
		}
		if len(entries) == 0 {
			delete(pc.perClient, ip)
		}
	}
	if changed {
		pc.flushLocked("", log)
	}
}

// flushLocked persists the cache. For a known mode only that shape is
// written; a removal writes whichever shapes still hold entries.
func (pc *playbackCache) flushLocked(mode config.CacheMode, log zerolog.Logger) {
	out := map[string]interface{}{}
	switch mode {
	case config.CacheGlobal:
		for fp, pos := range pc.global {
			out[fp] = pos
		}
	case config.CachePerClient:
		for ip, entries := range pc.perClient {
			out[ip] = entries
		}
	default:
		for fp, pos := range pc.global {
			out[fp] = pos
		}
		for ip, entries := range pc.perClient {
			out[ip] = entries
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("could not marshal playback cache")
		return
	}
	if err := renameio.WriteFile(pc.path, data, 0o644); err != nil {
		log.Error().Err(err).Msg("could not save playback cache")
	}
}

// SetPosition stores a playback bookmark for a file, honoring the
// active cache mode. The write persists before returning.
func (c *Catalog) SetPosition(clientIP, path string, posSec float64) {
	mode := c.store.Current().CacheMode
	if mode == config.CacheOff {
		return
	}
	if posSec < 0 {
		posSec = 0
	}
	c.playback.set(mode, clientIP, Fingerprint(path), posSec, c.log)
}

// GetPosition returns a file's bookmark in seconds, or 0.
func (c *Catalog) GetPosition(clientIP, path string) float64 {
	mode := c.store.Current().CacheMode
	if mode == config.CacheOff {
		return 0
	}
	return c.playback.get(mode, clientIP, Fingerprint(path))
}
