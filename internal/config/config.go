// Package config implements the settings store backed by settings.json.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/spf13/cast"

	"github.com/goldmedia/goldmedia/internal/logging"
)

const (
	SettingsFile       = "settings.json"
	PlaybackCacheFile  = "playback_cache.json"
	MediaInfoCacheFile = "media_info_cache.json"
	CustomIconFilename = "custom_icon.png"
)

// CacheMode selects how playback positions are remembered.
type CacheMode string

const (
	CacheOff       CacheMode = "Off"
	CacheGlobal    CacheMode = "Global"
	CachePerClient CacheMode = "PerClient"
)

// Settings is the typed configuration document.
type Settings struct {
	ServerName         string    `json:"server_name"`
	ServerPort         int       `json:"server_port"`
	MediaFolders       []string  `json:"media_folders"`
	StartOnStartup     bool      `json:"start_on_startup"`
	GenerateThumbnails bool      `json:"generate_thumbnails"`
	ThumbnailTimestamp float64   `json:"thumbnail_timestamp"`
	EnableUPnP         bool      `json:"enable_upnp"`
	ServerIconPath     string    `json:"server_icon_path"`
	CacheMode          CacheMode `json:"cache_mode"`
	EnableTranscoding  bool      `json:"enable_transcoding"`
	TranscodeFormats   string    `json:"transcode_formats"`
}

// Defaults returns the documented default settings.
func Defaults() *Settings {
	return &Settings{
		ServerName:         "GoldMedia Server",
		ServerPort:         9005,
		MediaFolders:       []string{},
		StartOnStartup:     false,
		GenerateThumbnails: true,
		ThumbnailTimestamp: 4,
		EnableUPnP:         true,
		ServerIconPath:     "",
		CacheMode:          CacheGlobal,
		EnableTranscoding:  false,
		TranscodeFormats:   ".mkv,.avi,.webm,.mov",
	}
}

// TranscodeExtensions returns the configured transcode format list as
// normalized lowercase extensions.
func (s *Settings) TranscodeExtensions() []string {
	var out []string
	for _, f := range strings.Split(s.TranscodeFormats, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		out = append(out, f)
	}
	return out
}

// NeedsTranscode reports whether a file should be served through the
// transcoder bridge.
func (s *Settings) NeedsTranscode(path string) bool {
	if !s.EnableTranscoding {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, f := range s.TranscodeExtensions() {
		if ext == f {
			return true
		}
	}
	return false
}

// Store owns the settings document on disk and the in-memory copy.
type Store struct {
	path string

	mu       sync.RWMutex
	current  *Settings
	onChange []func(*Settings)
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the settings file, filling defaults for missing keys. A
// missing file is created with defaults; malformed JSON is logged and
// defaults are used.
func (st *Store) Load() *Settings {
	log := logging.WithComponent("config")

	data, err := os.ReadFile(st.path)
	if os.IsNotExist(err) {
		s := Defaults()
		if werr := st.write(s); werr != nil {
			log.Warn().Err(werr).Msg("could not create settings file")
		}
		st.set(s)
		return s
	}
	if err != nil {
		log.Error().Err(err).Str("path", st.path).Msg("could not read settings, using defaults")
		s := Defaults()
		st.set(s)
		return s
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Error().Err(err).Msg("could not parse settings.json, using defaults")
		s := Defaults()
		st.set(s)
		return s
	}

	s := fromRaw(raw)
	st.set(s)
	return s
}

// fromRaw coerces a loosely typed JSON document into Settings, falling
// back to defaults for missing or unusable keys. Hand-edited settings
// files routinely carry strings where numbers belong.
func fromRaw(raw map[string]interface{}) *Settings {
	d := Defaults()
	s := &Settings{
		ServerName:         pick(raw, "server_name", d.ServerName, cast.ToStringE),
		ServerPort:         pick(raw, "server_port", d.ServerPort, cast.ToIntE),
		StartOnStartup:     pick(raw, "start_on_startup", d.StartOnStartup, cast.ToBoolE),
		GenerateThumbnails: pick(raw, "generate_thumbnails", d.GenerateThumbnails, cast.ToBoolE),
		ThumbnailTimestamp: pick(raw, "thumbnail_timestamp", d.ThumbnailTimestamp, cast.ToFloat64E),
		EnableUPnP:         pick(raw, "enable_upnp", d.EnableUPnP, cast.ToBoolE),
		ServerIconPath:     pick(raw, "server_icon_path", d.ServerIconPath, cast.ToStringE),
		EnableTranscoding:  pick(raw, "enable_transcoding", d.EnableTranscoding, cast.ToBoolE),
		TranscodeFormats:   pick(raw, "transcode_formats", d.TranscodeFormats, cast.ToStringE),
	}
	s.MediaFolders = d.MediaFolders
	if v, ok := raw["media_folders"]; ok {
		if folders, err := cast.ToStringSliceE(v); err == nil {
			s.MediaFolders = folders
		}
	}
	s.CacheMode = parseCacheMode(pick(raw, "cache_mode", string(d.CacheMode), cast.ToStringE))
	return s
}

func pick[T any](raw map[string]interface{}, key string, def T, conv func(interface{}) (T, error)) T {
	v, ok := raw[key]
	if !ok {
		return def
	}
	out, err := conv(v)
	if err != nil {
		return def
	}
	return out
}

// parseCacheMode accepts the legacy "Per IP" spelling for PerClient.
func parseCacheMode(v string) CacheMode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "off":
		return CacheOff
	case "perclient", "per ip", "per-client", "per_client":
		return CachePerClient
	default:
		return CacheGlobal
	}
}

// Save writes the settings atomically and runs the change callbacks.
func (st *Store) Save(s *Settings) error {
	if err := st.write(s); err != nil {
		return err
	}
	st.set(s)
	st.mu.RLock()
	callbacks := append([]func(*Settings){}, st.onChange...)
	st.mu.RUnlock()
	for _, cb := range callbacks {
		cb(s)
	}
	return nil
}

func (st *Store) write(s *Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := renameio.WriteFile(st.path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Current returns the active settings; callers must not mutate them.
func (st *Store) Current() *Settings {
	st.mu.RLock()
	s := st.current
	st.mu.RUnlock()
	if s == nil {
		return st.Load()
	}
	return s
}

// OnChange registers a callback invoked after every successful Save.
func (st *Store) OnChange(cb func(*Settings)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.onChange = append(st.onChange, cb)
}

func (st *Store) set(s *Settings) {
	st.mu.Lock()
	st.current = s
	st.mu.Unlock()
}
