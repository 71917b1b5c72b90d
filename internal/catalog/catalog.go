// Package catalog maintains the canonical in-memory view of the media
// library: the duration cache, the thumbnail store, the playback
// position cache, and the background probe workers that fill them.
package catalog

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/goldmedia/goldmedia/internal/config"
	"github.com/goldmedia/goldmedia/internal/logging"
	"github.com/goldmedia/goldmedia/internal/probe"
)

// Notifier receives library change notifications. The eventing engine
// implements it; Bump must never block on subscriber I/O.
type Notifier interface {
	Bump()
}

// Catalog is the process-wide library state. All cross-component access
// to caches and probe scheduling goes through it.
type Catalog struct {
	store    *config.Store
	tool     *probe.Tool
	thumbDir string
	log      zerolog.Logger

	durations *durationCache
	playback  *playbackCache

	notifier Notifier

	queues *jobQueues
}

// New creates a catalog rooted at the given data directory. Cache files
// live in dataDir; thumbnails under thumbDir.
func New(store *config.Store, tool *probe.Tool, dataDir, thumbDir string) *Catalog {
	c := &Catalog{
		store:     store,
		tool:      tool,
		thumbDir:  thumbDir,
		log:       logging.WithComponent("catalog"),
		durations: newDurationCache(filepath.Join(dataDir, config.MediaInfoCacheFile)),
		playback:  newPlaybackCache(filepath.Join(dataDir, config.PlaybackCacheFile)),
		queues:    newJobQueues(),
	}
	return c
}

// LoadCaches reads the persisted duration and playback caches.
func (c *Catalog) LoadCaches() {
	if err := os.MkdirAll(c.thumbDir, 0o755); err != nil {
		c.log.Warn().Err(err).Msg("could not create thumbnail directory")
	}
	c.durations.load(c.log)
	c.playback.load(c.log)
}

// SetNotifier wires the eventing engine in after construction; the
// catalog and eventing engine are created independently.
func (c *Catalog) SetNotifier(n Notifier) {
	c.notifier = n
}

// BumpUpdateID signals a library mutation to the eventing engine.
func (c *Catalog) BumpUpdateID() {
	if c.notifier != nil {
		c.notifier.Bump()
	}
}

// Fingerprint identifies a media file by the MD5 of its absolute path.
// It doubles as cache key and thumbnail filename stem.
func Fingerprint(path string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(path)))
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".webm": true,
}

// IsValidVideo reports whether a path names a browsable video file.
// Hidden names are ignored.
func IsValidVideo(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// MIMEType maps a container extension to the MIME type advertised to
// renderers.
func MIMEType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	default:
		return "video/mp4"
	}
}

// GetDuration returns the cached duration in seconds, or 0 after
// enqueuing a background probe.
func (c *Catalog) GetDuration(path string) float64 {
	if d, ok := c.durations.get(Fingerprint(path)); ok && d > 0 {
		return d
	}
	c.enqueueDuration(path)
	return 0
}

// EnsureThumbnail schedules thumbnail generation unless disabled or
// already rendered.
func (c *Catalog) EnsureThumbnail(path string) {
	if !c.store.Current().GenerateThumbnails {
		return
	}
	if c.HasThumbnail(path) {
		return
	}
	c.enqueueThumbnail(path)
}

// ThumbnailPath returns where a file's thumbnail lives, whether or not
// it has been rendered yet.
func (c *Catalog) ThumbnailPath(path string) string {
	return filepath.Join(c.thumbDir, Fingerprint(path)+".jpg")
}

func (c *Catalog) HasThumbnail(path string) bool {
	_, err := os.Stat(c.ThumbnailPath(path))
	return err == nil
}

// OnCreated handles a new file appearing under a watched root.
func (c *Catalog) OnCreated(path string) {
	c.GetDuration(path)
	c.EnsureThumbnail(path)
	c.BumpUpdateID()
}

// OnDeleted purges every cache entry for a removed file: duration,
// both playback cache shapes, and the thumbnail.
func (c *Catalog) OnDeleted(path string) {
	c.purge(path)
	c.BumpUpdateID()
}

// OnMoved folds a move into one delete plus one create with a single
// update-id increment.
func (c *Catalog) OnMoved(from, to string) {
	if IsValidVideo(from) {
		c.purge(from)
	}
	if IsValidVideo(to) {
		c.GetDuration(to)
		c.EnsureThumbnail(to)
	}
	c.BumpUpdateID()
}

func (c *Catalog) purge(path string) {
	fp := Fingerprint(path)
	c.durations.remove(fp, c.log)
	c.playback.removeFingerprint(fp, c.log)

	thumb := c.ThumbnailPath(path)
	if err := os.Remove(thumb); err != nil && !os.IsNotExist(err) {
		c.log.Warn().Err(err).Str("thumbnail", thumb).Msg("could not delete thumbnail")
	}
	c.log.Info().Str("file", filepath.Base(path)).Msg("removed from caches")
}

// Scan walks one media root, enqueuing probes and thumbnail renders for
// every valid file. Returns the number of files seen.
func (c *Catalog) Scan(root string) int {
	found := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible entries
		}
		if d.IsDir() || !IsValidVideo(path) {
			return nil
		}
		c.GetDuration(path)
		c.EnsureThumbnail(path)
		found++
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("root", root).Msg("scan failed")
	}
	c.log.Info().Str("root", root).Int("files", found).Msg("scan complete")
	return found
}

// ScanAll walks every configured media root.
func (c *Catalog) ScanAll() {
	for _, root := range c.store.Current().MediaFolders {
		if _, err := os.Stat(root); err != nil {
			c.log.Warn().Str("root", root).Msg("media folder not found, skipping scan")
			continue
		}
		c.Scan(root)
	}
}

// Folder is a subdirectory listed by ScanDir.
type Folder struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// File is a video listed by ScanDir. Name is the file stem.
type File struct {
	Name      string  `json:"name"`
	Path      string  `json:"path"`
	ThumbHash string  `json:"thumb_hash"`
	Duration  float64 `json:"duration"`
}

// Listing is one directory's browsable contents, folders first, both
// sorted case-insensitive by name.
type Listing struct {
	Folders []Folder `json:"folders"`
	Files   []File   `json:"files"`
}

// ScanDir synchronously lists one directory for Browse and the JSON
// API, queueing probes for any uncached files it encounters.
func (c *Catalog) ScanDir(path string) *Listing {
	listing := &Listing{Folders: []Folder{}, Files: []File{}}

	entries, err := os.ReadDir(path)
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("could not scan directory")
		return listing
	}

	for _, e := range entries {
		full := filepath.Join(path, e.Name())
		if e.IsDir() {
			listing.Folders = append(listing.Folders, Folder{Name: e.Name(), Path: full})
			continue
		}
		if !IsValidVideo(full) {
			continue
		}
		c.EnsureThumbnail(full)
		listing.Files = append(listing.Files, File{
			Name:      strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			Path:      full,
			ThumbHash: Fingerprint(full),
			Duration:  c.GetDuration(full),
		})
	}

	sort.Slice(listing.Folders, func(i, j int) bool {
		return strings.ToLower(listing.Folders[i].Name) < strings.ToLower(listing.Folders[j].Name)
	})
	sort.Slice(listing.Files, func(i, j int) bool {
		return strings.ToLower(listing.Files[i].Name) < strings.ToLower(listing.Files[j].Name)
	})
	return listing
}

// Structure is the nested folder tree consumed by the web UI.
type Structure struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Children []Structure `json:"children"`
}

// FullStructure builds the nested directory tree of every media root.
func (c *Catalog) FullStructure() []Structure {
	out := []Structure{}
	for _, root := range c.store.Current().MediaFolders {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		out = append(out, Structure{
			Name:     filepath.Base(strings.TrimRight(root, "/\\")),
			Path:     root,
			Children: c.subfolders(root),
		})
	}
	return out
}

func (c *Catalog) subfolders(path string) []Structure {
	out := []Structure{}
	entries, err := os.ReadDir(path)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		full := filepath.Join(path, e.Name())
		out = append(out, Structure{Name: e.Name(), Path: full, Children: c.subfolders(full)})
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}
