// Package watcher monitors the media folders for filesystem changes and
// feeds them to the catalog.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/goldmedia/goldmedia/internal/catalog"
	"github.com/goldmedia/goldmedia/internal/logging"
)

const debounceDelay = 1 * time.Second

// Watcher tracks every directory under the configured media roots and
// debounces raw events into catalog create/delete/move notifications.
type Watcher struct {
	cat *catalog.Catalog
	log zerolog.Logger

	mu       sync.Mutex
	fw       *fsnotify.Watcher
	watched  map[string]struct{}
	debounce map[string]*time.Timer
	// removed holds pending Rename/Remove events per path. A Create
	// within the debounce window consumes one entry and the pair folds
	// into a move; entries still present when the delete timer fires
	// are real deletions.
	removed map[string]time.Time

	stop chan struct{}
	once sync.Once
}

// New creates a watcher delivering events to the catalog.
func New(cat *catalog.Catalog) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		cat:      cat,
		log:      logging.WithComponent("watcher"),
		fw:       fw,
		watched:  map[string]struct{}{},
		debounce: map[string]*time.Timer{},
		removed:  map[string]time.Time{},
		stop:     make(chan struct{}),
	}, nil
}

// Start begins watching the given roots and processing events.
func (w *Watcher) Start(roots []string) {
	go w.eventLoop()
	w.watchRoots(roots)
	w.log.Info().Msg("filesystem watcher started")
}

// Stop shuts the watcher down. Safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		w.fw.Close()
	})
}

// Restart drops every watch and rebuilds from the new roots, then
// rescans them so freshly added folders get probed.
func (w *Watcher) Restart(roots []string) {
	w.mu.Lock()
	for p := range w.watched {
		w.fw.Remove(p)
		delete(w.watched, p)
	}
	w.mu.Unlock()

	w.watchRoots(roots)
	w.cat.ScanAll()
}

func (w *Watcher) watchRoots(roots []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range roots {
		if err := w.addRecursive(root); err != nil {
			w.log.Warn().Err(err).Str("root", root).Msg("could not watch folder")
		}
	}
	w.log.Info().Int("paths", len(w.watched)).Msg("watch list rebuilt")
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible dirs
		}
		if d.IsDir() {
			if err := w.fw.Add(path); err != nil {
				return nil
			}
			w.watched[path] = struct{}{}
		}
		return nil
	})
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") ||
		strings.HasSuffix(base, ".part") {
		return
	}

	// New directories join the watch list immediately so files dropped
	// into them are seen.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.mu.Lock()
			if err := w.fw.Add(event.Name); err == nil {
				w.watched[event.Name] = struct{}{}
			}
			w.mu.Unlock()
			return
		}
	}

	if !catalog.IsValidVideo(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		w.mu.Lock()
		from := ""
		var newest time.Time
		for p, ts := range w.removed {
			if time.Since(ts) < debounceDelay && ts.After(newest) {
				from, newest = p, ts
			}
		}
		if from != "" {
			delete(w.removed, from)
		}
		w.mu.Unlock()
		if from != "" {
			w.schedule("move:"+event.Name, func() {
				w.log.Info().Str("from", filepath.Base(from)).Str("to", base).Msg("file moved")
				w.cat.OnMoved(from, event.Name)
			})
			return
		}
		w.schedule("create:"+event.Name, func() {
			w.log.Info().Str("file", base).Msg("file created")
			w.cat.OnCreated(event.Name)
		})

	case event.Has(fsnotify.Rename), event.Has(fsnotify.Remove):
		w.mu.Lock()
		w.removed[event.Name] = time.Now()
		w.mu.Unlock()
		w.schedule("delete:"+event.Name, func() {
			// A rename inside the watched tree produces a Create for the
			// destination; when one arrived the move handler already
			// consumed this path's entry.
			w.mu.Lock()
			_, pending := w.removed[event.Name]
			delete(w.removed, event.Name)
			w.mu.Unlock()
			if !pending {
				return
			}
			w.log.Info().Str("file", base).Msg("file removed")
			w.cat.OnDeleted(event.Name)
		})
	}
}

// schedule runs fn after the debounce delay, resetting the timer when
// the same key fires again.
func (w *Watcher) schedule(key string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounce[key]; ok {
		t.Stop()
	}
	w.debounce[key] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.debounce, key)
		w.mu.Unlock()
		fn()
	})
}
