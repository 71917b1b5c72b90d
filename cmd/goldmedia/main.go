package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/goldmedia/goldmedia/internal/api"
	"github.com/goldmedia/goldmedia/internal/catalog"
	"github.com/goldmedia/goldmedia/internal/config"
	"github.com/goldmedia/goldmedia/internal/logging"
	"github.com/goldmedia/goldmedia/internal/netutil"
	"github.com/goldmedia/goldmedia/internal/portmap"
	"github.com/goldmedia/goldmedia/internal/probe"
	"github.com/goldmedia/goldmedia/internal/ssdp"
	"github.com/goldmedia/goldmedia/internal/stream"
	"github.com/goldmedia/goldmedia/internal/upnp"
	"github.com/goldmedia/goldmedia/internal/version"
	"github.com/goldmedia/goldmedia/internal/watcher"
)

func main() {
	logging.Configure(logging.Config{})
	log := logging.Base()

	dataDir := baseDir()
	ver := version.Load(dataDir)
	log.Info().Str("version", ver.Version).Msg("goldmedia starting")
	staticDir := filepath.Join(dataDir, "static")
	thumbDir := filepath.Join(staticDir, ".thumbnails")
	imageDir := filepath.Join(staticDir, "images")

	store := config.NewStore(filepath.Join(dataDir, config.SettingsFile))
	settings := store.Load()

	tool := probe.Discover()

	cat := catalog.New(store, tool, dataDir, thumbDir)
	cat.LoadCaches()

	events := upnp.NewEventing()
	cat.SetNotifier(events)

	config.SetupCustomIcon(settings, staticDir)

	uuid := config.ServerUUID()
	upnpSvc := upnp.NewService(store, cat, events, uuid, staticDir)
	streamHandler := stream.NewHandler(tool)
	srv := api.NewServer(store, cat, tool, upnpSvc, streamHandler, thumbDir, imageDir)

	httpServer := &http.Server{
		Addr:        ":" + strconv.Itoa(settings.ServerPort),
		Handler:     srv.Router(),
		ReadTimeout: 15 * time.Second,
		// Streams and transcodes run for hours; no write timeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat.StartWorkers(ctx)

	engine := ssdp.New(uuid, settings.ServerPort)
	if err := engine.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("discovery disabled")
		engine = nil
	}

	w, err := watcher.New(cat)
	if err != nil {
		log.Warn().Err(err).Msg("filesystem watcher unavailable")
		w = nil
	}

	// Initial scans queue probe jobs before the watcher starts, so a
	// file landing mid-startup is seen by one path or the other.
	cat.ScanAll()
	if w != nil {
		w.Start(settings.MediaFolders)
	}

	if settings.EnableUPnP {
		go func() {
			mapper := portmap.New()
			if err := mapper.Forward(netutil.PrimaryIP(), settings.ServerPort, settings.ServerName); err != nil {
				log.Warn().Err(err).Msg("gateway port mapping failed")
			}
		}()
	}

	store.OnChange(func(s *config.Settings) {
		config.SetupCustomIcon(s, staticDir)
		if w != nil {
			w.Restart(s.MediaFolders)
		}
		if engine != nil {
			go engine.Announce("ssdp:alive")
		}
	})

	jobs := cron.New()
	if engine != nil {
		// Renderers expire cached devices after max-age; re-announce at
		// half that interval.
		jobs.AddFunc("@every 7m30s", func() { engine.Announce("ssdp:alive") })
	}
	jobs.AddFunc("@every 1m", events.SweepExpired)
	jobs.Start()

	if engine != nil {
		time.AfterFunc(2*time.Second, func() { engine.Announce("ssdp:alive") })
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("port", settings.ServerPort).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		if w != nil {
			w.Stop()
		}
		jobs.Stop()
		if engine != nil {
			engine.Shutdown()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("goodbye")
}

// baseDir is where settings, caches, and static assets live: next to
// the executable, falling back to the working directory.
func baseDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
