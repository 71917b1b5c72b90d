// Package api assembles the HTTP surface: the UPnP endpoints, media
// streaming, thumbnails, and the JSON API behind the web UI.
package api

import (
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/goldmedia/goldmedia/internal/catalog"
	"github.com/goldmedia/goldmedia/internal/config"
	"github.com/goldmedia/goldmedia/internal/logging"
	"github.com/goldmedia/goldmedia/internal/probe"
	"github.com/goldmedia/goldmedia/internal/stream"
	"github.com/goldmedia/goldmedia/internal/upnp"
)

func init() {
	chi.RegisterMethod("SUBSCRIBE")
	chi.RegisterMethod("UNSUBSCRIBE")
}

// Server wires every HTTP route to its component.
type Server struct {
	store    *config.Store
	cat      *catalog.Catalog
	tool     *probe.Tool
	upnp     *upnp.Service
	stream   *stream.Handler
	thumbDir string
	imageDir string
	log      zerolog.Logger
}

func NewServer(store *config.Store, cat *catalog.Catalog, tool *probe.Tool, upnpSvc *upnp.Service, streamHandler *stream.Handler, thumbDir, imageDir string) *Server {
	return &Server{
		store:    store,
		cat:      cat,
		tool:     tool,
		upnp:     upnpSvc,
		stream:   streamHandler,
		thumbDir: thumbDir,
		imageDir: imageDir,
		log:      logging.WithComponent("http"),
	}
}

// Router builds the full route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// UPnP device surface
	r.Get("/device.xml", s.upnp.HandleDeviceDescription)
	r.Get("/scpd/{service}.xml", s.upnp.HandleSCPD)
	r.Post("/upnp/control/{service}", s.upnp.HandleControl)
	r.MethodFunc("SUBSCRIBE", "/upnp/event/{service}", s.handleSubscribe)
	r.MethodFunc("UNSUBSCRIBE", "/upnp/event/{service}", s.handleUnsubscribe)

	// Media
	r.Get("/stream/*", s.handleStream)
	r.Head("/stream/*", s.handleStream)
	r.Get("/subtitle/embedded/{path}/{idx}", s.handleEmbeddedSubtitle)
	r.Get("/subtitle/*", s.handleSubtitleFile)

	// Static assets
	r.Handle("/static/.thumbnails/*", http.StripPrefix("/static/.thumbnails/",
		http.FileServer(http.Dir(s.thumbDir))))
	r.Handle("/images/*", http.StripPrefix("/images/",
		http.FileServer(http.Dir(s.imageDir))))

	// JSON API for the web UI
	r.Route("/api", func(r chi.Router) {
		r.Get("/get_structure", s.handleGetStructure)
		r.Get("/browse/", s.handleBrowseRoots)
		r.Get("/browse/*", s.handleBrowseDir)
		r.Get("/get_tracks/*", s.handleGetTracks)
		r.Post("/report_progress", s.handleReportProgress)
		r.Post("/get_progress", s.handleGetProgress)
		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleSaveSettings)
		r.Get("/status", s.handleStatus)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// handleSubscribe registers GENA subscriptions. Only ContentDirectory
// actually subscribes; the other services acknowledge and forget.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "service") != "ContentDirectory" {
		w.WriteHeader(http.StatusOK)
		return
	}
	s.upnp.Events().HandleSubscribe(w, r)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "service") != "ContentDirectory" {
		w.WriteHeader(http.StatusOK)
		return
	}
	s.upnp.Events().HandleUnsubscribe(w, r)
}

// wildcardPath recovers the raw filesystem path after a route prefix,
// URL-unescaped. The router eats the leading separator, so it is put
// back for non-absolute results.
func wildcardPath(r *http.Request, prefix string) string {
	raw := strings.TrimPrefix(r.URL.EscapedPath(), prefix)
	if p, err := url.PathUnescape(raw); err == nil {
		raw = p
	}
	if raw != "" && !filepath.IsAbs(raw) && !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return raw
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r, "/stream/")
	if !s.cat.IsSafePath(path) || !catalog.IsValidVideo(path) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	settings := s.store.Current()
	if r.URL.Query().Get("transcode") == "true" && settings.NeedsTranscode(path) {
		s.stream.ServeTranscoded(w, r, path)
		return
	}
	s.stream.ServeDirect(w, r, path)
}

func (s *Server) handleSubtitleFile(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r, "/subtitle/")
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".srt" && ext != ".vtt" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if !s.cat.IsSafePath(path) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	s.stream.ServeSubtitleFile(w, r, path)
}
