package api

import (
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/goldmedia/goldmedia/internal/httputil"
)

func (s *Server) handleGetStructure(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.cat.FullStructure())
}

// handleBrowseRoots lists the configured media roots as a top-level
// folder listing.
func (s *Server) handleBrowseRoots(w http.ResponseWriter, r *http.Request) {
	type folder struct {
		Name string `json:"name"`
		Path string `json:"path"`
	}
	out := struct {
		Folders []folder      `json:"folders"`
		Files   []interface{} `json:"files"`
	}{Folders: []folder{}, Files: []interface{}{}}

	for _, root := range s.cat.FullStructure() {
		out.Folders = append(out.Folders, folder{Name: root.Name, Path: root.Path})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleBrowseDir(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r, "/api/browse/")
	if !s.cat.IsSafePath(path) {
		httputil.WriteError(w, http.StatusForbidden, "path outside media folders")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.cat.ScanDir(path))
}

func (s *Server) handleGetTracks(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r, "/api/get_tracks/")
	if !s.cat.IsSafePath(path) {
		httputil.WriteError(w, http.StatusForbidden, "path outside media folders")
		return
	}
	tracks, err := s.tool.MediaTracks(r.Context(), path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("track probe failed")
		httputil.WriteError(w, http.StatusInternalServerError, "could not read tracks")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tracks)
}

func (s *Server) handleReportProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path     string  `json:"path"`
		Position float64 `json:"position"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil || req.Path == "" {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !s.cat.IsSafePath(req.Path) {
		httputil.WriteError(w, http.StatusForbidden, "path outside media folders")
		return
	}
	s.cat.SetPosition(requestIP(r), req.Path, req.Position)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil || req.Path == "" {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !s.cat.IsSafePath(req.Path) {
		httputil.WriteError(w, http.StatusForbidden, "path outside media folders")
		return
	}
	pos := s.cat.GetPosition(requestIP(r), req.Path)
	httputil.WriteJSON(w, http.StatusOK, map[string]float64{"position": pos})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.store.Current())
}

// handleSaveSettings replaces the settings document. Change callbacks
// registered on the store take care of restarting the watcher and
// re-announcing.
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	settings := s.store.Current()
	updated := *settings
	if err := httputil.ReadJSON(r, &updated); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid settings document")
		return
	}
	if err := s.store.Save(&updated); err != nil {
		s.log.Error().Err(err).Msg("could not save settings")
		httputil.WriteError(w, http.StatusInternalServerError, "could not save settings")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &updated)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"server_name":   s.store.Current().ServerName,
		"subscribers":   s.upnp.Events().SubscriberCount(),
		"system_update": s.upnp.Events().SystemUpdateID(),
		"media_folders": len(s.store.Current().MediaFolders),
	})
}

func (s *Server) handleEmbeddedSubtitle(w http.ResponseWriter, r *http.Request) {
	// The container path arrives as one escaped segment.
	path := chi.URLParam(r, "path")
	if p, err := url.PathUnescape(path); err == nil {
		path = p
	}
	if !s.cat.IsSafePath(path) {
		httputil.WriteError(w, http.StatusForbidden, "path outside media folders")
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil || idx < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "invalid track index")
		return
	}
	s.stream.ServeEmbeddedSubtitle(w, r, path, idx)
}

func requestIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
