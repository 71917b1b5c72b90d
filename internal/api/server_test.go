package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldmedia/goldmedia/internal/catalog"
	"github.com/goldmedia/goldmedia/internal/config"
	"github.com/goldmedia/goldmedia/internal/probe"
	"github.com/goldmedia/goldmedia/internal/stream"
	"github.com/goldmedia/goldmedia/internal/upnp"
)

func newTestServer(t *testing.T, roots ...string) (*Server, *config.Store) {
	t.Helper()
	dir := t.TempDir()
	st := config.NewStore(filepath.Join(dir, config.SettingsFile))
	s := st.Load()
	s.MediaFolders = roots
	require.NoError(t, st.Save(s))

	tool := &probe.Tool{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
	cat := catalog.New(st, tool, dir, filepath.Join(dir, "thumbs"))
	cat.LoadCaches()
	events := upnp.NewEventing()
	cat.SetNotifier(events)
	svc := upnp.NewService(st, cat, events, "abcd1234", filepath.Join(dir, "static"))

	return NewServer(st, cat, tool, svc, stream.NewHandler(tool),
		filepath.Join(dir, "thumbs"), filepath.Join(dir, "static", "images")), st
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	r.RemoteAddr = "10.0.0.5:40000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestBrowseRootsEndpoint(t *testing.T) {
	root := t.TempDir()
	srv, _ := newTestServer(t, root)
	router := srv.Router()

	w := doJSON(t, router, http.MethodGet, "/api/browse/", "")
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Folders []struct {
			Name string `json:"name"`
			Path string `json:"path"`
		} `json:"folders"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Folders, 1)
	assert.Equal(t, root, out.Folders[0].Path)
}

func TestBrowseDirEndpoint(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "movie.mp4"), []byte("x"), 0o644))
	srv, _ := newTestServer(t, root)
	router := srv.Router()

	w := doJSON(t, router, http.MethodGet, "/api/browse/"+strings.TrimPrefix(root, "/"), "")
	require.Equal(t, http.StatusOK, w.Code)

	var listing catalog.Listing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Files, 1)
	assert.Equal(t, "movie", listing.Files[0].Name)
}

func TestBrowseOutsideRootsForbidden(t *testing.T) {
	srv, _ := newTestServer(t, t.TempDir())
	router := srv.Router()

	w := doJSON(t, router, http.MethodGet, "/api/browse/etc/passwd", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"error"`)
}

func TestProgressRoundTrip(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "movie.mp4")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	srv, _ := newTestServer(t, root)
	router := srv.Router()

	w := doJSON(t, router, http.MethodPost, "/api/report_progress",
		`{"path":"`+file+`","position":93.5}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/get_progress", `{"path":"`+file+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var out map[string]float64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, 93.5, out["position"])
}

func TestProgressBadRequest(t *testing.T) {
	srv, _ := newTestServer(t, t.TempDir())
	router := srv.Router()

	w := doJSON(t, router, http.MethodPost, "/api/report_progress", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/get_progress", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamOutsideRootsForbidden(t *testing.T) {
	srv, _ := newTestServer(t, t.TempDir())
	router := srv.Router()

	w := doJSON(t, router, http.MethodGet, "/stream/etc/passwd", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStreamServesFileInsideRoot(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "movie.mp4")
	require.NoError(t, os.WriteFile(file, []byte("0123456789"), 0o644))
	srv, _ := newTestServer(t, root)
	router := srv.Router()

	w := doJSON(t, router, http.MethodGet, "/stream"+file, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10", w.Header().Get("Content-Length"))
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
}

func TestDeviceXMLRoute(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()

	w := doJSON(t, router, http.MethodGet, "/device.xml", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), st.Current().ServerName)
	assert.Contains(t, w.Body.String(), "uuid:abcd1234")
}

func TestSCPDRoutes(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	for _, svc := range []string{"ContentDirectory", "ConnectionManager", "X_MS_MediaReceiverRegistrar"} {
		w := doJSON(t, router, http.MethodGet, "/scpd/"+svc+".xml", "")
		assert.Equal(t, http.StatusOK, w.Code, svc)
		assert.Contains(t, w.Body.String(), "<scpd", svc)
	}

	w := doJSON(t, router, http.MethodGet, "/scpd/Nope.xml", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventRoutesOnlyContentDirectorySubscribes(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	// Non-ContentDirectory services acknowledge without registering.
	w := doJSON(t, router, "SUBSCRIBE", "/upnp/event/ConnectionManager", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("SID"))

	// ContentDirectory without CALLBACK is a precondition failure.
	w = doJSON(t, router, "SUBSCRIBE", "/upnp/event/ContentDirectory", "")
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	w := doJSON(t, router, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, float64(1), out["system_update"])
}

func TestSaveSettingsEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()

	w := doJSON(t, router, http.MethodPost, "/api/settings", `{"server_name":"Den"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Den", st.Current().ServerName)
}
