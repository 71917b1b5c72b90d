package stream

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldmedia/goldmedia/internal/probe"
)

func fixtureFile(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "movie.mp4")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newTestHandler() *Handler {
	return NewHandler(&probe.Tool{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"})
}

func serveDirect(t *testing.T, path, method, rangeHeader string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, "/stream/x", nil)
	if rangeHeader != "" {
		r.Header.Set("Range", rangeHeader)
	}
	w := httptest.NewRecorder()
	newTestHandler().ServeDirect(w, r, path)
	return w
}

func TestServeDirectFullFile(t *testing.T) {
	path := fixtureFile(t, 1000)
	w := serveDirect(t, path, http.MethodGet, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1000", w.Header().Get("Content-Length"))
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))
	assert.Equal(t,
		"DLNA.ORG_PN=MPEG_PS_NTSC;DLNA.ORG_OP=01;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=01700000000000000000000000000000",
		w.Header().Get("contentFeatures.dlna.org"))
	assert.Equal(t, "Streaming", w.Header().Get("transferMode.dlna.org"))
	assert.Len(t, w.Body.Bytes(), 1000)
}

func TestServeDirectClosedRange(t *testing.T) {
	path := fixtureFile(t, 1000)
	w := serveDirect(t, path, http.MethodGet, "bytes=0-499")

	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "500", w.Header().Get("Content-Length"))
	assert.Equal(t, "bytes 0-499/1000", w.Header().Get("Content-Range"))
	assert.Len(t, w.Body.Bytes(), 500)
	assert.Equal(t, byte(0), w.Body.Bytes()[0])
}

func TestServeDirectOpenRange(t *testing.T) {
	path := fixtureFile(t, 1000)
	w := serveDirect(t, path, http.MethodGet, "bytes=500-")

	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "500", w.Header().Get("Content-Length"))
	assert.Equal(t, "bytes 500-999/1000", w.Header().Get("Content-Range"))
	assert.Equal(t, byte(500%251), w.Body.Bytes()[0])
}

func TestServeDirectEndClampedToSize(t *testing.T) {
	path := fixtureFile(t, 1000)
	w := serveDirect(t, path, http.MethodGet, "bytes=900-5000")

	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "bytes 900-999/1000", w.Header().Get("Content-Range"))
	assert.Equal(t, "100", w.Header().Get("Content-Length"))
}

func TestServeDirectStartBeyondEOF(t *testing.T) {
	path := fixtureFile(t, 1000)
	w := serveDirect(t, path, http.MethodGet, "bytes=1000-")

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)
	assert.Equal(t, "bytes */1000", w.Header().Get("Content-Range"))
}

func TestServeDirectMalformedRangeIgnored(t *testing.T) {
	path := fixtureFile(t, 1000)
	for _, header := range []string{"bytes=abc-def", "bytes=-", "items=0-10", "bytes=500-100"} {
		w := serveDirect(t, path, http.MethodGet, header)
		assert.Equal(t, http.StatusOK, w.Code, "header %q should be ignored", header)
		assert.Len(t, w.Body.Bytes(), 1000)
	}
}

func TestServeDirectHead(t *testing.T) {
	path := fixtureFile(t, 1000)
	w := serveDirect(t, path, http.MethodHead, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1000", w.Header().Get("Content-Length"))
	assert.NotEmpty(t, w.Header().Get("contentFeatures.dlna.org"))
	assert.Empty(t, w.Body.Bytes())
}

func TestServeDirectMissingFile(t *testing.T) {
	w := serveDirect(t, "/does/not/exist.mp4", http.MethodGet, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestParseRange(t *testing.T) {
	cases := []struct {
		header     string
		start, end int64
		ok, bad    bool
	}{
		{"", 0, 0, false, false},
		{"bytes=0-499", 0, 499, true, false},
		{"bytes=500-", 500, 999, true, false},
		{"bytes=0-", 0, 999, true, false},
		{"bytes=990-2000", 990, 999, true, false},
		{"bytes=0-0", 0, 0, true, false},
		{"bytes=100-50", 0, 0, false, true},
		{"bytes=-500", 0, 0, false, true},
		{"chunks=0-10", 0, 0, false, true},
		{"bytes=0-499,600-700", 0, 499, true, false},
	}
	for _, tc := range cases {
		start, end, ok, bad := parseRange(tc.header, 1000)
		assert.Equal(t, tc.ok, ok, tc.header)
		assert.Equal(t, tc.bad, bad, tc.header)
		if tc.ok {
			assert.Equal(t, tc.start, start, tc.header)
			assert.Equal(t, tc.end, end, tc.header)
		}
	}
}

func TestSRTToVTT(t *testing.T) {
	srt := "1\r\n00:00:01,000 --> 00:00:04,500\r\nHello there\r\n\r\n2\r\n00:01:00,250 --> 00:01:02,000\r\nSecond line\r\n"
	var sb strings.Builder
	require.NoError(t, srtToVTT(&sb, strings.NewReader(srt)))

	out := sb.String()
	assert.True(t, strings.HasPrefix(out, "WEBVTT\n\n"))
	assert.Contains(t, out, "00:00:01.000 --> 00:00:04.500")
	assert.Contains(t, out, "00:01:00.250 --> 00:01:02.000")
	assert.Contains(t, out, "Hello there")
	assert.NotContains(t, out, ",000 -->")
}
