// Package stream serves media to renderers: direct files with DLNA
// range semantics, a piped MPEG-PS transcode bridge, and subtitle
// delivery.
package stream

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/goldmedia/goldmedia/internal/catalog"
	"github.com/goldmedia/goldmedia/internal/logging"
	"github.com/goldmedia/goldmedia/internal/metrics"
	"github.com/goldmedia/goldmedia/internal/probe"
)

const (
	chunkSize = 64 * 1024

	// Advertised on every direct stream so renderers enable range
	// seeking. MPEG_PS_NTSC keeps Samsung sets happy regardless of the
	// real container.
	contentFeatures = "DLNA.ORG_PN=MPEG_PS_NTSC;DLNA.ORG_OP=01;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=01700000000000000000000000000000"

	serverBanner = "Microsoft-Windows/10.0 UPnP/1.0 WMP/12.0"
)

// Handler serves /stream, /subtitle and their variants.
type Handler struct {
	tool *probe.Tool
	log  zerolog.Logger
}

func NewHandler(tool *probe.Tool) *Handler {
	return &Handler{tool: tool, log: logging.WithComponent("stream")}
}

func dlnaHeaders(w http.ResponseWriter, mime string) {
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("contentFeatures.dlna.org", contentFeatures)
	w.Header().Set("transferMode.dlna.org", "Streaming")
	w.Header().Set("Server", serverBanner)
}

// ServeDirect streams a file as-is, honoring single byte ranges. HEAD
// returns the headers and length without a body.
func (h *Handler) ServeDirect(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	size := info.Size()

	dlnaHeaders(w, catalog.MIMEType(path))

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	start, end, ok, malformed := parseRange(r.Header.Get("Range"), size)
	if !malformed && ok && start >= size {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	metrics.StreamsStarted.WithLabelValues("direct").Inc()

	if malformed || !ok {
		// No usable range: serve the whole file.
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		copyChunks(w, f, size)
		return
	}

	length := end - start + 1
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return
	}
	copyChunks(w, f, length)
}

// parseRange handles "bytes=start-end" with an optional open end. The
// end is clamped to the last byte. ok is false when no Range header was
// sent; malformed marks headers that should be ignored.
func parseRange(header string, size int64) (start, end int64, ok, malformed bool) {
	if header == "" {
		return 0, 0, false, false
	}
	if !strings.HasPrefix(header, "bytes=") {
		return 0, 0, false, true
	}
	spec := strings.TrimPrefix(header, "bytes=")
	// Only the first range of a multi-range request is honored.
	if i := strings.Index(spec, ","); i >= 0 {
		spec = spec[:i]
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 || parts[0] == "" {
		return 0, 0, false, true
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false, true
	}

	end = size - 1
	if parts[1] != "" {
		e, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || e < start {
			return 0, 0, false, true
		}
		if e < end {
			end = e
		}
	}
	return start, end, true, false
}

// copyChunks streams n bytes in fixed-size chunks, stopping quietly
// when the renderer hangs up.
func copyChunks(w io.Writer, r io.Reader, n int64) {
	buf := make([]byte, chunkSize)
	io.CopyBuffer(w, io.LimitReader(r, n), buf)
}
