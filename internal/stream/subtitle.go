package stream

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

var srtTimeRe = regexp.MustCompile(`(\d{2}:\d{2}:\d{2}),(\d{3})\s*-->\s*(\d{2}:\d{2}:\d{2}),(\d{3})`)

// ServeSubtitleFile sends a sidecar subtitle as WebVTT. VTT files pass
// through unchanged; SRT is converted on the fly.
func (h *Handler) ServeSubtitleFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if strings.EqualFold(filepath.Ext(path), ".vtt") {
		io.Copy(w, f)
		return
	}
	if err := srtToVTT(w, f); err != nil {
		h.log.Warn().Err(err).Str("file", path).Msg("subtitle conversion failed")
	}
}

// srtToVTT rewrites SRT cue timestamps (comma millis) to WebVTT form.
func srtToVTT(w io.Writer, r io.Reader) error {
	if _, err := io.WriteString(w, "WEBVTT\n\n"); err != nil {
		return err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimPrefix(scanner.Text(), "\xef\xbb\xbf")
		if m := srtTimeRe.FindStringSubmatch(line); m != nil {
			fmt.Fprintf(w, "%s.%s --> %s.%s\n", m[1], m[2], m[3], m[4])
			continue
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// ServeEmbeddedSubtitle extracts subtitle track idx from the container
// as WebVTT, streaming ffmpeg's output as it is produced.
func (h *Handler) ServeEmbeddedSubtitle(w http.ResponseWriter, r *http.Request, path string, idx int) {
	cmd := exec.CommandContext(r.Context(), h.tool.FFmpegPath,
		"-hide_banner", "-v", "error",
		"-i", path,
		"-map", fmt.Sprintf("0:s:%d", idx),
		"-f", "webvtt",
		"pipe:")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		http.Error(w, "subtitle extraction failed", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		h.log.Warn().Err(err).Str("file", path).Msg("could not start subtitle extraction")
		http.Error(w, "subtitle extraction failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	io.Copy(w, stdout)
	cmd.Wait()
}
