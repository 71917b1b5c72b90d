package stream

import (
	"io"
	"net/http"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/goldmedia/goldmedia/internal/metrics"
)

// ServeTranscoded converts the file to an MPEG program stream on the
// fly and pipes it out. No length or ranges: renderers that asked for
// the transcoded form play it front to back. ffmpeg is killed as soon
// as the request context ends.
func (h *Handler) ServeTranscoded(w http.ResponseWriter, r *http.Request, path string) {
	session := uuid.New().String()[:8]
	log := h.log.With().Str("session", session).Str("file", filepath.Base(path)).Logger()

	cmd := exec.CommandContext(r.Context(), h.tool.FFmpegPath,
		"-i", path,
		"-c:v", "mpeg2video",
		"-q:v", "4",
		"-c:a", "ac3",
		"-b:a", "192k",
		"-f", "mpegts",
		"-")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		http.Error(w, "transcode setup failed", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		log.Error().Err(err).Msg("could not start ffmpeg")
		http.Error(w, "transcode failed", http.StatusInternalServerError)
		return
	}

	metrics.StreamsStarted.WithLabelValues("transcode").Inc()
	log.Info().Msg("transcode started")

	w.Header().Set("Content-Type", "video/mpeg")
	w.Header().Set("contentFeatures.dlna.org", "DLNA.ORG_PN=MPEG_PS_NTSC;DLNA.ORG_OP=01;DLNA.ORG_CI=1")
	w.Header().Set("transferMode.dlna.org", "Streaming")
	w.Header().Set("Server", serverBanner)
	w.WriteHeader(http.StatusOK)

	buf := make([]byte, chunkSize)
	n, copyErr := io.CopyBuffer(w, stdout, buf)

	// CommandContext already kills the process when the client goes
	// away; Wait reaps it either way.
	waitErr := cmd.Wait()
	if copyErr != nil || waitErr != nil {
		log.Debug().Int64("bytes", n).AnErr("copy", copyErr).AnErr("wait", waitErr).Msg("transcode ended")
		return
	}
	log.Info().Int64("bytes", n).Msg("transcode finished")
}
