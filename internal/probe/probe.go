// Package probe wraps the external ffmpeg/ffprobe toolchain used for
// metadata extraction and thumbnail rendering.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/goldmedia/goldmedia/internal/logging"
)

// Tool holds the resolved toolchain paths.
type Tool struct {
	FFmpegPath  string
	FFprobePath string
}

// Discover prefers a bundled toolchain under ./ffmpeg/ next to the
// executable and falls back to PATH lookups.
func Discover() *Tool {
	log := logging.WithComponent("probe")

	base := "."
	if exe, err := os.Executable(); err == nil {
		base = filepath.Dir(exe)
	}

	suffix := ""
	if runtime.GOOS == "windows" {
		suffix = ".exe"
	}

	t := &Tool{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
	if local := filepath.Join(base, "ffmpeg", "ffmpeg"+suffix); fileExists(local) {
		t.FFmpegPath = local
	}
	if local := filepath.Join(base, "ffmpeg", "ffprobe"+suffix); fileExists(local) {
		t.FFprobePath = local
	}

	log.Info().Str("ffmpeg", t.FFmpegPath).Str("ffprobe", t.FFprobePath).Msg("toolchain resolved")
	return t
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	Index     int               `json:"index"`
	CodecType string            `json:"codec_type"`
	Tags      map[string]string `json:"tags"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

// Duration reads the container-format duration in seconds. A failed
// probe is reported as an error; callers persist duration 0.
func (t *Tool) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, t.FFprobePath,
		"-v", "error",
		"-show_format",
		"-print_format", "json",
		path)

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var data ffprobeOutput
	if err := json.Unmarshal(out, &data); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if data.Format.Duration == "" {
		return 0, fmt.Errorf("ffprobe %s: no duration in format", path)
	}
	dur, err := strconv.ParseFloat(data.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", data.Format.Duration, err)
	}
	return dur, nil
}

// Thumbnail writes a single JPEG frame captured at ts seconds. Seeking
// before the input keeps this near-instant even on large files.
func (t *Tool) Thumbnail(ctx context.Context, path string, ts float64, outPath string) error {
	cmd := exec.CommandContext(ctx, t.FFmpegPath,
		"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
		"-i", path,
		"-vframes", "1",
		"-q:v", "3",
		"-hide_banner", "-loglevel", "error",
		"-y",
		outPath)

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg thumbnail %s: %w (%s)", path, err, string(out))
	}
	return nil
}
