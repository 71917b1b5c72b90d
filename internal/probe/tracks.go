package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// AudioTrack describes one audio stream inside a container.
type AudioTrack struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
	Lang  string `json:"lang"`
}

// SubtitleTrack describes an embedded or external subtitle source. Path
// is either an extraction URL (embedded) or a file path (external).
type SubtitleTrack struct {
	Lang  string `json:"lang"`
	Label string `json:"label"`
	Path  string `json:"path"`
}

// Tracks lists a video's audio and subtitle tracks.
type Tracks struct {
	Audio     []AudioTrack    `json:"audio"`
	Subtitles []SubtitleTrack `json:"subtitles"`
}

var subtitleLangRe = regexp.MustCompile(`(?i)\.([a-zA-Z]{2,3})\.(srt|vtt)$`)

// MediaTracks probes the container streams and scans the file's
// directory for sidecar .srt/.vtt subtitles.
func (t *Tool) MediaTracks(ctx context.Context, path string) (*Tracks, error) {
	cmd := exec.CommandContext(ctx, t.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		path)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe streams %s: %w", path, err)
	}

	var data ffprobeOutput
	if err := json.Unmarshal(out, &data); err != nil {
		return nil, fmt.Errorf("parse ffprobe streams: %w", err)
	}

	tracks := &Tracks{Audio: []AudioTrack{}, Subtitles: []SubtitleTrack{}}

	subtitleIdx := 0
	for _, s := range data.Streams {
		switch s.CodecType {
		case "audio":
			label := s.Tags["title"]
			if label == "" {
				label = fmt.Sprintf("Track %d", s.Index)
			}
			lang := s.Tags["language"]
			if lang == "" {
				lang = "unknown"
			}
			tracks.Audio = append(tracks.Audio, AudioTrack{ID: s.Index, Label: label, Lang: lang})
		case "subtitle":
			title := s.Tags["title"]
			if title == "" {
				title = fmt.Sprintf("Track %d", s.Index)
			}
			lang := s.Tags["language"]
			if lang == "" {
				lang = "eng"
			}
			tracks.Subtitles = append(tracks.Subtitles, SubtitleTrack{
				Lang:  lang,
				Label: "(Emb) " + title,
				Path:  fmt.Sprintf("/subtitle/embedded/%s/%d", url.PathEscape(path), subtitleIdx),
			})
			subtitleIdx++
		}
	}

	tracks.Subtitles = append(tracks.Subtitles, externalSubtitles(path)...)
	return tracks, nil
}

// externalSubtitles finds sidecar subtitle files sharing the video's
// basename, e.g. movie.en.srt next to movie.mkv.
func externalSubtitles(videoPath string) []SubtitleTrack {
	stem := strings.ToLower(strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath)))
	dir := filepath.Dir(videoPath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []SubtitleTrack
	for _, e := range entries {
		name := strings.ToLower(e.Name())
		if !strings.HasPrefix(name, stem) {
			continue
		}
		if !strings.HasSuffix(name, ".srt") && !strings.HasSuffix(name, ".vtt") {
			continue
		}
		lang := "unknown"
		if m := subtitleLangRe.FindStringSubmatch(name); m != nil {
			lang = m[1]
		}
		out = append(out, SubtitleTrack{
			Lang:  lang,
			Label: "(Ext) " + lang,
			Path:  filepath.Join(dir, e.Name()),
		})
	}
	return out
}
