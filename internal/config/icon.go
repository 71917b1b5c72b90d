package config

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goldmedia/goldmedia/internal/logging"
)

// ServerUUID is deterministic across restarts: renderers remember the
// device by its UDN, so it must follow the host, not the process.
func ServerUUID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "goldmedia"
	}
	return fmt.Sprintf("%x", md5.Sum([]byte(hostname)))
}

// SetupCustomIcon copies the configured icon into the static images
// directory so /device.xml can reference it, or removes the copy when
// the setting is cleared.
func SetupCustomIcon(s *Settings, staticDir string) bool {
	log := logging.WithComponent("config")
	destDir := filepath.Join(staticDir, "images")
	dest := filepath.Join(destDir, CustomIconFilename)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		log.Warn().Err(err).Msg("could not create images directory")
		return false
	}

	if s.ServerIconPath == "" {
		if err := os.Remove(dest); err == nil {
			log.Info().Msg("custom server icon removed")
		}
		return false
	}

	if err := copyFile(s.ServerIconPath, dest); err != nil {
		log.Warn().Err(err).Str("src", s.ServerIconPath).Msg("could not copy custom icon")
		os.Remove(dest)
		return false
	}
	log.Info().Str("src", s.ServerIconPath).Msg("custom server icon set")
	return true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
