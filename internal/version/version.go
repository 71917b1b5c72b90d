// Package version reads the build version shipped next to the binary.
package version

import (
	"encoding/json"
	"os"
	"path/filepath"
)

type Info struct {
	Version string `json:"version"`
}

// Load reads version.json from dir, falling back to 0.0.0 when the
// file is missing or unreadable.
func Load(dir string) Info {
	data, err := os.ReadFile(filepath.Join(dir, "version.json"))
	if err != nil {
		return Info{Version: "0.0.0"}
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{Version: "0.0.0"}
	}
	return info
}
