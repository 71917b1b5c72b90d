package catalog

import (
	"path/filepath"
	"strings"
)

// IsSafePath reports whether path lies under one of the configured
// media roots, or is itself an ancestor of one. The ancestor case lets
// clients browse down from a parent directory toward a root.
func (c *Catalog) IsSafePath(path string) bool {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return false
	}
	for _, root := range c.store.Current().MediaFolders {
		rootAbs, err := filepath.Abs(filepath.Clean(root))
		if err != nil {
			continue
		}
		if isWithin(rootAbs, abs) || isWithin(abs, rootAbs) {
			return true
		}
	}
	return false
}

// isWithin reports whether child equals parent or sits below it. The
// comparison is separator aware so /media/tva does not match /media/tv.
func isWithin(parent, child string) bool {
	if parent == child {
		return true
	}
	if !strings.HasSuffix(parent, string(filepath.Separator)) {
		parent += string(filepath.Separator)
	}
	return strings.HasPrefix(child, parent)
}
