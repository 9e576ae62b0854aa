package fileutils

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// WriteFileAtomic writes data to a temp file beside path and renames it into
// place, so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithStack(err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return errors.WithStack(err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.WithStack(err)
	}

	return nil
}

// IsUnder reports whether path is root itself or lives below it. Both are
// compared after cleaning; no symlinks are resolved.
func IsUnder(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// PathLength is the length of path in characters, which is what path length
// limits on the platforms we care about are measured in.
func PathLength(path string) int {
	return utf8.RuneCountInString(path)
}

// RemoveBestEffort deletes path (recursively for directories) and reports
// whether anything went wrong. A path that is already gone is not an error.
func RemoveBestEffort(path string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}
