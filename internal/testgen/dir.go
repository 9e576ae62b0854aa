package testgen

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/segmentio/encoding/json"
)

// GenerateDirUnit creates a folder unit named name under parent and returns
// its path. Pages are named 001.png, 002.png, and so on.
func GenerateDirUnit(t *testing.T, parent, name string, opts DirOptions) string {
	t.Helper()

	dir := CreateSubDir(t, parent, name)
	ext := pageExt(opts.ImageFormat)
	for i := 1; i <= opts.PageCount; i++ {
		WriteFile(t, dir, fmt.Sprintf("%03d.%s", i, ext), GenerateImage(t, opts.ImageFormat, 60, 90))
	}

	switch {
	case opts.RawMetadata != "":
		WriteFile(t, dir, "metadata.json", []byte(opts.RawMetadata))
	case opts.Metadata != nil:
		WriteSidecar(t, filepath.Join(dir, "metadata.json"), *opts.Metadata)
	}

	return dir
}

func marshalMetadata(t *testing.T, m *Metadata, raw string) []byte {
	t.Helper()
	if raw != "" {
		return []byte(raw)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("failed to marshal metadata: %v", err)
	}
	return data
}
