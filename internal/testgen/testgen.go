// Package testgen provides utilities for generating library fixtures (page
// images, folder units, zip archives and metadata sidecars) for tests.
package testgen

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/encoding/json"
)

// Metadata mirrors the metadata.json sidecar format. It is kept separate from
// pkg/sidecar so that package can use these helpers in its own tests.
type Metadata struct {
	Version    int      `json:"version,omitempty"`
	Title      string   `json:"title,omitempty"`
	CatalogID  string   `json:"catalog_id,omitempty"`
	Type       string   `json:"type,omitempty"`
	Language   string   `json:"language,omitempty"`
	Artists    []string `json:"artists,omitempty"`
	Groups     []string `json:"groups,omitempty"`
	Characters []string `json:"characters,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Series     []string `json:"series,omitempty"`
}

// DirOptions configures a generated folder unit.
type DirOptions struct {
	PageCount   int       // number of direct page images, may be 0
	ImageFormat string    // "png" or "jpeg", defaults to "png"
	Metadata    *Metadata // written to metadata.json inside the folder
	RawMetadata string    // written verbatim to metadata.json when set, for malformed input
}

// ArchiveOptions configures a generated zip archive.
type ArchiveOptions struct {
	PageCount        int    // defaults to 3
	ImageFormat      string // "png" or "jpeg", defaults to "png"
	PagePrefix       string // directory prefix inside the archive, e.g. "pages/"
	Metadata         *Metadata
	RawMetadata      string
	ComicInfo        *ComicInfoOptions
	ExtraEntries     map[string][]byte
	Corrupt          bool // write garbage instead of a zip
	OmitPageContents bool // write empty page entries
}

// ComicInfoOptions configures an embedded ComicInfo.xml.
type ComicInfoOptions struct {
	Title      string
	Series     string
	Writer     string
	Penciller  string
	Characters string
	Teams      string
	Tags       string
	Genre      string
	Language   string
	Manga      string
}

// TempDir creates a temporary directory for testing and registers cleanup.
func TempDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", pattern)
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}

// CreateSubDir creates a subdirectory within the given parent directory.
func CreateSubDir(t *testing.T, parent, name string) string {
	t.Helper()
	dir := filepath.Join(parent, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create subdirectory %s: %v", dir, err)
	}
	return dir
}

// WriteFile creates a file with the given content in the specified directory.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
	return path
}

// FileExists checks if a file exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteSidecar writes m as JSON to path.
func WriteSidecar(t *testing.T, path string, m Metadata) string {
	t.Helper()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("failed to marshal sidecar: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write sidecar %s: %v", path, err)
	}
	return path
}

// GenerateImage encodes a solid w×h image. format is "jpeg" or "png".
func GenerateImage(t *testing.T, format string, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fill := color.RGBA{0, 100, 200, 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	switch format {
	case "jpeg", "jpg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			t.Fatalf("failed to encode JPEG: %v", err)
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			t.Fatalf("failed to encode PNG: %v", err)
		}
	}

	return buf.Bytes()
}

func pageExt(format string) string {
	if format == "jpeg" || format == "jpg" {
		return "jpg"
	}
	return "png"
}
