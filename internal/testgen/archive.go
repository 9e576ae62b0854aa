package testgen

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// GenerateArchive creates a zip archive at dir/filename and returns its path.
// Pages are named 001.png, 002.png, and so on under opts.PagePrefix.
func GenerateArchive(t *testing.T, dir, filename string, opts ArchiveOptions) string {
	t.Helper()

	path := filepath.Join(dir, filename)
	if opts.Corrupt {
		return WriteFile(t, dir, filename, []byte("this is not a zip archive"))
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	pageCount := opts.PageCount
	if pageCount <= 0 {
		pageCount = 3
	}
	ext := pageExt(opts.ImageFormat)

	for i := 1; i <= pageCount; i++ {
		var data []byte
		if !opts.OmitPageContents {
			data = GenerateImage(t, opts.ImageFormat, 60, 90)
		}
		name := fmt.Sprintf("%s%03d.%s", opts.PagePrefix, i, ext)
		if err := writeZipFile(zw, name, data); err != nil {
			t.Fatalf("failed to write page %s: %v", name, err)
		}
	}

	if opts.Metadata != nil || opts.RawMetadata != "" {
		if err := writeZipFile(zw, "metadata.json", marshalMetadata(t, opts.Metadata, opts.RawMetadata)); err != nil {
			t.Fatalf("failed to write metadata.json: %v", err)
		}
	}

	if opts.ComicInfo != nil {
		if err := writeZipFile(zw, "ComicInfo.xml", []byte(generateComicInfo(*opts.ComicInfo))); err != nil {
			t.Fatalf("failed to write ComicInfo.xml: %v", err)
		}
	}

	names := make([]string, 0, len(opts.ExtraEntries))
	for name := range opts.ExtraEntries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writeZipFile(zw, name, opts.ExtraEntries[name]); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	return path
}

func writeZipFile(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func generateComicInfo(opts ComicInfoOptions) string {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<ComicInfo>
`)
	for _, field := range []struct{ tag, value string }{
		{"Title", opts.Title},
		{"Series", opts.Series},
		{"Writer", opts.Writer},
		{"Penciller", opts.Penciller},
		{"Characters", opts.Characters},
		{"Teams", opts.Teams},
		{"Tags", opts.Tags},
		{"Genre", opts.Genre},
		{"LanguageISO", opts.Language},
		{"Manga", opts.Manga},
	} {
		if field.value != "" {
			buf.WriteString(fmt.Sprintf("  <%s>%s</%s>\n", field.tag, escapeXML(field.value), field.tag))
		}
	}
	buf.WriteString("</ComicInfo>")

	return buf.String()
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		case '&':
			buf.WriteString("&amp;")
		case '"':
			buf.WriteString("&quot;")
		case '\'':
			buf.WriteString("&apos;")
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}
