// Package archive reads page images out of zip-family archives (.zip, .cbz)
// without extracting them.
package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/fileutils"
)

var ErrEntryNotFound = errors.New("archive entry not found")

var archiveExtensions = map[string]struct{}{
	".zip": {},
	".cbz": {},
}

// HasArchiveExtension reports whether path is named like a zip-family archive.
func HasArchiveExtension(path string) bool {
	_, ok := archiveExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// IsArchive reports whether path is named like a zip-family archive and its
// content sniffs as a zip. Subtypes (epub, docx, jar) are detected as their
// own mime type with application/zip as an ancestor, which also counts.
func IsArchive(path string) bool {
	if !HasArchiveExtension(path) {
		return false
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return false
	}
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}

// ImageEntries lists the page image entries of the archive in natural order.
// Only the central directory is read.
func ImageEntries(path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer zr.Close()

	return imageEntries(&zr.Reader), nil
}

func imageEntries(zr *zip.Reader) []string {
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || isIgnoredEntry(f.Name) {
			continue
		}
		if fileutils.IsImageFile(f.Name) {
			names = append(names, f.Name)
		}
	}
	fileutils.SortNatural(names)
	return names
}

// isIgnoredEntry filters out resource forks that archivers on macOS add.
func isIgnoredEntry(name string) bool {
	return strings.HasPrefix(name, "__MACOSX/")
}

// ReadEntry returns the bytes of the named entry. Names are matched exactly
// first, then case-insensitively against the base name of top-level entries,
// so "ComicInfo.xml" finds "comicinfo.xml".
func ReadEntry(path, name string) ([]byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer zr.Close()

	f := findEntry(&zr.Reader, name)
	if f == nil {
		return nil, errors.Wrapf(ErrEntryNotFound, "%s in %s", name, path)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return data, nil
}

func findEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	for _, f := range zr.File {
		if !strings.Contains(f.Name, "/") && strings.EqualFold(f.Name, name) {
			return f
		}
	}
	return nil
}

// ExtractEntryToTemp copies the named entry to a new file in dir, keeping the
// entry's extension, and returns the file's path. The caller owns the file.
func ExtractEntryToTemp(path, name, dir string) (string, error) {
	data, err := ReadEntry(path, name)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(dir, "page-*"+strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return "", errors.WithStack(err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", errors.WithStack(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", errors.WithStack(err)
	}
	return f.Name(), nil
}
