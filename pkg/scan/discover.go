package scan

import (
	"context"
	"os"
	"path/filepath"

	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/archive"
	"github.com/tankobon/tankobon/pkg/fileutils"
	"github.com/tankobon/tankobon/pkg/sidecar"
)

// unit is a qualifying directory or archive found on disk.
type unit struct {
	path      string
	archive   bool
	pageCount int
	// cover is the first page: an absolute file path for directories, an
	// entry name for archives.
	cover    string
	metadata *sidecar.Metadata
	source   sidecar.Source

	bookID         int
	needsThumbnail bool
}

// discover walks root depth-first and returns every unit beneath it.
func (s *Scanner) discover(ctx context.Context, root string) []*unit {
	units := []*unit{}
	s.walk(ctx, root, 0, true, &units)
	return units
}

func (s *Scanner) walk(ctx context.Context, dir string, depth int, isRoot bool, units *[]*unit) {
	log := logger.FromContext(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn("skipping unreadable directory", logger.Data{"path": dir, "error": err.Error()})
		return
	}

	if !isRoot {
		if u := s.dirUnit(dir, entries); u != nil {
			s.resolveMetadata(ctx, u)
			*units = append(*units, u)
		}
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if fileutils.PathLength(path) > s.opts.MaxPathLength {
			log.Warn("skipping path over the length limit", logger.Data{
				"path":  path,
				"limit": s.opts.MaxPathLength,
			})
			continue
		}

		isDir, isFile := entryKind(entry)
		switch {
		case isDir:
			if depth+1 > s.opts.MaxDepth {
				log.Warn("skipping directory beyond the depth limit", logger.Data{"path": path, "limit": s.opts.MaxDepth})
				continue
			}
			s.walk(ctx, path, depth+1, false, units)
		case isFile:
			if u := s.archiveUnit(ctx, path); u != nil {
				s.resolveMetadata(ctx, u)
				*units = append(*units, u)
			}
		}
	}
}

// entryKind ignores symlinks. A link back to an ancestor would otherwise
// recurse until the depth limit.
func entryKind(entry os.DirEntry) (isDir, isFile bool) {
	mode := entry.Type()
	if mode&os.ModeSymlink != 0 {
		return false, false
	}
	return mode.IsDir(), mode.IsRegular()
}

// dirUnit makes a unit of dir if it has at least one direct page image.
func (s *Scanner) dirUnit(dir string, entries []os.DirEntry) *unit {
	pages := make([]string, 0)
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !fileutils.IsImageFile(entry.Name()) {
			continue
		}
		pages = append(pages, entry.Name())
	}
	if len(pages) == 0 {
		return nil
	}
	fileutils.SortNatural(pages)
	return &unit{
		path:      dir,
		pageCount: len(pages),
		cover:     filepath.Join(dir, pages[0]),
	}
}

// archiveUnit makes a unit of path if it is a zip-family archive with at
// least one page image entry.
func (s *Scanner) archiveUnit(ctx context.Context, path string) *unit {
	if !archive.HasArchiveExtension(path) {
		return nil
	}
	if !archive.IsArchive(path) {
		logger.FromContext(ctx).Warn("skipping file that isn't a zip archive", logger.Data{"path": path})
		return nil
	}
	entries, err := archive.ImageEntries(path)
	if err != nil {
		logger.FromContext(ctx).Warn("skipping unreadable archive", logger.Data{"path": path, "error": err.Error()})
		return nil
	}
	if len(entries) == 0 {
		return nil
	}
	return &unit{
		path:      path,
		archive:   true,
		pageCount: len(entries),
		cover:     entries[0],
	}
}

// classifyPath classifies a single path the same way the walk does.
func (s *Scanner) classifyPath(ctx context.Context, path string) *unit {
	log := logger.FromContext(ctx)
	if fileutils.PathLength(path) > s.opts.MaxPathLength {
		log.Warn("skipping path over the length limit", logger.Data{"limit": s.opts.MaxPathLength})
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		log.Warn("can't stat unit", logger.Data{"error": err.Error()})
		return nil
	}

	var u *unit
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			log.Warn("skipping unreadable directory", logger.Data{"error": err.Error()})
			return nil
		}
		u = s.dirUnit(path, entries)
	} else if info.Mode().IsRegular() {
		u = s.archiveUnit(ctx, path)
	}
	if u != nil {
		s.resolveMetadata(ctx, u)
	}
	return u
}

func (s *Scanner) resolveMetadata(ctx context.Context, u *unit) {
	u.metadata, u.source = sidecar.Resolve(ctx, sidecar.Unit{Path: u.path, Archive: u.archive}, s.opts.Resolvers)
}
