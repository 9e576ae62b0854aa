// Package scan reconciles the book catalog with what is on disk.
//
// A scan enumerates a root, classifies each directory and archive into units,
// resolves their metadata, deletes catalog rows for units that are gone, then
// upserts the rest in bounded transactions. Covers that are missing or stale
// are rendered on the thumbnail pool once every batch has committed.
//
// Scans of overlapping roots must not run concurrently; callers serialize
// them (the job worker runs scans one at a time).
package scan

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/books"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/tankobon/tankobon/pkg/pool"
	"github.com/tankobon/tankobon/pkg/sidecar"
	"github.com/tankobon/tankobon/pkg/thumbnail"
	"github.com/uptrace/bun"
)

// Thumbnailer renders one thumbnail. *thumbnail.Pool satisfies it.
type Thumbnailer interface {
	Run(ctx context.Context, req thumbnail.Request) pool.Result[string]
}

type Options struct {
	BatchSize     int
	MaxDepth      int
	MaxPathLength int
	ThumbnailDir  string
	Resolvers     []sidecar.Resolver
}

// OptionsFromConfig builds scanner options from the app config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BatchSize:     cfg.ScanBatchSize,
		MaxDepth:      cfg.ScanMaxDepth,
		MaxPathLength: cfg.MaxPathLength,
		ThumbnailDir:  cfg.ThumbnailDir,
		Resolvers:     sidecar.DefaultResolvers(),
	}
}

type Result struct {
	Added               int      `json:"added"`
	Updated             int      `json:"updated"`
	Deleted             int      `json:"deleted"`
	DiscoveredPaths     []string `json:"-"`
	PendingThumbnailIDs []int    `json:"pending_thumbnail_ids"`
	ThumbnailsWritten   int      `json:"thumbnails_written"`
	ThumbnailsFailed    int      `json:"thumbnails_failed"`
}

type Scanner struct {
	db          *bun.DB
	bookService *books.Service
	thumbnails  Thumbnailer
	opts        Options
}

func New(db *bun.DB, thumbnails Thumbnailer, opts Options) *Scanner {
	if opts.BatchSize < 1 {
		opts.BatchSize = 200
	}
	if opts.MaxDepth < 1 {
		opts.MaxDepth = 100
	}
	if opts.MaxPathLength < 1 {
		opts.MaxPathLength = 260
	}
	if opts.Resolvers == nil {
		opts.Resolvers = sidecar.DefaultResolvers()
	}
	return &Scanner{
		db:          db,
		bookService: books.NewService(db),
		thumbnails:  thumbnails,
		opts:        opts,
	}
}

// Scan reconciles everything beneath rootPath. The root itself is never a
// unit. Per-entry filesystem and metadata problems are logged and skipped. A
// failed batch transaction is returned as the error alongside the counts of
// the batches that did commit.
func (s *Scanner) Scan(ctx context.Context, rootPath string) (*Result, error) {
	root, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	log := logger.FromContext(ctx).Data(logger.Data{"root": root})
	ctx = log.WithContext(ctx)

	// An unreadable root would look like an empty one and wipe its books.
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("scan root %s is not a directory", root)
	}
	if _, err := os.ReadDir(root); err != nil {
		return nil, errors.WithStack(err)
	}

	log.Info("scan started")

	units := s.discover(ctx, root)
	result := &Result{
		DiscoveredPaths:     make([]string, 0, len(units)),
		PendingThumbnailIDs: []int{},
	}
	for _, u := range units {
		result.DiscoveredPaths = append(result.DiscoveredPaths, u.path)
	}

	deleted, err := s.deleteMissing(ctx, root, result.DiscoveredPaths)
	if err != nil {
		return result, err
	}
	result.Deleted = deleted

	batchErr := s.upsert(ctx, units, result)
	s.generateThumbnails(ctx, units, result)

	log.Info("scan finished", logger.Data{
		"added":              result.Added,
		"updated":            result.Updated,
		"deleted":            result.Deleted,
		"discovered":         len(result.DiscoveredPaths),
		"pending_thumbnails": len(result.PendingThumbnailIDs),
		"thumbnails_failed":  result.ThumbnailsFailed,
	})

	return result, batchErr
}

// ScanOne classifies and upserts a single unit without any deletion pass. A
// path that isn't a unit yields an empty Result.
func (s *Scanner) ScanOne(ctx context.Context, unitPath string) (*Result, error) {
	path, err := filepath.Abs(unitPath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	log := logger.FromContext(ctx).Data(logger.Data{"path": path})
	ctx = log.WithContext(ctx)

	result := &Result{
		DiscoveredPaths:     []string{},
		PendingThumbnailIDs: []int{},
	}

	u := s.classifyPath(ctx, path)
	if u == nil {
		log.Info("path is not a unit; nothing to scan")
		return result, nil
	}
	result.DiscoveredPaths = append(result.DiscoveredPaths, u.path)

	units := []*unit{u}
	batchErr := s.upsert(ctx, units, result)
	s.generateThumbnails(ctx, units, result)

	log.Info("unit scanned", logger.Data{"added": result.Added, "updated": result.Updated})
	return result, batchErr
}
