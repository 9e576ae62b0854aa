package scan

import (
	"context"
	"database/sql"
	"os"
	"sync"

	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/archive"
	"github.com/tankobon/tankobon/pkg/thumbnail"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
)

// thumbnailFanout bounds the goroutines queued on the pool at once. The pool
// itself bounds how many render concurrently.
const thumbnailFanout = 64

// generateThumbnails renders covers for every unit that needs one, waits for
// all of them, then stores the written paths in a single transaction. Failures
// are logged per book and counted.
func (s *Scanner) generateThumbnails(ctx context.Context, units []*unit, result *Result) {
	log := logger.FromContext(ctx)
	if s.thumbnails == nil {
		return
	}

	pending := make([]*unit, 0)
	for _, u := range units {
		if u.bookID != 0 && u.needsThumbnail {
			pending = append(pending, u)
		}
	}
	if len(pending) == 0 {
		return
	}

	var mu sync.Mutex
	written := make(map[int]string, len(pending))
	failed := 0

	g := &errgroup.Group{}
	g.SetLimit(thumbnailFanout)
	for _, u := range pending {
		g.Go(func() error {
			path, err := s.renderCover(ctx, u)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				log.Warn("thumbnail generation failed", logger.Data{
					"book_id": u.bookID,
					"path":    u.path,
					"error":   err.Error(),
				})
				return nil
			}
			written[u.bookID] = path
			return nil
		})
	}
	_ = g.Wait()

	result.ThumbnailsFailed = failed
	if len(written) == 0 {
		return
	}

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return s.bookService.WithTx(tx).UpdateCoverPaths(ctx, written)
	})
	if err != nil {
		log.Err(err).Error("failed to store thumbnail paths")
		result.ThumbnailsFailed += len(written)
		return
	}
	result.ThumbnailsWritten = len(written)
}

// renderCover prepares the cover source for u and runs it through the pool.
// Archive covers are extracted into the thumbnail temp dir first.
func (s *Scanner) renderCover(ctx context.Context, u *unit) (string, error) {
	source := u.cover
	if u.archive {
		tmp, err := thumbnail.TempDir()
		if err != nil {
			return "", err
		}
		source, err = archive.ExtractEntryToTemp(u.path, u.cover, tmp)
		if err != nil {
			return "", err
		}
		// The worker removes it on success; this covers failures.
		defer os.Remove(source)
	}

	res := s.thumbnails.Run(ctx, thumbnail.Request{
		BookID:          u.bookID,
		SourcePath:      source,
		DestinationPath: thumbnail.DestinationPath(s.opts.ThumbnailDir, u.bookID),
	})
	if res.Err != nil {
		return "", res.Err
	}
	return res.Value, nil
}
