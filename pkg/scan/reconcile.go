package scan

import (
	"context"
	"database/sql"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/books"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/fileutils"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/uptrace/bun"
)

// deleteMissing removes, in one transaction, every book under root whose
// path wasn't discovered. Thumbnails are removed after the commit.
func (s *Scanner) deleteMissing(ctx context.Context, root string, discovered []string) (int, error) {
	log := logger.FromContext(ctx)

	existing, err := s.bookService.ListBooksUnder(ctx, root)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(discovered))
	for _, path := range discovered {
		seen[path] = struct{}{}
	}

	ids := make([]int, 0)
	covers := make([]string, 0)
	for _, book := range existing {
		if _, ok := seen[book.Filepath]; ok {
			continue
		}
		ids = append(ids, book.ID)
		if book.CoverImagePath != nil {
			covers = append(covers, *book.CoverImagePath)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err = s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return s.bookService.WithTx(tx).DeleteBooks(ctx, ids)
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete missing books")
	}

	for _, cover := range covers {
		if err := fileutils.RemoveBestEffort(cover); err != nil {
			log.Warn("failed to remove thumbnail", logger.Data{"path": cover, "error": err.Error()})
		}
	}

	log.Info("deleted missing books", logger.Data{"count": len(ids)})
	return len(ids), nil
}

type batchCounts struct {
	added   int
	updated int
}

// upsert writes units in batches of BatchSize, one transaction each. A batch
// that fails is rolled back and skipped; its units get no book id and so no
// thumbnail. The first failure is returned once every batch has been tried.
func (s *Scanner) upsert(ctx context.Context, units []*unit, result *Result) error {
	log := logger.FromContext(ctx)
	var firstErr error
	failed := 0

	for start := 0; start < len(units); start += s.opts.BatchSize {
		end := start + s.opts.BatchSize
		if end > len(units) {
			end = len(units)
		}
		batch := units[start:end]

		var counts batchCounts
		err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			counts = batchCounts{}
			svc := s.bookService.WithTx(tx)
			for _, u := range batch {
				if err := s.upsertUnit(ctx, svc, u, &counts); err != nil {
					return errors.Wrapf(err, "failed to store %s", u.path)
				}
			}
			return nil
		})
		if err != nil {
			failed++
			for _, u := range batch {
				u.bookID = 0
				u.needsThumbnail = false
			}
			log.Err(err).Error("scan batch failed", logger.Data{"batch_start": start, "batch_size": len(batch)})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		result.Added += counts.added
		result.Updated += counts.updated
		for _, u := range batch {
			if u.needsThumbnail {
				result.PendingThumbnailIDs = append(result.PendingThumbnailIDs, u.bookID)
			}
		}
	}

	if firstErr != nil {
		return errors.Wrapf(firstErr, "%d scan batch(es) failed", failed)
	}
	return nil
}

// upsertUnit inserts or updates the book for u and fully replaces its links.
// Only rows whose stored fields or links actually change count as updated.
func (s *Scanner) upsertUnit(ctx context.Context, svc *books.Service, u *unit, counts *batchCounts) error {
	desired := desiredState(u)

	seriesID, err := svc.ResolveSeriesID(ctx, desired.series)
	if err != nil {
		return err
	}

	book, err := svc.RetrieveBook(ctx, books.RetrieveBookOptions{Filepath: &u.path})
	if err != nil && !errcodes.HasCode(err, errcodes.CodeNotFound) {
		return err
	}

	if book == nil {
		book = &models.Book{
			Filepath:  u.path,
			Title:     desired.title,
			PageCount: u.pageCount,
			CatalogID: desired.catalogID,
			Type:      desired.typ,
			Language:  desired.language,
			SeriesID:  seriesID,
		}
		if err := svc.CreateBook(ctx, book); err != nil {
			return err
		}
		if _, err := svc.ReplaceLinks(ctx, book.ID, desired.links); err != nil {
			return err
		}
		counts.added++
	} else {
		columns := changedColumns(book, desired, u.pageCount, seriesID)
		if err := svc.UpdateBook(ctx, book, books.UpdateBookOptions{Columns: columns}); err != nil {
			return err
		}
		linksChanged, err := svc.ReplaceLinks(ctx, book.ID, desired.links)
		if err != nil {
			return err
		}
		if len(columns) > 0 || linksChanged {
			counts.updated++
		}
	}

	u.bookID = book.ID
	u.needsThumbnail = book.NeedsThumbnail()
	return nil
}

type desired struct {
	title     string
	catalogID *string
	typ       *string
	language  *string
	series    []string
	links     books.Links
}

// desiredState is what the catalog should hold for u: metadata fields where
// the winning source has them, defaults everywhere else.
func desiredState(u *unit) desired {
	d := desired{title: filepath.Base(u.path)}
	if u.archive {
		d.title = fileutils.NameWithoutExt(u.path)
	}
	m := u.metadata
	if m == nil {
		return d
	}
	if m.Title != "" {
		d.title = m.Title
	}
	d.catalogID = optional(m.CatalogID)
	d.typ = optional(m.Type)
	d.language = optional(m.Language)
	d.series = m.Series
	d.links = books.Links{
		Artists:    m.Artists,
		Groups:     m.Groups,
		Characters: m.Characters,
		Tags:       m.Tags,
	}
	return d
}

// changedColumns applies d to book and returns the columns that changed.
// The cover path is never touched here.
func changedColumns(book *models.Book, d desired, pageCount int, seriesID *int) []string {
	columns := []string{}
	if book.Title != d.title {
		book.Title = d.title
		columns = append(columns, "title")
	}
	if book.PageCount != pageCount {
		book.PageCount = pageCount
		columns = append(columns, "page_count")
	}
	if !equalString(book.CatalogID, d.catalogID) {
		book.CatalogID = d.catalogID
		columns = append(columns, "catalog_id")
	}
	if !equalString(book.Type, d.typ) {
		book.Type = d.typ
		columns = append(columns, "type")
	}
	if !equalString(book.Language, d.language) {
		book.Language = d.language
		columns = append(columns, "language")
	}
	if !equalInt(book.SeriesID, seriesID) {
		book.SeriesID = seriesID
		columns = append(columns, "series_id")
	}
	return columns
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
