package books

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/fileutils"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/uptrace/bun"
)

// deleteChunkSize keeps IN lists well under SQLite's bound parameter limit.
const deleteChunkSize = 500

type RetrieveBookOptions struct {
	ID       *int
	Filepath *string
}

type ListBooksOptions struct {
	Limit     *int
	Offset    *int
	UnderPath *string
	IDs       []int
	Favorite  *bool
	SeriesID  *int

	includeTotal bool
}

type UpdateBookOptions struct {
	Columns []string
}

// Service is the catalog store. It works against either the database or an
// open transaction; use WithTx to scope it to one.
type Service struct {
	db bun.IDB
}

func NewService(db bun.IDB) *Service {
	return &Service{db}
}

// WithTx returns a Service whose queries run in tx.
func (svc *Service) WithTx(tx bun.IDB) *Service {
	return &Service{tx}
}

func (svc *Service) CreateBook(ctx context.Context, book *models.Book) error {
	now := time.Now()
	if book.CreatedAt.IsZero() {
		book.CreatedAt = now
	}
	book.UpdatedAt = book.CreatedAt
	if book.AddedAt.IsZero() {
		book.AddedAt = now
	}

	_, err := svc.db.
		NewInsert().
		Model(book).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveBook(ctx context.Context, opts RetrieveBookOptions) (*models.Book, error) {
	book := &models.Book{}

	q := svc.db.
		NewSelect().
		Model(book).
		Relation("Series").
		Relation("Artists").
		Relation("Groups").
		Relation("Characters").
		Relation("Tags")

	if opts.ID != nil {
		q = q.Where("b.id = ?", *opts.ID)
	}
	if opts.Filepath != nil {
		q = q.Where("b.filepath = ?", *opts.Filepath)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Book")
		}
		return nil, errors.WithStack(err)
	}

	return book, nil
}

func (svc *Service) ListBooks(ctx context.Context, opts ListBooksOptions) ([]*models.Book, error) {
	b, _, err := svc.listBooksWithTotal(ctx, opts)
	return b, errors.WithStack(err)
}

func (svc *Service) ListBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	opts.includeTotal = true
	return svc.listBooksWithTotal(ctx, opts)
}

func (svc *Service) listBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	books := []*models.Book{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&books).
		Relation("Series").
		Relation("Artists").
		Relation("Groups").
		Relation("Characters").
		Relation("Tags").
		Order("b.added_at DESC", "b.id DESC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.UnderPath != nil {
		q = whereUnder(q, *opts.UnderPath)
	}
	if len(opts.IDs) > 0 {
		q = q.Where("b.id IN (?)", bun.In(opts.IDs))
	}
	if opts.Favorite != nil {
		q = q.Where("b.favorite = ?", *opts.Favorite)
	}
	if opts.SeriesID != nil {
		q = q.Where("b.series_id = ?", *opts.SeriesID)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return books, total, nil
}

// ListBooksUnder returns the id, filepath and cover of every book stored
// beneath root. Relations are not loaded.
func (svc *Service) ListBooksUnder(ctx context.Context, root string) ([]*models.Book, error) {
	books := []*models.Book{}
	q := svc.db.
		NewSelect().
		Model(&books).
		Column("b.id", "b.filepath", "b.cover_image_path")
	err := whereUnder(q, root).Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return books, nil
}

// whereUnder filters to books whose filepath starts with root plus a
// separator. substr is used instead of LIKE, which is case-insensitive in
// SQLite and treats _ and % as wildcards.
func whereUnder(q *bun.SelectQuery, root string) *bun.SelectQuery {
	prefix := filepath.Clean(root)
	if prefix != string(filepath.Separator) {
		prefix += string(filepath.Separator)
	}
	return q.Where("substr(b.filepath, 1, ?) = ?", fileutils.PathLength(prefix), prefix)
}

func (svc *Service) UpdateBook(ctx context.Context, book *models.Book, opts UpdateBookOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	// Update updated_at.
	now := time.Now()
	book.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	res, err := svc.db.
		NewUpdate().
		Model(book).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errcodes.NotFound("Book")
	}

	return nil
}

// DeleteBooks removes books along with their link rows and reading history.
// Dependents are deleted explicitly, in order, rather than through foreign
// key cascades.
func (svc *Service) DeleteBooks(ctx context.Context, ids []int) error {
	for start := 0; start < len(ids); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		for _, rel := range LinkRelations {
			_, err := svc.db.
				NewDelete().
				TableExpr("?", bun.Ident(rel.LinkTable)).
				Where("book_id IN (?)", bun.In(chunk)).
				Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
		}

		_, err := svc.db.
			NewDelete().
			Model((*models.ReadHistory)(nil)).
			Where("book_id IN (?)", bun.In(chunk)).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = svc.db.
			NewDelete().
			Model((*models.Book)(nil)).
			Where("id IN (?)", bun.In(chunk)).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// UpdateCoverPaths stores generated thumbnail paths keyed by book id.
func (svc *Service) UpdateCoverPaths(ctx context.Context, covers map[int]string) error {
	now := time.Now()
	for id, path := range covers {
		_, err := svc.db.
			NewUpdate().
			Model((*models.Book)(nil)).
			Set("cover_image_path = ?", path).
			Set("updated_at = ?", now).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// RecordRead appends to the book's reading history and bumps last_read_at.
func (svc *Service) RecordRead(ctx context.Context, bookID, page int) (*models.ReadHistory, error) {
	exists, err := svc.db.
		NewSelect().
		Model((*models.Book)(nil)).
		Where("b.id = ?", bookID).
		Exists(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !exists {
		return nil, errcodes.NotFound("Book")
	}

	now := time.Now()
	entry := &models.ReadHistory{BookID: bookID, Page: page, ReadAt: now}

	_, err = svc.db.
		NewInsert().
		Model(entry).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	book := &models.Book{ID: bookID, LastReadAt: &now}
	if err := svc.UpdateBook(ctx, book, UpdateBookOptions{Columns: []string{"last_read_at"}}); err != nil {
		return nil, err
	}

	return entry, nil
}

// ListReadHistory returns the book's reading history, newest first.
func (svc *Service) ListReadHistory(ctx context.Context, bookID int) ([]*models.ReadHistory, error) {
	history := []*models.ReadHistory{}
	err := svc.db.
		NewSelect().
		Model(&history).
		Where("rh.book_id = ?", bookID).
		Order("rh.read_at DESC", "rh.id DESC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return history, nil
}
