package scan

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankobon/tankobon/internal/testgen"
	"github.com/tankobon/tankobon/pkg/books"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/tankobon/tankobon/pkg/pool"
	"github.com/tankobon/tankobon/pkg/sidecar"
	"github.com/tankobon/tankobon/pkg/thumbnail"
	"github.com/uptrace/bun"
)

type testContext struct {
	ctx         context.Context
	db          *bun.DB
	root        string
	thumbDir    string
	scanner     *Scanner
	bookService *books.Service
}

func newTestContext(t *testing.T, opts Options) *testContext {
	t.Helper()

	db := testgen.NewTestDB(t)
	p, err := pool.New(2, thumbnail.NewWorker(thumbnail.Options{Width: 35, Height: 50, Quality: 80}))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	thumbDir := t.TempDir()
	opts.ThumbnailDir = thumbDir
	if opts.BatchSize == 0 {
		opts.BatchSize = 2
	}

	return &testContext{
		ctx:         context.Background(),
		db:          db,
		root:        t.TempDir(),
		thumbDir:    thumbDir,
		scanner:     New(db, p, opts),
		bookService: books.NewService(db),
	}
}

func (tc *testContext) scan(t *testing.T) *Result {
	t.Helper()
	res, err := tc.scanner.Scan(tc.ctx, tc.root)
	require.NoError(t, err)
	return res
}

func (tc *testContext) listBooks(t *testing.T) []*models.Book {
	t.Helper()
	all, err := tc.bookService.ListBooks(tc.ctx, books.ListBooksOptions{})
	require.NoError(t, err)
	return all
}

func (tc *testContext) book(t *testing.T, path string) *models.Book {
	t.Helper()
	book, err := tc.bookService.RetrieveBook(tc.ctx, books.RetrieveBookOptions{Filepath: pointerutil.String(path)})
	require.NoError(t, err)
	return book
}

func TestScan_FolderAndArchive(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{})

	a := testgen.GenerateDirUnit(t, tc.root, "A", testgen.DirOptions{PageCount: 3})
	b := testgen.GenerateArchive(t, tc.root, "B.cbz", testgen.ArchiveOptions{PageCount: 5})

	res := tc.scan(t)
	assert.Equal(t, 2, res.Added)
	assert.Zero(t, res.Updated)
	assert.Zero(t, res.Deleted)
	assert.ElementsMatch(t, []string{a, b}, res.DiscoveredPaths)
	assert.Len(t, res.PendingThumbnailIDs, 2)
	assert.Equal(t, 2, res.ThumbnailsWritten)
	assert.Zero(t, res.ThumbnailsFailed)

	bookA := tc.book(t, a)
	assert.Equal(t, "A", bookA.Title)
	assert.Equal(t, 3, bookA.PageCount)
	require.NotNil(t, bookA.CoverImagePath)
	assert.Equal(t, thumbnail.DestinationPath(tc.thumbDir, bookA.ID), *bookA.CoverImagePath)
	assert.True(t, testgen.FileExists(*bookA.CoverImagePath))

	bookB := tc.book(t, b)
	assert.Equal(t, "B", bookB.Title)
	assert.Equal(t, 5, bookB.PageCount)
	require.NotNil(t, bookB.CoverImagePath)
	assert.True(t, testgen.FileExists(*bookB.CoverImagePath))
}

func TestScan_Idempotent(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{})

	testgen.GenerateDirUnit(t, tc.root, "A", testgen.DirOptions{
		PageCount: 2,
		Metadata:  &testgen.Metadata{Title: "Titled", Artists: []string{"X"}, Tags: []string{"t1", "t2"}, Series: []string{"S"}},
	})
	testgen.GenerateArchive(t, tc.root, "B.cbz", testgen.ArchiveOptions{
		ComicInfo: &testgen.ComicInfoOptions{Title: "Comic", Writer: "W"},
	})

	first := tc.scan(t)
	assert.Equal(t, 2, first.Added)

	second := tc.scan(t)
	assert.Zero(t, second.Added)
	assert.Zero(t, second.Updated)
	assert.Zero(t, second.Deleted)
	assert.Empty(t, second.PendingThumbnailIDs)
	assert.Len(t, tc.listBooks(t), 2)
}

func TestScan_DeletesMissingUnits(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{})

	a := testgen.GenerateDirUnit(t, tc.root, "A", testgen.DirOptions{PageCount: 1})
	b := testgen.GenerateArchive(t, tc.root, "B.cbz", testgen.ArchiveOptions{})
	tc.scan(t)

	bookB := tc.book(t, b)
	require.NotNil(t, bookB.CoverImagePath)
	coverB := *bookB.CoverImagePath
	_, err := tc.bookService.ReplaceLinks(tc.ctx, bookB.ID, books.Links{Tags: []string{"gone"}})
	require.NoError(t, err)
	_, err = tc.bookService.RecordRead(tc.ctx, bookB.ID, 1)
	require.NoError(t, err)

	require.NoError(t, os.Remove(b))
	res := tc.scan(t)
	assert.Equal(t, 1, res.Deleted)
	assert.Zero(t, res.Added)
	assert.Zero(t, res.Updated)

	all := tc.listBooks(t)
	require.Len(t, all, 1)
	assert.Equal(t, a, all[0].Filepath)
	assert.False(t, testgen.FileExists(coverB))

	count, err := tc.db.NewSelect().Model((*models.BookTag)(nil)).Where("book_id = ?", bookB.ID).Count(tc.ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	count, err = tc.db.NewSelect().Model((*models.ReadHistory)(nil)).Where("book_id = ?", bookB.ID).Count(tc.ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestScan_OnlyDeletesUnderRoot(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{})

	other := t.TempDir()
	otherUnit := testgen.GenerateDirUnit(t, other, "Elsewhere", testgen.DirOptions{PageCount: 1})
	_, err := tc.scanner.Scan(tc.ctx, other)
	require.NoError(t, err)

	testgen.GenerateDirUnit(t, tc.root, "A", testgen.DirOptions{PageCount: 1})
	res := tc.scan(t)
	assert.Zero(t, res.Deleted)
	tc.book(t, otherUnit)
}

func TestScan_RootIsNeverAUnit(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{})

	testgen.WriteFile(t, tc.root, "001.png", testgen.GenerateImage(t, "png", 10, 10))
	res := tc.scan(t)
	assert.Zero(t, res.Added)
	assert.Empty(t, res.DiscoveredPaths)
}

func TestScan_Classification(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{})

	testgen.CreateSubDir(t, tc.root, "empty")
	textOnly := testgen.CreateSubDir(t, tc.root, "text-only")
	testgen.WriteFile(t, textOnly, "notes.txt", []byte("hi"))
	testgen.GenerateArchive(t, tc.root, "broken.cbz", testgen.ArchiveOptions{Corrupt: true})
	testgen.GenerateArchive(t, tc.root, "not-a-book.rar", testgen.ArchiveOptions{})
	testgen.WriteFile(t, tc.root, "loose.png", testgen.GenerateImage(t, "png", 10, 10))

	// Only direct images count for a folder, but nested folders are units
	// of their own.
	parent := testgen.CreateSubDir(t, tc.root, "Series")
	vol1 := testgen.GenerateDirUnit(t, parent, "Vol 1", testgen.DirOptions{PageCount: 2, ImageFormat: "jpeg"})
	nested := testgen.GenerateArchive(t, parent, "Vol 2.zip", testgen.ArchiveOptions{PageCount: 4, PagePrefix: "pages/"})

	res := tc.scan(t)
	assert.ElementsMatch(t, []string{vol1, nested}, res.DiscoveredPaths)
	assert.Equal(t, 4, tc.book(t, nested).PageCount)
	assert.Equal(t, "Vol 2", tc.book(t, nested).Title)
}

func TestScan_PathLengthLimit(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{})
	long := strings.Repeat("x", 60)
	tc.scanner.opts.MaxPathLength = len([]rune(filepath.Join(tc.root, "short"))) + 5

	short := testgen.GenerateDirUnit(t, tc.root, "short", testgen.DirOptions{PageCount: 1})
	testgen.GenerateDirUnit(t, tc.root, long, testgen.DirOptions{PageCount: 1})

	res := tc.scan(t)
	assert.Equal(t, []string{short}, res.DiscoveredPaths)
}

func TestScan_DepthLimit(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{MaxDepth: 2})

	d1 := testgen.GenerateDirUnit(t, tc.root, "d1", testgen.DirOptions{PageCount: 1})
	d2 := testgen.GenerateDirUnit(t, d1, "d2", testgen.DirOptions{PageCount: 1})
	testgen.GenerateDirUnit(t, d2, "d3", testgen.DirOptions{PageCount: 1})

	res := tc.scan(t)
	assert.ElementsMatch(t, []string{d1, d2}, res.DiscoveredPaths)
}

func TestScan_SkipsSymlinks(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{})

	a := testgen.GenerateDirUnit(t, tc.root, "A", testgen.DirOptions{PageCount: 1})
	b := testgen.GenerateArchive(t, tc.root, "B.cbz", testgen.ArchiveOptions{PageCount: 1})
	require.NoError(t, os.Symlink(a, filepath.Join(a, "self")))
	require.NoError(t, os.Symlink(tc.root, filepath.Join(tc.root, "loop")))
	require.NoError(t, os.Symlink(b, filepath.Join(tc.root, "C.cbz")))

	res := tc.scan(t)
	assert.ElementsMatch(t, []string{a, b}, res.DiscoveredPaths)
	assert.Len(t, tc.listBooks(t), 2)
}

func TestScan_MetadataPrecedenceAndLinks(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{})

	a := testgen.GenerateDirUnit(t, tc.root, "A", testgen.DirOptions{
		PageCount: 1,
		Metadata: &testgen.Metadata{
			Title:      "Inside Title",
			CatalogID:  "177013",
			Type:       "doujinshi",
			Language:   "english",
			Artists:    []string{"Artist"},
			Groups:     []string{"Circle"},
			Characters: []string{"Hero"},
			Tags:       []string{"tag"},
			Series:     []string{"First", "Second"},
		},
	})
	testgen.WriteSidecar(t, filepath.Join(tc.root, "A.metadata.json"), testgen.Metadata{Title: "Beside Title"})
	b := testgen.GenerateArchive(t, tc.root, "B.cbz", testgen.ArchiveOptions{
		Metadata: &testgen.Metadata{Title: "Embedded"},
	})
	testgen.WriteSidecar(t, filepath.Join(tc.root, "B.metadata.json"), testgen.Metadata{Title: "Beside B", Tags: []string{"x"}})

	tc.scan(t)

	bookA := tc.book(t, a)
	assert.Equal(t, "Inside Title", bookA.Title)
	assert.Equal(t, pointerutil.String("177013"), bookA.CatalogID)
	assert.Equal(t, pointerutil.String("doujinshi"), bookA.Type)
	assert.Equal(t, pointerutil.String("english"), bookA.Language)
	require.NotNil(t, bookA.Series)
	assert.Equal(t, "First", bookA.Series.Name)
	require.Len(t, bookA.Artists, 1)
	assert.Equal(t, "Artist", bookA.Artists[0].Name)
	require.Len(t, bookA.Groups, 1)
	require.Len(t, bookA.Characters, 1)
	require.Len(t, bookA.Tags, 1)

	bookB := tc.book(t, b)
	assert.Equal(t, "Beside B", bookB.Title)
	require.Len(t, bookB.Tags, 1)
	assert.Equal(t, "x", bookB.Tags[0].Name)
}

func TestScan_MetadataChangeUpdatesWithoutNewThumbnail(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{})

	a := testgen.GenerateDirUnit(t, tc.root, "A", testgen.DirOptions{
		PageCount: 1,
		Metadata:  &testgen.Metadata{Title: "Old", Artists: []string{"One", "Two"}},
	})
	tc.scan(t)
	cover := tc.book(t, a).CoverImagePath
	require.NotNil(t, cover)

	testgen.WriteSidecar(t, filepath.Join(a, "metadata.json"), testgen.Metadata{Title: "New", Artists: []string{"Three"}})
	res := tc.scan(t)
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, res.PendingThumbnailIDs)

	book := tc.book(t, a)
	assert.Equal(t, "New", book.Title)
	require.Len(t, book.Artists, 1)
	assert.Equal(t, "Three", book.Artists[0].Name)
	assert.Equal(t, cover, book.CoverImagePath)

	// Removing the sidecar reverts to defaults.
	require.NoError(t, os.Remove(filepath.Join(a, "metadata.json")))
	res = tc.scan(t)
	assert.Equal(t, 1, res.Updated)
	book = tc.book(t, a)
	assert.Equal(t, "A", book.Title)
	assert.Empty(t, book.Artists)
}

func TestScan_MalformedMetadataFallsBackToName(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{})

	a := testgen.GenerateDirUnit(t, tc.root, "Plain Name", testgen.DirOptions{PageCount: 1, RawMetadata: "{nope"})
	res := tc.scan(t)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, "Plain Name", tc.book(t, a).Title)
}

func TestScan_RegeneratesMissingThumbnail(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{})

	a := testgen.GenerateDirUnit(t, tc.root, "A", testgen.DirOptions{PageCount: 1})
	tc.scan(t)
	book := tc.book(t, a)
	require.NotNil(t, book.CoverImagePath)
	require.NoError(t, os.Remove(*book.CoverImagePath))

	res := tc.scan(t)
	assert.Zero(t, res.Updated)
	assert.Equal(t, []int{book.ID}, res.PendingThumbnailIDs)
	assert.True(t, testgen.FileExists(*book.CoverImagePath))
}

func TestScan_ThumbnailFailureIsContained(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{})

	bad := testgen.CreateSubDir(t, tc.root, "Bad")
	testgen.WriteFile(t, bad, "001.jpg", []byte("not really a jpeg"))
	good := testgen.GenerateDirUnit(t, tc.root, "Good", testgen.DirOptions{PageCount: 1})

	res := tc.scan(t)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 1, res.ThumbnailsFailed)
	assert.Equal(t, 1, res.ThumbnailsWritten)
	assert.Nil(t, tc.book(t, bad).CoverImagePath)
	assert.NotNil(t, tc.book(t, good).CoverImagePath)
}

func TestScan_FailedBatchIsSkipped(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{BatchSize: 1})

	_, err := tc.db.Exec(`
		CREATE TRIGGER poison_books BEFORE INSERT ON books
		WHEN NEW.title = 'Poison'
		BEGIN SELECT RAISE(ABORT, 'poisoned'); END
	`)
	require.NoError(t, err)

	a := testgen.GenerateDirUnit(t, tc.root, "A", testgen.DirOptions{PageCount: 1})
	testgen.GenerateDirUnit(t, tc.root, "Poison", testgen.DirOptions{PageCount: 1})
	c := testgen.GenerateDirUnit(t, tc.root, "C", testgen.DirOptions{PageCount: 1})

	res, err := tc.scanner.Scan(tc.ctx, tc.root)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Added)
	assert.Len(t, res.PendingThumbnailIDs, 2)

	paths := []string{}
	for _, b := range tc.listBooks(t) {
		paths = append(paths, b.Filepath)
	}
	assert.ElementsMatch(t, []string{a, c}, paths)
}

func TestScan_MissingRootDeletesNothing(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{})

	testgen.GenerateDirUnit(t, tc.root, "A", testgen.DirOptions{PageCount: 1})
	tc.scan(t)

	_, err := tc.scanner.Scan(tc.ctx, filepath.Join(tc.root, "missing"))
	assert.Error(t, err)
	assert.Len(t, tc.listBooks(t), 1)
}

func TestScan_ConvergesAfterChanges(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{BatchSize: 3})

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		testgen.GenerateDirUnit(t, tc.root, name, testgen.DirOptions{PageCount: 1})
	}
	tc.scan(t)

	require.NoError(t, os.RemoveAll(filepath.Join(tc.root, "b")))
	require.NoError(t, os.RemoveAll(filepath.Join(tc.root, "d")))
	testgen.GenerateArchive(t, tc.root, "f.cbz", testgen.ArchiveOptions{})
	testgen.GenerateDirUnit(t, filepath.Join(tc.root, "c"), "g", testgen.DirOptions{PageCount: 2})

	res := tc.scan(t)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 2, res.Added)

	onDisk := map[string]struct{}{}
	for _, p := range res.DiscoveredPaths {
		onDisk[p] = struct{}{}
	}
	stored := tc.listBooks(t)
	assert.Len(t, stored, len(onDisk))
	for _, b := range stored {
		assert.Contains(t, onDisk, b.Filepath)
	}

	again := tc.scan(t)
	assert.Zero(t, again.Added+again.Updated+again.Deleted)
}

func TestScanOne(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{})

	a := testgen.GenerateDirUnit(t, tc.root, "A", testgen.DirOptions{PageCount: 2})
	res, err := tc.scanner.ScanOne(tc.ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, []string{a}, res.DiscoveredPaths)
	assert.Len(t, res.PendingThumbnailIDs, 1)

	res, err = tc.scanner.ScanOne(tc.ctx, a)
	require.NoError(t, err)
	assert.Zero(t, res.Added+res.Updated)

	empty := testgen.CreateSubDir(t, tc.root, "empty")
	res, err = tc.scanner.ScanOne(tc.ctx, empty)
	require.NoError(t, err)
	assert.Zero(t, res.Added)
	assert.Empty(t, res.DiscoveredPaths)

	res, err = tc.scanner.ScanOne(tc.ctx, filepath.Join(tc.root, "missing"))
	require.NoError(t, err)
	assert.Empty(t, res.DiscoveredPaths)
}

func TestInspect(t *testing.T) {
	t.Parallel()
	tc := newTestContext(t, Options{})

	dir := testgen.GenerateDirUnit(t, tc.root, "Inspected", testgen.DirOptions{
		PageCount: 2,
		Metadata:  &testgen.Metadata{Title: "From Sidecar"},
	})

	in, err := tc.scanner.Inspect(tc.ctx, dir)
	require.NoError(t, err)
	assert.True(t, in.Unit)
	assert.False(t, in.Archive)
	assert.Equal(t, 2, in.PageCount)
	assert.Equal(t, "From Sidecar", in.Title)
	assert.Equal(t, sidecar.SourceInside, in.Source)

	empty := testgen.CreateSubDir(t, tc.root, "Empty")
	in, err = tc.scanner.Inspect(tc.ctx, empty)
	require.NoError(t, err)
	assert.False(t, in.Unit)

	count, err := tc.db.NewSelect().Model((*models.Book)(nil)).Count(tc.ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
