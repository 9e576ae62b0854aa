package books

import (
	"context"
	"testing"

	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankobon/tankobon/internal/testgen"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/models"
)

func createBook(t *testing.T, svc *Service, path string) *models.Book {
	t.Helper()
	book := &models.Book{Filepath: path, Title: path, PageCount: 1}
	require.NoError(t, svc.CreateBook(context.Background(), book))
	return book
}

func TestCreateAndRetrieveBook(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(testgen.NewTestDB(t))

	book := createBook(t, svc, "/lib/A")
	assert.NotZero(t, book.ID)
	assert.False(t, book.AddedAt.IsZero())

	got, err := svc.RetrieveBook(ctx, RetrieveBookOptions{Filepath: pointerutil.String("/lib/A")})
	require.NoError(t, err)
	assert.Equal(t, book.ID, got.ID)

	_, err = svc.RetrieveBook(ctx, RetrieveBookOptions{Filepath: pointerutil.String("/lib/missing")})
	assert.True(t, errcodes.HasCode(err, errcodes.CodeNotFound))
}

func TestCreateBook_FilepathUnique(t *testing.T) {
	t.Parallel()
	svc := NewService(testgen.NewTestDB(t))

	createBook(t, svc, "/lib/A")
	err := svc.CreateBook(context.Background(), &models.Book{Filepath: "/lib/A", Title: "again"})
	assert.Error(t, err)
}

func TestFindOrCreate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(testgen.NewTestDB(t))

	first, err := svc.FindOrCreate(ctx, RelationArtists, "Artist")
	require.NoError(t, err)
	second, err := svc.FindOrCreate(ctx, RelationArtists, "Artist")
	require.NoError(t, err)
	other, err := svc.FindOrCreate(ctx, RelationArtists, "artist")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)

	// Groups is a keyword in newer SQLite; make sure it's quoted.
	_, err = svc.FindOrCreate(ctx, RelationGroups, "Circle")
	require.NoError(t, err)
}

func TestReplaceLinks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(testgen.NewTestDB(t))
	book := createBook(t, svc, "/lib/A")

	changed, err := svc.ReplaceLinks(ctx, book.ID, Links{
		Artists: []string{"B", "A", "A"},
		Tags:    []string{"tag"},
		Groups:  []string{"Circle"},
	})
	require.NoError(t, err)
	assert.True(t, changed)

	links, err := svc.RetrieveLinks(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, links.Artists)
	assert.Equal(t, []string{"tag"}, links.Tags)
	assert.Equal(t, []string{"Circle"}, links.Groups)
	assert.Empty(t, links.Characters)

	changed, err = svc.ReplaceLinks(ctx, book.ID, Links{Artists: []string{"A", "B"}, Tags: []string{"tag"}, Groups: []string{"Circle"}})
	require.NoError(t, err)
	assert.False(t, changed)

	// Replacement, not merge.
	changed, err = svc.ReplaceLinks(ctx, book.ID, Links{Artists: []string{"C"}})
	require.NoError(t, err)
	assert.True(t, changed)

	links, err = svc.RetrieveLinks(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, links.Artists)
	assert.Empty(t, links.Tags)
	assert.Empty(t, links.Groups)

	got, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &book.ID})
	require.NoError(t, err)
	require.Len(t, got.Artists, 1)
	assert.Equal(t, "C", got.Artists[0].Name)
}

func TestResolveSeriesID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(testgen.NewTestDB(t))

	id, err := svc.ResolveSeriesID(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, id)

	id, err = svc.ResolveSeriesID(ctx, []string{"First", "Second"})
	require.NoError(t, err)
	require.NotNil(t, id)

	again, err := svc.FindOrCreate(ctx, RelationSeries, "First")
	require.NoError(t, err)
	assert.Equal(t, *id, again)
}

func TestListBooksUnder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(testgen.NewTestDB(t))

	createBook(t, svc, "/lib/A")
	createBook(t, svc, "/lib/sub/B.cbz")
	createBook(t, svc, "/lib2/C")
	createBook(t, svc, "/LIB/D")
	createBook(t, svc, "/li_/E")

	books, err := svc.ListBooksUnder(ctx, "/lib")
	require.NoError(t, err)
	paths := make([]string, 0, len(books))
	for _, b := range books {
		paths = append(paths, b.Filepath)
	}
	assert.ElementsMatch(t, []string{"/lib/A", "/lib/sub/B.cbz"}, paths)

	books, err = svc.ListBooks(ctx, ListBooksOptions{UnderPath: pointerutil.String("/lib/sub/")})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "/lib/sub/B.cbz", books[0].Filepath)
}

func TestDeleteBooks_RemovesDependents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testgen.NewTestDB(t)
	svc := NewService(db)

	keep := createBook(t, svc, "/lib/keep")
	gone := createBook(t, svc, "/lib/gone")
	for _, b := range []*models.Book{keep, gone} {
		_, err := svc.ReplaceLinks(ctx, b.ID, Links{Artists: []string{"A"}, Tags: []string{"t"}, Characters: []string{"c"}, Groups: []string{"g"}})
		require.NoError(t, err)
		_, err = svc.RecordRead(ctx, b.ID, 3)
		require.NoError(t, err)
	}

	require.NoError(t, svc.DeleteBooks(ctx, []int{gone.ID}))

	_, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &gone.ID})
	assert.True(t, errcodes.HasCode(err, errcodes.CodeNotFound))

	for _, rel := range LinkRelations {
		count, err := db.NewSelect().TableExpr(rel.LinkTable).Where("book_id = ?", gone.ID).Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count, rel.LinkTable)
	}
	history, err := svc.ListReadHistory(ctx, gone.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	// The other book and the shared lookup rows survive.
	links, err := svc.RetrieveLinks(ctx, keep.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, links.Artists)
	history, err = svc.ListReadHistory(ctx, keep.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestUpdateCoverPaths(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(testgen.NewTestDB(t))
	book := createBook(t, svc, "/lib/A")

	require.NoError(t, svc.UpdateCoverPaths(ctx, map[int]string{book.ID: "/thumbs/1.jpg"}))

	got, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &book.ID})
	require.NoError(t, err)
	require.NotNil(t, got.CoverImagePath)
	assert.Equal(t, "/thumbs/1.jpg", *got.CoverImagePath)
}

func TestRecordRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(testgen.NewTestDB(t))
	book := createBook(t, svc, "/lib/A")

	_, err := svc.RecordRead(ctx, book.ID, 5)
	require.NoError(t, err)

	got, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &book.ID})
	require.NoError(t, err)
	assert.NotNil(t, got.LastReadAt)

	_, err = svc.RecordRead(ctx, 9999, 1)
	assert.True(t, errcodes.HasCode(err, errcodes.CodeNotFound))
}

func TestUpdateBook_NotFound(t *testing.T) {
	t.Parallel()
	svc := NewService(testgen.NewTestDB(t))
	err := svc.UpdateBook(context.Background(), &models.Book{ID: 42, Favorite: true}, UpdateBookOptions{Columns: []string{"favorite"}})
	assert.True(t, errcodes.HasCode(err, errcodes.CodeNotFound))
}
