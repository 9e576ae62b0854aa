package sidecar

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankobon/tankobon/internal/testgen"
)

func TestBesidePath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/lib/Book.metadata.json", BesidePath(Unit{Path: "/lib/Book.cbz", Archive: true}))
	assert.Equal(t, "/lib/Vol. 1.metadata.json", BesidePath(Unit{Path: "/lib/Vol. 1"}))
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m, err := ParseJSON([]byte(`{"title":"  Foo ","artists":["A","A","B"],"series":["S1","S2"],"unknown":1}`))
	require.NoError(t, err)
	assert.Equal(t, "Foo", m.Title)
	assert.Equal(t, []string{"A", "B"}, m.Artists)
	assert.Equal(t, []string{"S1", "S2"}, m.Series)

	_, err = ParseJSON([]byte(`{"title": `))
	assert.Error(t, err)
	_, err = ParseJSON([]byte(`["not", "an", "object"]`))
	assert.Error(t, err)
}

func TestParseComicInfo(t *testing.T) {
	t.Parallel()
	m, err := ParseComicInfo([]byte(`<?xml version="1.0"?>
<ComicInfo>
  <Title>Comic</Title>
  <Series>Saga</Series>
  <Writer>Writer A</Writer>
  <Penciller>Artist B, Writer A</Penciller>
  <Teams>Circle</Teams>
  <Characters>Hero; Villain</Characters>
  <Tags>action</Tags>
  <Genre>drama</Genre>
  <LanguageISO>ja</LanguageISO>
  <Manga>YesAndRightToLeft</Manga>
</ComicInfo>`))
	require.NoError(t, err)
	assert.Equal(t, "Comic", m.Title)
	assert.Equal(t, []string{"Writer A", "Artist B"}, m.Artists)
	assert.Equal(t, []string{"Circle"}, m.Groups)
	assert.Equal(t, []string{"Hero", "Villain"}, m.Characters)
	assert.Equal(t, []string{"action", "drama"}, m.Tags)
	assert.Equal(t, []string{"Saga"}, m.Series)
	assert.Equal(t, "ja", m.Language)
	assert.Equal(t, "manga", m.Type)

	_, err = ParseComicInfo([]byte("<ComicInfo><Title>"))
	assert.Error(t, err)
}

func TestWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, Write(dir, &Metadata{Title: "Downloaded", Artists: []string{"A"}}))

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	m, err := ParseJSON(data)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, m.Version)
	assert.Equal(t, "Downloaded", m.Title)
}

func TestResolve_Precedence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()

	dir := testgen.GenerateDirUnit(t, root, "Folder", testgen.DirOptions{
		PageCount: 1,
		Metadata:  &testgen.Metadata{Title: "Inside", Artists: []string{"In"}},
	})
	testgen.WriteSidecar(t, filepath.Join(root, "Folder.metadata.json"), testgen.Metadata{Title: "Beside", Tags: []string{"t"}})

	m, source := Resolve(ctx, Unit{Path: dir}, DefaultResolvers())
	require.NotNil(t, m)
	assert.Equal(t, SourceInside, source)
	assert.Equal(t, "Inside", m.Title)
	// No field-level merging with the beside sidecar.
	assert.Empty(t, m.Tags)
}

func TestResolve_MalformedFallsThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()

	dir := testgen.GenerateDirUnit(t, root, "Folder", testgen.DirOptions{PageCount: 1, RawMetadata: "{broken"})
	testgen.WriteSidecar(t, filepath.Join(root, "Folder.metadata.json"), testgen.Metadata{Title: "Beside"})

	m, source := Resolve(ctx, Unit{Path: dir}, DefaultResolvers())
	require.NotNil(t, m)
	assert.Equal(t, SourceBeside, source)
	assert.Equal(t, "Beside", m.Title)
}

func TestResolve_ArchiveSources(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()

	both := testgen.GenerateArchive(t, root, "Both.cbz", testgen.ArchiveOptions{
		Metadata:  &testgen.Metadata{Title: "Embedded"},
		ComicInfo: &testgen.ComicInfoOptions{Title: "From ComicInfo"},
	})
	m, source := Resolve(ctx, Unit{Path: both, Archive: true}, DefaultResolvers())
	require.NotNil(t, m)
	assert.Equal(t, SourceEmbeddedJSON, source)
	assert.Equal(t, "Embedded", m.Title)

	testgen.WriteSidecar(t, filepath.Join(root, "Both.metadata.json"), testgen.Metadata{Title: "Beside"})
	m, source = Resolve(ctx, Unit{Path: both, Archive: true}, DefaultResolvers())
	require.NotNil(t, m)
	assert.Equal(t, SourceBeside, source)
	assert.Equal(t, "Beside", m.Title)

	comic := testgen.GenerateArchive(t, root, "Comic.cbz", testgen.ArchiveOptions{
		ComicInfo: &testgen.ComicInfoOptions{Title: "From ComicInfo"},
	})
	m, source = Resolve(ctx, Unit{Path: comic, Archive: true}, DefaultResolvers())
	require.NotNil(t, m)
	assert.Equal(t, SourceComicInfo, source)
	assert.Equal(t, "From ComicInfo", m.Title)

	plain := testgen.GenerateArchive(t, root, "Plain.cbz", testgen.ArchiveOptions{})
	m, source = Resolve(ctx, Unit{Path: plain, Archive: true}, DefaultResolvers())
	assert.Nil(t, m)
	assert.Equal(t, SourceNone, source)
}

func TestResolve_InsideIgnoredForArchives(t *testing.T) {
	t.Parallel()
	m, err := resolveInside(Unit{Path: "/nowhere/Book.cbz", Archive: true})
	assert.NoError(t, err)
	assert.Nil(t, m)
}
