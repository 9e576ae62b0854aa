package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tankobon/tankobon/pkg/fileutils"
	"github.com/tankobon/tankobon/pkg/sidecar"
)

// Gallery is the remote catalog's description of one downloadable item.
type Gallery struct {
	ID       int    `json:"id"`
	MediaID  string `json:"media_id"`
	Title    Title  `json:"title"`
	Images   Images `json:"images"`
	Tags     []Tag  `json:"tags"`
	NumPages int    `json:"num_pages"`
}

type Title struct {
	English  string `json:"english"`
	Japanese string `json:"japanese"`
	Pretty   string `json:"pretty"`
}

type Images struct {
	Pages []Image `json:"pages"`
	Cover Image   `json:"cover"`
}

// Image is a page entry. T is a one-letter format code.
type Image struct {
	T string `json:"t"`
	W int    `json:"w"`
	H int    `json:"h"`
}

type Tag struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

const (
	tagTypeArtist    = "artist"
	tagTypeGroup     = "group"
	tagTypeCharacter = "character"
	tagTypeTag       = "tag"
	tagTypeParody    = "parody"
	tagTypeLanguage  = "language"
	tagTypeCategory  = "category"
)

// Extension maps a page format code to a file extension. Unknown codes are
// treated as jpg.
func (img Image) Extension() string {
	switch img.T {
	case "p":
		return "png"
	case "g":
		return "gif"
	case "w":
		return "webp"
	default:
		return "jpg"
	}
}

// DisplayTitle prefers the short title.
func (g *Gallery) DisplayTitle() string {
	for _, t := range []string{g.Title.Pretty, g.Title.English, g.Title.Japanese} {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return strconv.Itoa(g.ID)
}

// PageURL is the URL of page n, counted from 1.
func (g *Gallery) PageURL(imageBaseURL string, n int) string {
	img := g.Images.Pages[n-1]
	return fmt.Sprintf("%s/galleries/%s/%d.%s", strings.TrimRight(imageBaseURL, "/"), g.MediaID, n, img.Extension())
}

// PageFilename is the name page n is stored under. Zero padding keeps the
// natural order obvious to other tools.
func (g *Gallery) PageFilename(n int) string {
	return fmt.Sprintf("%03d.%s", n, g.Images.Pages[n-1].Extension())
}

func (g *Gallery) tagNames(typ string) []string {
	names := []string{}
	for _, t := range g.Tags {
		if t.Type == typ {
			names = append(names, t.Name)
		}
	}
	return fileutils.UniqueNames(names)
}

// Artists lists the gallery's artist tags.
func (g *Gallery) Artists() []string {
	return g.tagNames(tagTypeArtist)
}

// Metadata converts the gallery into the sidecar written next to its pages.
func (g *Gallery) Metadata() *sidecar.Metadata {
	m := &sidecar.Metadata{
		Version:    sidecar.CurrentVersion,
		Title:      g.DisplayTitle(),
		CatalogID:  strconv.Itoa(g.ID),
		Artists:    g.Artists(),
		Groups:     g.tagNames(tagTypeGroup),
		Characters: g.tagNames(tagTypeCharacter),
		Tags:       g.tagNames(tagTypeTag),
		Series:     g.tagNames(tagTypeParody),
	}
	for _, lang := range g.tagNames(tagTypeLanguage) {
		if lang != "translated" && lang != "rewrite" {
			m.Language = lang
			break
		}
	}
	if categories := g.tagNames(tagTypeCategory); len(categories) > 0 {
		m.Type = categories[0]
	}
	return m
}
